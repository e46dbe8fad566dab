package service

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/leaseflow/internal/model"
	"github.com/and161185/leaseflow/internal/notify"
	"github.com/and161185/leaseflow/internal/repository"
	"github.com/and161185/leaseflow/internal/repository/memory"
	"github.com/and161185/leaseflow/internal/signlink"
	"github.com/and161185/leaseflow/internal/workflow"
)

type fakeSender struct {
	mu      sync.Mutex
	sent    []notify.Message
	queued  []notify.Message
	sendErr error
}

var _ notify.Sender = (*fakeSender)(nil)

func (f *fakeSender) Send(_ context.Context, m notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return f.sendErr
}

func (f *fakeSender) Enqueue(m notify.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued = append(f.queued, m)
}

func (f *fakeSender) last(t *testing.T) notify.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

func (f *fakeSender) queuedCopy() []notify.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.Message(nil), f.queued...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type env struct {
	store     *memory.Store
	clock     *testClock
	sender    *fakeSender
	audit     *AuditLog
	sm        *StateMachineImpl
	approvals *ApprovalServiceImpl
	otp       *OTPServiceImpl
	signing   *SigningServiceImpl
	edits     *EditTracker
	disputes  *DisputeServiceImpl
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := zaptest.NewLogger(t)
	e := &env{
		store:  memory.New(),
		clock:  &testClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
		sender: &fakeSender{},
	}
	now := e.clock.Now
	e.audit = NewAuditLog(e.store, now)
	e.sm = NewStateMachine(e.store, e.audit, log, now)
	e.approvals = NewApprovalService(e.store, e.sm, e.audit, now)
	e.otp = NewOTPService(e.store, e.audit, e.sender, DefaultOTPConfig(), now, log)
	links := signlink.New([]byte("test-signing-key-0123456789abcdef"), "https://leases.example.com")
	e.signing = NewSigningService(e.store, e.sm, e.audit, e.otp, links, e.sender,
		SigningConfig{LinkExpiry: 72 * time.Hour, DefaultMethod: MethodSMS}, now, log)
	e.edits = NewEditTracker(e.store, e.audit, now)
	e.disputes = NewDisputeService(e.store, e.sm, e.audit, e.edits, e.signing, now, log)
	return e
}

var staff = model.UserActor(uuid.Must(uuid.NewV4()), model.RoleStaff, "10.0.0.1", "test")

func (e *env) lease(t *testing.T, withLandlord bool) *model.Lease {
	t.Helper()
	in := NewLease{
		ReferenceNumber: "LSE-" + uuid.Must(uuid.NewV4()).String()[:8],
		TenantID:        uuid.Must(uuid.NewV4()),
		TenantName:      "Jane Wanjiku",
		TenantPhone:     "0712345678",
		TenantEmail:     "jane@example.com",
		MonthlyRent:     2500000,
		DepositAmount:   5000000,
		StartDate:       time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		EndDate:         time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
	}
	if withLandlord {
		id := uuid.Must(uuid.NewV4())
		in.LandlordID = &id
		in.LandlordPhone = "0722000111"
	}
	l, err := e.sm.CreateLease(context.Background(), in, staff)
	require.NoError(t, err)
	return l
}

// leaseIn creates a lease and walks it to st along table edges.
func (e *env) leaseIn(t *testing.T, st workflow.State) *model.Lease {
	t.Helper()
	l := e.lease(t, true)
	path := map[workflow.State][]workflow.State{
		workflow.Draft:                  nil,
		workflow.Approved:               {workflow.Approved},
		workflow.SentDigital:            {workflow.Approved, workflow.SentDigital},
		workflow.PendingOTP:             {workflow.Approved, workflow.SentDigital, workflow.PendingOTP},
		workflow.PendingTenantSignature: {workflow.Approved, workflow.Printed, workflow.CheckedOut, workflow.PendingTenantSignature},
		workflow.Disputed:               {workflow.Approved, workflow.SentDigital, workflow.Disputed},
	}[st]
	for _, s := range path {
		l = e.apply(t, l.ID, s)
	}
	require.Equal(t, st, l.WorkflowState)
	return l
}

// apply runs one transition through the state machine core inside a unit,
// without the operation guard of TransitionTo.
func (e *env) apply(t *testing.T, id uuid.UUID, to workflow.State) *model.Lease {
	t.Helper()
	var out model.Lease
	require.NoError(t, e.store.Atomic(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		l, err := tx.LockLease(ctx, id)
		if err != nil {
			return err
		}
		ev, err := e.sm.Apply(ctx, tx, l, to, staff, nil)
		out = ev.Lease
		return err
	}))
	return &out
}

var (
	codeRe = regexp.MustCompile(`code is: (\d+)`)
	linkRe = regexp.MustCompile(`https://\S+`)
)

func (e *env) lastCode(t *testing.T) string {
	t.Helper()
	m := codeRe.FindStringSubmatch(e.sender.last(t).Body)
	require.Len(t, m, 2)
	return m[1]
}

func (e *env) auditActions(t *testing.T, leaseID uuid.UUID) []string {
	t.Helper()
	entries, err := e.store.ListAudit(context.Background(), leaseID)
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for _, a := range entries {
		out = append(out, a.Action)
	}
	return out
}
