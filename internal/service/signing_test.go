package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/leaseflow/internal/crypto"
	"github.com/and161185/leaseflow/internal/errs"
	"github.com/and161185/leaseflow/internal/model"
	"github.com/and161185/leaseflow/internal/notify"
	"github.com/and161185/leaseflow/internal/repository"
	"github.com/and161185/leaseflow/internal/workflow"
)

func TestParseMethod(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"email", "sms", "both"} {
		m, err := ParseMethod(s)
		require.NoError(t, err)
		require.Equal(t, Method(s), m)
	}
	_, err := ParseMethod("fax")
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = ParseMethod("")
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func tokenOf(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	return u.Query().Get("token")
}

func TestSigning_InitiateSendsLink(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	l := e.leaseIn(t, workflow.Approved)

	res, err := e.signing.Initiate(ctx, l.ID, MethodBoth, staff)
	require.NoError(t, err)
	require.True(t, res.Sent)
	require.Equal(t, workflow.SentDigital, res.State)
	require.Equal(t, e.clock.Now().Add(72*time.Hour), res.LinkExpiresAt)

	require.Len(t, e.sender.sent, 2)
	require.Equal(t, notify.SMS, e.sender.sent[0].Channel)
	require.Equal(t, notify.Email, e.sender.sent[1].Channel)
	require.Equal(t, "jane@example.com", e.sender.sent[1].To)
	require.NotEmpty(t, e.sender.sent[1].Meta["subject"])

	tenantID, err := e.signing.VerifyLink(ctx, l.ID, tokenFromBody(t, e.sender.sent[0].Body))
	require.NoError(t, err)
	require.Equal(t, l.TenantID, tenantID)

	actions := e.auditActions(t, l.ID)
	require.Equal(t, model.ActionSigningInitiated, actions[len(actions)-1])

	// a second call re-sends without a transition
	res, err = e.signing.Initiate(ctx, l.ID, MethodSMS, staff)
	require.NoError(t, err)
	require.Equal(t, workflow.SentDigital, res.State)
	require.Len(t, e.sender.sent, 3)
}

func tokenFromBody(t *testing.T, body string) string {
	t.Helper()
	m := strings.TrimSuffix(linkRe.FindString(body), ".")
	require.NotEmpty(t, m)
	return tokenOf(t, m)
}

func TestSigning_InitiateFromDraftFails(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	l := e.lease(t, true)

	_, err := e.signing.Initiate(context.Background(), l.ID, MethodSMS, staff)
	require.ErrorIs(t, err, errs.ErrInvalidTransition)
	require.Empty(t, e.sender.sent)
}

func TestSigning_InitiateSendFailureStillTransitions(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	l := e.leaseIn(t, workflow.Approved)
	e.sender.sendErr = errors.New("down")

	res, err := e.signing.Initiate(ctx, l.ID, MethodSMS, staff)
	require.NoError(t, err)
	require.False(t, res.Sent)

	got, err := e.store.GetLease(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, workflow.SentDigital, got.WorkflowState)

	err = e.signing.SendSigningLink(ctx, l.ID, MethodSMS)
	require.ErrorIs(t, err, errs.ErrSendingFailure)
}

func TestSigning_SendSigningLinkNoContact(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	l := e.leaseIn(t, workflow.SentDigital)
	l2, err := e.sm.CreateLease(context.Background(), NewLease{
		ReferenceNumber: "LSE-NOEMAIL",
		TenantID:        uuid.Must(uuid.NewV4()),
		TenantPhone:     "0712345678",
		StartDate:       l.StartDate,
		EndDate:         l.EndDate,
	}, staff)
	require.NoError(t, err)

	err = e.signing.SendSigningLink(context.Background(), l2.ID, MethodEmail)
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestSigning_VerifyLinkRejectsOtherLease(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	a := e.leaseIn(t, workflow.Approved)
	b := e.leaseIn(t, workflow.Approved)

	link, err := e.signing.GenerateSigningLink(ctx, a.ID, time.Hour)
	require.NoError(t, err)

	_, err = e.signing.VerifyLink(ctx, b.ID, link.Token)
	require.ErrorIs(t, err, errs.ErrLinkInvalid)

	e.clock.Advance(2 * time.Hour)
	_, err = e.signing.VerifyLink(ctx, a.ID, link.Token)
	require.ErrorIs(t, err, errs.ErrLinkInvalid)
}

func TestSigning_CaptureRequiresVerifiedOTP(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	l := e.leaseIn(t, workflow.SentDigital)

	_, err := e.signing.CaptureSignature(ctx, l.ID, SignatureInput{Data: []byte("sig")}, tenant)
	require.ErrorIs(t, err, errs.ErrVerificationFailed)

	_, err = e.store.LatestSignature(ctx, l.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
	got, err := e.store.GetLease(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, workflow.SentDigital, got.WorkflowState)
}

func TestSigning_FullSequence(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	l := e.leaseIn(t, workflow.Approved)

	_, err := e.signing.Initiate(ctx, l.ID, MethodSMS, staff)
	require.NoError(t, err)
	require.NoError(t, e.signing.RequestOTP(ctx, l.ID, tenant))

	ok, err := e.signing.VerifyOTP(ctx, l.ID, e.lastCode(t), tenant)
	require.NoError(t, err)
	require.True(t, ok)

	st, err := e.signing.Status(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, workflow.PendingOTP, st.State)
	require.True(t, st.OTPVerified)
	require.True(t, st.CanSign)
	require.Equal(t, LinkActive, st.LinkState)
	require.False(t, st.HasSignature)

	lat, lng := -1.2921, 36.8219
	sig, err := e.signing.CaptureSignature(ctx, l.ID, SignatureInput{Data: []byte("png"), Latitude: &lat, Longitude: &lng}, tenant)
	require.NoError(t, err)
	require.Len(t, sig.ContentHash, 64)
	require.Equal(t, l.TenantID, sig.TenantID)
	require.NotNil(t, sig.OTPID)

	st, err = e.signing.Status(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, workflow.TenantSigned, st.State)
	require.True(t, st.HasSignature)
	require.Equal(t, LinkUsed, st.LinkState)

	_, err = e.signing.CaptureSignature(ctx, l.ID, SignatureInput{Data: []byte("png")}, tenant)
	require.ErrorIs(t, err, errs.ErrAlreadySigned)
}

func TestSigning_CaptureFromSentDigitalChainsTransitions(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	l := e.leaseIn(t, workflow.SentDigital)

	_, err := e.otp.GenerateAndSend(ctx, l.ID, "", "", tenant)
	require.NoError(t, err)
	ok, err := e.otp.Verify(ctx, l.ID, e.lastCode(t), tenant)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = e.signing.CaptureSignature(ctx, l.ID, SignatureInput{Data: []byte("x")}, tenant)
	require.NoError(t, err)

	entries, err := e.store.ListAudit(ctx, l.ID)
	require.NoError(t, err)
	var path []workflow.State
	for _, a := range entries {
		if a.Action == model.ActionStateTransition {
			path = append(path, *a.NewState)
		}
	}
	require.Equal(t, []workflow.State{
		workflow.Approved, workflow.SentDigital, workflow.PendingOTP, workflow.TenantSigned,
	}, path)
}

func TestSigning_CaptureValidation(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	l := e.leaseIn(t, workflow.SentDigital)
	lat := 1.0

	_, err := e.signing.CaptureSignature(context.Background(), l.ID, SignatureInput{}, tenant)
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = e.signing.CaptureSignature(context.Background(), l.ID, SignatureInput{Data: []byte("x"), Latitude: &lat}, tenant)
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestLinkStateOf(t *testing.T) {
	t.Parallel()
	cases := map[workflow.State]LinkState{
		workflow.Draft:                  LinkNotIssued,
		workflow.Approved:               LinkNotIssued,
		workflow.SentDigital:            LinkActive,
		workflow.PendingTenantSignature: LinkActive,
		workflow.Disputed:               LinkSuspended,
		workflow.TenantSigned:           LinkUsed,
		workflow.Active:                 LinkUsed,
		workflow.Cancelled:              LinkRevoked,
	}
	for st, want := range cases {
		require.Equal(t, want, linkStateOf(st), st)
	}
}

func (e *env) signedLease(t *testing.T, img []byte) *model.Lease {
	t.Helper()
	ctx := context.Background()
	l := e.leaseIn(t, workflow.SentDigital)
	require.NoError(t, e.signing.RequestOTP(ctx, l.ID, tenant))
	ok, err := e.signing.VerifyOTP(ctx, l.ID, e.lastCode(t), tenant)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = e.signing.CaptureSignature(ctx, l.ID, SignatureInput{Data: img}, tenant)
	require.NoError(t, err)
	return l
}

func TestSigning_SignatureSealedAtRest(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	sealer, err := crypto.NewSealer([]byte("test-signing-key"), "signature-data")
	require.NoError(t, err)
	e.signing.cfg.Sealer = sealer
	ctx := context.Background()
	// sub-microsecond clock digits are not kept by the database
	e.clock.Advance(1234 * time.Nanosecond)

	img := []byte("\x89PNG signature strokes")
	l := e.signedLease(t, img)

	stored, err := e.store.LatestSignature(ctx, l.ID)
	require.NoError(t, err)
	require.NotContains(t, string(stored.Data), "signature strokes")
	require.Zero(t, stored.SignedAt.Nanosecond()%1000)
	require.Equal(t, 1, stored.DocumentVersion)

	rec, err := e.signing.Signature(ctx, l.ID)
	require.NoError(t, err)
	require.True(t, rec.Intact)
	require.Equal(t, img, rec.Image)
	require.Equal(t, stored.ContentHash, rec.Signature.ContentHash)

	ok, err := e.signing.VerifySignature(ctx, l.ID)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSigning_VerifySignatureDetectsTampering(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	forge := func(t *testing.T, e *env, leaseID uuid.UUID, mutate func(*model.Signature)) {
		t.Helper()
		orig, err := e.store.LatestSignature(ctx, leaseID)
		require.NoError(t, err)
		forged := *orig
		forged.Data = append([]byte(nil), orig.Data...)
		forged.SignedAt = orig.SignedAt.Add(time.Second)
		mutate(&forged)
		require.NoError(t, e.store.Atomic(ctx, func(ctx context.Context, tx repository.Tx) error {
			return tx.InsertSignature(ctx, &forged)
		}))
	}

	t.Run("image replaced", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		l := e.signedLease(t, []byte("original strokes"))
		forge(t, e, l.ID, func(s *model.Signature) {
			s.ID = uuid.Must(uuid.NewV4())
			s.Data = []byte("other strokes")
		})

		ok, err := e.signing.VerifySignature(ctx, l.ID)
		require.NoError(t, err)
		require.False(t, ok)
		rec, err := e.signing.Signature(ctx, l.ID)
		require.NoError(t, err)
		require.Nil(t, rec.Image)
	})

	t.Run("sealed blob moved to another record", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		sealer, err := crypto.NewSealer([]byte("test-signing-key"), "signature-data")
		require.NoError(t, err)
		e.signing.cfg.Sealer = sealer
		l := e.signedLease(t, []byte("original strokes"))
		forge(t, e, l.ID, func(s *model.Signature) { s.ID = uuid.Must(uuid.NewV4()) })

		ok, err := e.signing.VerifySignature(ctx, l.ID)
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func TestSigning_SignatureMissing(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	l := e.leaseIn(t, workflow.SentDigital)

	_, err := e.signing.Signature(ctx, l.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = e.signing.VerifySignature(ctx, uuid.Must(uuid.NewV4()))
	require.ErrorIs(t, err, errs.ErrNotFound)
}
