package convert

import (
	"testing"
	"time"

	u "github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/leaseflow/internal/errs"
	"github.com/and161185/leaseflow/internal/model"
	"github.com/and161185/leaseflow/internal/service"
	"github.com/and161185/leaseflow/internal/workflow"
)

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func TestScalarFields(t *testing.T) {
	t.Parallel()
	id := u.Must(u.NewV4())
	in := mustStruct(t, map[string]any{
		"lease_id":  id.String(),
		"bad_id":    "nope",
		"rent":      2500000.0,
		"frac":      1.5,
		"lat":       -1.29,
		"start":     "2025-04-01",
		"stamp":     "2025-04-01T10:00:00Z",
		"sig":       "aGVsbG8=",
		"landlord":  nil,
		"extra":     map[string]any{"k": "v"},
		"not_a_num": "12",
	})

	got, err := UUID(in, "lease_id")
	require.NoError(t, err)
	require.Equal(t, id, got)

	_, err = UUID(in, "bad_id")
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = UUID(in, "missing")
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	p, err := UUIDPtr(in, "landlord")
	require.NoError(t, err)
	require.Nil(t, p)

	n, err := Int64(in, "rent")
	require.NoError(t, err)
	require.Equal(t, int64(2500000), n)
	_, err = Int64Ptr(in, "frac")
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = Int64Ptr(in, "not_a_num")
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	f, err := Float64Ptr(in, "lat")
	require.NoError(t, err)
	require.InDelta(t, -1.29, *f, 1e-9)

	d, err := Time(in, "start")
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), d)
	_, err = Time(in, "stamp")
	require.NoError(t, err)
	_, err = Time(in, "missing")
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	b, err := Bytes(in, "sig")
	require.NoError(t, err)
	require.Equal(t, "hello", string(b))

	require.Equal(t, map[string]any{"k": "v"}, Map(in, "extra"))
	require.Nil(t, Map(in, "missing"))
	require.Equal(t, "", String(nil, "x"))
}

func TestEdits(t *testing.T) {
	t.Parallel()
	in := mustStruct(t, map[string]any{
		"edits": []any{
			map[string]any{"edit_type": "clause_change", "section": "4.1", "new_text": "b"},
			map[string]any{"edit_type": "typo"},
		},
		"bad": []any{"x"},
	})
	got, err := Edits(in, "edits")
	require.NoError(t, err)
	require.Equal(t, []model.Edit{
		{EditType: "clause_change", Section: "4.1", NewText: "b"},
		{EditType: "typo"},
	}, got)

	_, err = Edits(in, "bad")
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestLease(t *testing.T) {
	t.Parallel()
	landlord := u.Must(u.NewV4())
	l := &model.Lease{
		ID:              u.Must(u.NewV4()),
		ReferenceNumber: "LSE-9",
		WorkflowState:   workflow.PendingLandlordApproval,
		LandlordID:      &landlord,
		TenantPhone:     "0712345678",
		MonthlyRent:     100,
		StartDate:       time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		EndDate:         time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		DocumentVersion: 3,
	}
	s, err := Lease(l)
	require.NoError(t, err)
	m := s.AsMap()
	require.Equal(t, "pending_landlord_approval", m["workflow_state"])
	require.Equal(t, landlord.String(), m["landlord_id"])
	require.Equal(t, "+254****678", m["tenant_phone"])
	require.Equal(t, 100.0, m["monthly_rent"])
	require.Equal(t, 3.0, m["document_version"])
	require.Equal(t, "2026-03-31", m["end_date"])
	require.Nil(t, m["created_at"])
}

func TestApprovalAndStatus(t *testing.T) {
	t.Parallel()
	d := model.DecisionRejected
	a := &model.Approval{ID: u.Must(u.NewV4()), Decision: &d, RejectionReason: "x"}
	s, err := Approval(a)
	require.NoError(t, err)
	require.Equal(t, "rejected", s.AsMap()["decision"])

	st, err := SigningStatus(&service.SigningStatus{State: workflow.SentDigital, LinkState: service.LinkActive, CanSign: true})
	require.NoError(t, err)
	require.Equal(t, "active", st.AsMap()["link_state"])
	require.Equal(t, true, st.AsMap()["can_sign"])

	states, err := States([]workflow.State{workflow.Approved, workflow.Cancelled})
	require.NoError(t, err)
	require.Equal(t, []any{"approved", "cancelled"}, states.AsMap()["states"])
}
