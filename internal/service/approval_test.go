package service

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/leaseflow/internal/errs"
	"github.com/and161185/leaseflow/internal/model"
	"github.com/and161185/leaseflow/internal/repository"
	"github.com/and161185/leaseflow/internal/workflow"
)

func TestApproval_RequestThenApprove(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	l := e.lease(t, true)

	req, err := e.approvals.RequestApproval(ctx, l.ID, staff)
	require.NoError(t, err)
	require.True(t, req.Pending())
	require.Equal(t, *l.LandlordID, req.LandlordID)
	require.Contains(t, string(req.PreviousData), `"workflow_state":"draft"`)

	pending, err := e.approvals.PendingApproval(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, req.ID, pending.ID)

	landlord := model.UserActor(*l.LandlordID, model.RoleLandlord, "10.0.0.2", "ua")
	a, err := e.approvals.Approve(ctx, l.ID, "ok", landlord)
	require.NoError(t, err)
	require.Equal(t, req.ID, a.ID)
	require.Equal(t, model.DecisionApproved, *a.Decision)
	require.Equal(t, "ok", a.Comments)
	require.Equal(t, landlord.ID, a.ReviewedBy)
	require.Equal(t, e.clock.Now(), *a.ReviewedAt)

	got, err := e.store.GetLease(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, workflow.Approved, got.WorkflowState)

	_, err = e.approvals.PendingApproval(ctx, l.ID)
	require.ErrorIs(t, err, errs.ErrNoPendingApproval)

	require.Equal(t, []string{
		model.ActionCreated,
		model.ActionStateTransition, model.ActionApprovalRequested,
		model.ActionStateTransition, model.ActionApproved,
	}, e.auditActions(t, l.ID))
}

func TestApproval_RequestWithoutLandlord(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	l := e.lease(t, false)

	_, err := e.approvals.RequestApproval(ctx, l.ID, staff)
	require.ErrorIs(t, err, errs.ErrNoLandlord)
	require.Equal(t, errs.CodeNoLandlord, errs.Code(err))

	_, err = e.store.LatestApproval(ctx, l.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
	got, err := e.store.GetLease(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, workflow.Draft, got.WorkflowState)
}

func TestApproval_RequestTwice(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	l := e.lease(t, true)

	_, err := e.approvals.RequestApproval(ctx, l.ID, staff)
	require.NoError(t, err)
	_, err = e.approvals.RequestApproval(ctx, l.ID, staff)
	require.ErrorIs(t, err, errs.ErrAlreadyPendingApproval)
}

func TestApproval_ApproveTwice(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	l := e.lease(t, true)

	_, err := e.approvals.RequestApproval(ctx, l.ID, staff)
	require.NoError(t, err)
	_, err = e.approvals.Approve(ctx, l.ID, "", staff)
	require.NoError(t, err)
	before := e.auditActions(t, l.ID)

	_, err = e.approvals.Approve(ctx, l.ID, "", staff)
	require.ErrorIs(t, err, errs.ErrAlreadyApproved)
	require.Equal(t, errs.CodeAlreadyApproved, errs.Code(err))
	require.Equal(t, before, e.auditActions(t, l.ID))
}

func TestApproval_ApproveWithoutRequestCreatesRecord(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	l := e.lease(t, true)

	a, err := e.approvals.Approve(ctx, l.ID, "direct", staff)
	require.NoError(t, err)
	require.Equal(t, model.DecisionApproved, *a.Decision)

	latest, err := e.store.LatestApproval(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, a.ID, latest.ID)
}

func TestApproval_ApproveWithoutLandlordOrRequest(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	l := e.lease(t, false)

	_, err := e.approvals.Approve(context.Background(), l.ID, "", staff)
	require.ErrorIs(t, err, errs.ErrNoLandlord)
}

func TestApproval_Reject(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	l := e.lease(t, true)

	_, err := e.approvals.RequestApproval(ctx, l.ID, staff)
	require.NoError(t, err)

	_, err = e.approvals.Reject(ctx, l.ID, "", "", staff)
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	a, err := e.approvals.Reject(ctx, l.ID, "rent too low", "see notes", staff)
	require.NoError(t, err)
	require.Equal(t, model.DecisionRejected, *a.Decision)
	require.Equal(t, "rent too low", a.RejectionReason)

	got, err := e.store.GetLease(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, workflow.Cancelled, got.WorkflowState)

	entries, err := e.store.ListAudit(ctx, l.ID)
	require.NoError(t, err)
	last := entries[len(entries)-1]
	require.Equal(t, model.ActionRejected, last.Action)
	require.Contains(t, last.Description, "rent too low")

	_, err = e.approvals.Reject(ctx, l.ID, "again", "", staff)
	require.ErrorIs(t, err, errs.ErrAlreadyRejected)
}

func TestApproval_DecisionRollsBackWithInvalidTransition(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	l := e.leaseIn(t, workflow.SentDigital)

	_, err := e.approvals.Approve(ctx, l.ID, "", staff)
	require.ErrorIs(t, err, errs.ErrInvalidTransition)

	_, err = e.store.LatestApproval(ctx, l.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestApproval_EarlierDecisionBehindNewerRequest(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	l := e.lease(t, true)

	_, err := e.approvals.RequestApproval(ctx, l.ID, staff)
	require.NoError(t, err)

	for _, d := range []model.Decision{model.DecisionApproved, model.DecisionRejected} {
		d := d
		err = e.store.Atomic(ctx, func(ctx context.Context, tx repository.Tx) error {
			at := e.clock.Now().Add(-time.Hour)
			return tx.InsertApproval(ctx, &model.Approval{
				ID:         uuid.Must(uuid.NewV4()),
				LeaseID:    l.ID,
				LandlordID: *l.LandlordID,
				Decision:   &d,
				ReviewedBy: staff.ID,
				ReviewedAt: &at,
				CreatedAt:  at,
			})
		})
		require.NoError(t, err)
	}

	latest, err := e.store.LatestApproval(ctx, l.ID)
	require.NoError(t, err)
	require.True(t, latest.Pending())

	_, err = e.approvals.Approve(ctx, l.ID, "", staff)
	require.ErrorIs(t, err, errs.ErrAlreadyApproved)
	_, err = e.approvals.Reject(ctx, l.ID, "late", "", staff)
	require.ErrorIs(t, err, errs.ErrAlreadyRejected)

	got, err := e.store.GetLease(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, workflow.PendingLandlordApproval, got.WorkflowState)
}
