package postgres

import (
	"context"
	"encoding/json"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/leaseflow/internal/errs"
	"github.com/and161185/leaseflow/internal/model"
	"github.com/and161185/leaseflow/internal/workflow"
)

// ListAudit returns audit entries for a lease, oldest first.
func (r queries) ListAudit(ctx context.Context, leaseID uuid.UUID) ([]model.AuditEntry, error) {
	const q = `
SELECT id, lease_id, action, old_state, new_state, actor_id, actor_role, ip, user_agent,
  payload, description, created_at
FROM lease_audit_logs
WHERE lease_id=$1
ORDER BY created_at ASC, seq ASC`
	rows, err := r.q.Query(ctx, q, leaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var (
			e        model.AuditEntry
			oldState *string
			newState *string
			actor    uuid.NullUUID
			payload  []byte
		)
		if err = rows.Scan(&e.ID, &e.LeaseID, &e.Action, &oldState, &newState, &actor, &e.ActorRole,
			&e.IP, &e.UserAgent, &payload, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.OldState = statePtr(oldState)
		e.NewState = statePtr(newState)
		if actor.Valid {
			id := actor.UUID
			e.ActorID = &id
		}
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

// AppendAudit inserts an audit entry.
func (t *pgTx) AppendAudit(ctx context.Context, e *model.AuditEntry) error {
	const q = `
INSERT INTO lease_audit_logs (id, lease_id, action, old_state, new_state, actor_id, actor_role,
  ip, user_agent, payload, description, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err := t.q.Exec(ctx, q,
		e.ID, e.LeaseID, e.Action, stateArg(e.OldState), stateArg(e.NewState), e.ActorID, e.ActorRole,
		e.IP, e.UserAgent, []byte(e.Payload), e.Description, e.CreatedAt,
	)
	return err
}

// ListEdits returns lease edits, oldest first.
func (r queries) ListEdits(ctx context.Context, leaseID uuid.UUID) ([]model.LeaseEdit, error) {
	const q = `
SELECT id, lease_id, edit_type, section, original_text, new_text, reason,
  document_version, edited_by, created_at
FROM lease_edits
WHERE lease_id=$1
ORDER BY document_version ASC, seq ASC`
	rows, err := r.q.Query(ctx, q, leaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LeaseEdit
	for rows.Next() {
		var (
			e  model.LeaseEdit
			by uuid.NullUUID
		)
		if err = rows.Scan(&e.ID, &e.LeaseID, &e.EditType, &e.Section, &e.OriginalText, &e.NewText,
			&e.Reason, &e.DocumentVersion, &by, &e.CreatedAt); err != nil {
			return nil, err
		}
		if by.Valid {
			id := by.UUID
			e.EditedBy = &id
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// InsertEdits stores a batch of edits with one round trip.
func (t *pgTx) InsertEdits(ctx context.Context, edits []model.LeaseEdit) error {
	const q = `
INSERT INTO lease_edits (id, lease_id, edit_type, section, original_text, new_text, reason,
  document_version, edited_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	b := &pgx.Batch{}
	for _, e := range edits {
		b.Queue(q, e.ID, e.LeaseID, e.EditType, e.Section, e.OriginalText, e.NewText, e.Reason,
			e.DocumentVersion, e.EditedBy, e.CreatedAt)
	}
	return t.tx.SendBatch(ctx, b).Close()
}

// LatestSignature returns the newest signature by signed time.
func (r queries) LatestSignature(ctx context.Context, leaseID uuid.UUID) (*model.Signature, error) {
	const q = `
SELECT id, lease_id, tenant_id, otp_id, signature_data, latitude, longitude,
  content_hash, ip, user_agent, signed_at, document_version
FROM digital_signatures
WHERE lease_id=$1
ORDER BY signed_at DESC LIMIT 1`
	var (
		s   model.Signature
		otp uuid.NullUUID
	)
	err := r.q.QueryRow(ctx, q, leaseID).Scan(&s.ID, &s.LeaseID, &s.TenantID, &otp, &s.Data,
		&s.Latitude, &s.Longitude, &s.ContentHash, &s.IP, &s.UserAgent, &s.SignedAt, &s.DocumentVersion)
	if err != nil {
		return nil, notFound(err, errs.ErrNotFound)
	}
	if otp.Valid {
		id := otp.UUID
		s.OTPID = &id
	}
	return &s, nil
}

// InsertSignature stores a captured signature.
func (t *pgTx) InsertSignature(ctx context.Context, s *model.Signature) error {
	const q = `
INSERT INTO digital_signatures (id, lease_id, tenant_id, otp_id, signature_data, latitude, longitude,
  content_hash, ip, user_agent, signed_at, document_version)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err := t.q.Exec(ctx, q, s.ID, s.LeaseID, s.TenantID, s.OTPID, s.Data, s.Latitude, s.Longitude,
		s.ContentHash, s.IP, s.UserAgent, s.SignedAt, s.DocumentVersion)
	return err
}

func stateArg(s *workflow.State) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func statePtr(s *string) *workflow.State {
	if s == nil {
		return nil
	}
	v := workflow.State(*s)
	return &v
}
