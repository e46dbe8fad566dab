package postgres

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/leaseflow/internal/errs"
	"github.com/and161185/leaseflow/internal/model"
)

const otpCols = `id, lease_id, phone, purpose, code_hash, code_salt, expires_at,
  attempts, verified, verified_at, verified_ip, expired, created_at`

func scanOTP(row pgx.Row) (*model.OTP, error) {
	var o model.OTP
	if err := row.Scan(
		&o.ID, &o.LeaseID, &o.Phone, &o.Purpose, &o.CodeHash, &o.CodeSalt, &o.ExpiresAt,
		&o.Attempts, &o.Verified, &o.VerifiedAt, &o.VerifiedIP, &o.Expired, &o.CreatedAt,
	); err != nil {
		return nil, notFound(err, errs.ErrNotFound)
	}
	return &o, nil
}

// LatestOTP returns the most recently created OTP for lease and purpose.
func (r queries) LatestOTP(ctx context.Context, leaseID uuid.UUID, purpose string) (*model.OTP, error) {
	q := `SELECT ` + otpCols + ` FROM otp_verifications
WHERE lease_id=$1 AND purpose=$2 ORDER BY created_at DESC LIMIT 1`
	return scanOTP(r.q.QueryRow(ctx, q, leaseID, purpose))
}

// LatestVerifiedOTP returns the newest OTP verified at or after since.
func (r queries) LatestVerifiedOTP(ctx context.Context, leaseID uuid.UUID, purpose string, since time.Time) (*model.OTP, error) {
	q := `SELECT ` + otpCols + ` FROM otp_verifications
WHERE lease_id=$1 AND purpose=$2 AND verified AND verified_at >= $3
ORDER BY verified_at DESC LIMIT 1`
	return scanOTP(r.q.QueryRow(ctx, q, leaseID, purpose, since))
}

// InsertOTP stores a generated code record.
func (t *pgTx) InsertOTP(ctx context.Context, o *model.OTP) error {
	const q = `
INSERT INTO otp_verifications (id, lease_id, phone, purpose, code_hash, code_salt, expires_at,
  attempts, verified, verified_at, verified_ip, expired, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	_, err := t.q.Exec(ctx, q,
		o.ID, o.LeaseID, o.Phone, o.Purpose, o.CodeHash, o.CodeSalt, o.ExpiresAt,
		o.Attempts, o.Verified, o.VerifiedAt, o.VerifiedIP, o.Expired, o.CreatedAt,
	)
	return err
}

// UpdateOTP persists attempts, verification and expiry flags.
func (t *pgTx) UpdateOTP(ctx context.Context, o *model.OTP) error {
	const q = `
UPDATE otp_verifications
SET attempts=$2, verified=$3, verified_at=$4, verified_ip=$5, expired=$6
WHERE id=$1`
	tag, err := t.q.Exec(ctx, q, o.ID, o.Attempts, o.Verified, o.VerifiedAt, o.VerifiedIP, o.Expired)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ExpireOpenOTPs marks every still-usable code for lease and purpose expired.
func (t *pgTx) ExpireOpenOTPs(ctx context.Context, leaseID uuid.UUID, purpose string, now time.Time) (int, error) {
	const q = `
UPDATE otp_verifications
SET expired=true
WHERE lease_id=$1 AND purpose=$2 AND NOT verified AND NOT expired AND expires_at > $3`
	tag, err := t.q.Exec(ctx, q, leaseID, purpose, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
