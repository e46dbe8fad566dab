// Package service contains the lease workflow application services: the state
// machine, landlord approval, OTP issuance, digital signing, edit tracking and
// disputes. Every mutating call takes an explicit model.Actor and runs as one
// repository.Store unit of work.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/leaseflow/internal/errs"
)

// Clock returns the current time. Expiry is always evaluated against it at use time.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

func orClock(c Clock) Clock {
	if c == nil {
		return systemClock
	}
	return c
}

func newID() uuid.UUID { return uuid.Must(uuid.NewV4()) }

func invalid(format string, args ...any) error {
	return fmt.Errorf("validation: "+format+": %w", append(args, errs.ErrInvalidArgument)...)
}

// detach keeps request values but drops cancellation for post-commit work.
func detach(ctx context.Context) context.Context { return context.WithoutCancel(ctx) }
