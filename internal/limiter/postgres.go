package limiter

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// PG is a PostgreSQL-backed sliding-window counter.
type PG struct {
	q      pgxQuerier
	window time.Duration
}

type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPGWithQuerier constructs a limiter over any querier, typically an open transaction.
// Callers serialise hits for one key, e.g. by holding the lease row lock.
func NewPGWithQuerier(q pgxQuerier, window time.Duration) *PG {
	return &PG{q: q, window: window}
}

// Hit records an event for key at now, drops events that left the window and
// returns how many events fall within (now-window, now], this one included.
func (l *PG) Hit(ctx context.Context, key []byte, now time.Time) (int, error) {
	const q = `
WITH pruned AS (
  DELETE FROM rate_limit_events
  WHERE key = $1 AND at <= $2::timestamptz - $3::interval
), ins AS (
  INSERT INTO rate_limit_events (key, at) VALUES ($1, $2)
)
SELECT count(*) + 1
FROM rate_limit_events
WHERE key = $1 AND at > $2::timestamptz - $3::interval`
	var hits int
	if err := l.q.QueryRow(ctx, q, key, now, l.window).Scan(&hits); err != nil {
		return 0, err
	}
	return hits, nil
}
