package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// DefaultSchedule is the wait before the 2nd, 3rd and any later attempt.
var DefaultSchedule = []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}

// DefaultAttempts bounds delivery attempts per message.
const DefaultAttempts = 3

// Message is one outbound notification.
type Message struct {
	Channel Channel
	To      string
	Body    string
	Meta    Meta
}

// Sender is what services depend on.
type Sender interface {
	// Send makes the first attempt synchronously and keeps retrying in the
	// background if it fails. The returned error reports the first attempt only.
	Send(ctx context.Context, m Message) error
	// Enqueue delivers entirely in the background.
	Enqueue(m Message)
}

// DispatcherConfig tunes retries.
type DispatcherConfig struct {
	Attempts int
	Schedule []time.Duration
}

// Dispatcher routes messages to transports and retries failures with a fixed schedule.
type Dispatcher struct {
	transports map[Channel]Transport
	log        *zap.Logger
	attempts   int
	schedule   []time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu orders wg.Add against Close's wg.Wait.
	mu     sync.Mutex
	closed bool
}

var _ Sender = (*Dispatcher)(nil)

// NewDispatcher constructs a dispatcher. Zero config values take the defaults.
func NewDispatcher(log *zap.Logger, cfg DispatcherConfig, transports map[Channel]Transport) *Dispatcher {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if len(cfg.Schedule) == 0 {
		cfg.Schedule = DefaultSchedule
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		transports: transports,
		log:        log,
		attempts:   cfg.Attempts,
		schedule:   cfg.Schedule,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Send implements Sender.
func (d *Dispatcher) Send(ctx context.Context, m Message) error {
	err := d.attempt(ctx, m, 1)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPermanent) || errors.Is(err, ErrNotConfigured) || d.attempts < 2 {
		d.giveUp(m, 1, err)
		return err
	}
	d.background(m, 2)
	return err
}

// Enqueue implements Sender.
func (d *Dispatcher) Enqueue(m Message) { d.background(m, 1) }

// Close waits for in-flight retries until ctx is done, then abandons the rest.
// Messages handed over after Close are dropped.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

// background runs attempts first..d.attempts off the request path.
func (d *Dispatcher) background(m Message, first int) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.giveUp(m, first-1, ErrClosed)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()

		if first > 1 {
			if !d.sleep(d.delay(first - 2)) {
				return
			}
		}
		n := first
		err := retry.Do(d.ctx, d.backoff(first), func(ctx context.Context) error {
			cur := n
			n++
			err := d.attempt(ctx, m, cur)
			if err == nil || errors.Is(err, ErrPermanent) || errors.Is(err, ErrNotConfigured) {
				return err
			}
			return retry.RetryableError(err)
		})
		if err != nil {
			d.giveUp(m, n-1, err)
		}
	}()
}

// backoff yields the waits after attempt first, first+1, ... and stops after the last attempt.
func (d *Dispatcher) backoff(first int) retry.Backoff {
	i := first - 1
	return retry.BackoffFunc(func() (time.Duration, bool) {
		if i >= d.attempts-1 {
			return 0, true
		}
		w := d.delay(i)
		i++
		return w, false
	})
}

func (d *Dispatcher) delay(i int) time.Duration {
	if i >= len(d.schedule) {
		return d.schedule[len(d.schedule)-1]
	}
	return d.schedule[i]
}

func (d *Dispatcher) sleep(w time.Duration) bool {
	t := time.NewTimer(w)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-d.ctx.Done():
		return false
	}
}

func (d *Dispatcher) attempt(ctx context.Context, m Message, n int) error {
	tr, ok := d.transports[m.Channel]
	if !ok || tr == nil || !tr.IsConfigured() {
		return fmt.Errorf("%s: %w", m.Channel, ErrNotConfigured)
	}
	err := tr.Send(ctx, m.To, m.Body, m.Meta)
	if err != nil {
		d.log.Warn("notification attempt failed",
			zap.String("channel", string(m.Channel)),
			zap.String("to", d.mask(m)),
			zap.String("type", m.Meta["type"]),
			zap.Int("attempt", n),
			zap.Error(err),
		)
		return err
	}
	d.log.Info("notification sent",
		zap.String("channel", string(m.Channel)),
		zap.String("to", d.mask(m)),
		zap.String("type", m.Meta["type"]),
		zap.Int("attempt", n),
	)
	return nil
}

func (d *Dispatcher) giveUp(m Message, attempts int, err error) {
	d.log.Error("notification failed permanently",
		zap.String("channel", string(m.Channel)),
		zap.String("to", d.mask(m)),
		zap.String("type", m.Meta["type"]),
		zap.String("reference", m.Meta["reference"]),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
}

func (d *Dispatcher) mask(m Message) string {
	if m.Channel == SMS {
		return MaskPhone(m.To)
	}
	return m.To
}
