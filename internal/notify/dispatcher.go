package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"shopbot/internal/domain"
)

const defaultTimeout = 10 * time.Second

// Delivery is the outcome of one sink for one notification.
type Delivery struct {
	Sink string
	Err  error
}

type DispatcherConfig struct {
	Sinks   []domain.Notifier
	Timeout time.Duration
	Logger  *slog.Logger
	// Observe is called once per sink delivery, for metrics.
	Observe func(sink string, err error)
	// Record persists each delivery attempt; errors are logged by the recorder.
	Record func(ctx context.Context, rec domain.NotificationRecord)
}

// Dispatcher fans a notification out to every configured sink. Delivery
// failures are logged and reported, never returned to the caller's turn.
type Dispatcher struct {
	sinks   []domain.Notifier
	timeout time.Duration
	logger  *slog.Logger
	observe func(string, error)
	record  func(context.Context, domain.NotificationRecord)
	wg      sync.WaitGroup
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		sinks:   cfg.Sinks,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
		observe: cfg.Observe,
		record:  cfg.Record,
	}
}

// Sinks returns the configured sink names.
func (d *Dispatcher) Sinks() []string {
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	return names
}

// Dispatch delivers in the background and returns immediately. The delivery
// outlives ctx cancellation but is bounded by the dispatcher timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, turnID string, to domain.Destination, n domain.Notification) {
	if len(d.sinks) == 0 {
		return
	}
	bg := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Deliver(bg, turnID, to, n)
	}()
}

// Deliver sends to every sink concurrently and waits for all of them.
func (d *Dispatcher) Deliver(ctx context.Context, turnID string, to domain.Destination, n domain.Notification) []Delivery {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	out := make([]Delivery, len(d.sinks))
	var wg sync.WaitGroup
	for i, sink := range d.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := sink.Notify(ctx, to, n)
			out[i] = Delivery{Sink: sink.Name(), Err: err}
		}()
	}
	wg.Wait()

	for _, del := range out {
		if del.Err != nil {
			d.logger.Warn("notification delivery failed", "sink", del.Sink, "turn_id", turnID, "error", del.Err)
		} else {
			d.logger.Info("notification delivered", "sink", del.Sink, "turn_id", turnID, "items", n.Items)
		}
		if d.observe != nil {
			d.observe(del.Sink, del.Err)
		}
		if d.record != nil {
			rec := domain.NotificationRecord{
				TurnID:    turnID,
				Sink:      del.Sink,
				Subject:   n.Subject,
				Delivered: del.Err == nil,
				CreatedAt: time.Now().UTC(),
			}
			if del.Err != nil {
				rec.Error = del.Err.Error()
			}
			d.record(context.WithoutCancel(ctx), rec)
		}
	}
	return out
}

// Wait blocks until background deliveries finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
