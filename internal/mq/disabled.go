package mq

import (
	"context"

	"github.com/realtimebid/auctionserver/internal/logging"
)

// DisabledBackend is the degraded-mode Queue adapter from spec.md §4.3:
// when the broker is unreachable at startup, the adapter initializes in
// this disabled state instead of failing the whole process. Publish
// attempts are dropped with a warning and consumer setup is skipped, so
// a bid placed over the WebSocket path is accepted for delivery but
// never actually reaches the Processor. The HTTP fallback at
// POST /bids does not depend on this backend at all — it runs the
// Processor inline, which is what keeps spec.md §8 scenario 5's
// invariants intact while the broker is down.
type DisabledBackend struct {
	reason string
}

// NewDisabledBackend constructs a backend that logs and no-ops every
// operation, recording reason (typically the original connection
// error) in each warning it emits.
func NewDisabledBackend(reason string) *DisabledBackend {
	return &DisabledBackend{reason: reason}
}

func (d *DisabledBackend) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	logging.Warn("mq: publish dropped, queue disabled", logging.Fields{"channel": channel, "reason": d.reason})
	return "", nil
}

func (d *DisabledBackend) Subscribe(ctx context.Context, channel string, handler Handler) error {
	logging.Warn("mq: consumer setup skipped, queue disabled", logging.Fields{"channel": channel, "reason": d.reason})
	<-ctx.Done()
	return ctx.Err()
}

func (d *DisabledBackend) Close() error { return nil }
