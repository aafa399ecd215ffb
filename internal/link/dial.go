package link

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bft-labs/boardlink/internal/app"
	"github.com/bft-labs/boardlink/internal/domain"
	"github.com/bft-labs/boardlink/pkg/log"
)

// Transport names accepted by Dialer and Listen.
const (
	TransportTCP  = "tcp"
	TransportQUIC = "quic"
)

// Dialer returns the DialFunc for the named transport.
func Dialer(transport, addr string) (DialFunc, error) {
	switch strings.ToLower(transport) {
	case TransportTCP, "":
		return func(ctx context.Context) (*Pair, error) { return DialTCP(ctx, addr) }, nil
	case TransportQUIC:
		return func(ctx context.Context) (*Pair, error) { return DialQUIC(ctx, addr) }, nil
	}
	return nil, fmt.Errorf("%w: unknown transport %q", domain.ErrInvalidConfig, transport)
}

// Listen binds a listener for the named transport.
func Listen(transport, addr string, logger log.Logger) (Listener, error) {
	switch strings.ToLower(transport) {
	case TransportTCP, "":
		return ListenTCP(addr, logger)
	case TransportQUIC:
		return ListenQUIC(addr, logger)
	}
	return nil, fmt.Errorf("%w: unknown transport %q", domain.ErrInvalidConfig, transport)
}

// DialWithRetry calls dial until it succeeds or ctx is done, sleeping with
// jittered exponential backoff between attempts.
func DialWithRetry(ctx context.Context, dial DialFunc, initial, max time.Duration, logger log.Logger) (*Pair, error) {
	logger = log.OrNoop(logger)
	b := app.NewBackoff(initial, max)
	for attempt := 1; ; attempt++ {
		pair, err := dial(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("link established", log.Int("attempts", attempt))
			}
			return pair, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("link dial failed, retrying",
			log.Int("attempt", attempt),
			log.Duration("backoff", b.Current()),
			log.Err(err),
		)
		if err := b.Sleep(ctx); err != nil {
			return nil, err
		}
	}
}
