package ports

import (
	"context"
	"errors"

	"github.com/bft-labs/boardlink/internal/domain"
)

// Sender delivers a single upload item to the backend.
// Implementations must honour ctx cancellation; the upload worker applies a
// per-item timeout and never retries a failed send.
type Sender interface {
	Send(ctx context.Context, item domain.UploadItem) error
}

// SenderFunc adapts a plain function to the Sender interface.
type SenderFunc func(ctx context.Context, item domain.UploadItem) error

// Send calls f(ctx, item).
func (f SenderFunc) Send(ctx context.Context, item domain.UploadItem) error {
	return f(ctx, item)
}

// CommandSender issues a named command with optional parameters to the peer.
type CommandSender interface {
	SendCommand(name string, params map[string]any) error
}

// Fanout returns a Sender that delivers each item to every sender in turn.
// All senders are tried; their errors are joined.
func Fanout(senders ...Sender) Sender {
	if len(senders) == 1 {
		return senders[0]
	}
	return SenderFunc(func(ctx context.Context, item domain.UploadItem) error {
		var errs []error
		for _, s := range senders {
			if err := s.Send(ctx, item); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
