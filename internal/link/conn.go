// Package link carries the two inter-board channels (commands and frames)
// over a real network transport. The vision board listens and the
// controller dials; both TCP and QUIC are supported.
package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

// Conn is a duplex byte channel with deadlines. net.Conn, *quic.Stream and
// net.Pipe ends all satisfy it.
type Conn interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Channel tags the first byte written on each connection or stream so the
// listener can tell them apart.
type Channel byte

const (
	ChannelCommand Channel = 0x01
	ChannelFrames  Channel = 0x02
)

// String returns the channel name.
func (c Channel) String() string {
	switch c {
	case ChannelCommand:
		return "command"
	case ChannelFrames:
		return "frames"
	default:
		return fmt.Sprintf("channel(0x%02x)", byte(c))
	}
}

// tagTimeout bounds how long the listener waits for a channel tag.
const tagTimeout = 5 * time.Second

// ErrUnknownChannel is returned when a peer sends an unexpected channel tag.
var ErrUnknownChannel = errors.New("link: unknown channel tag")

// Pair is one established board-to-board link.
type Pair struct {
	Command Conn
	Frames  Conn

	once    sync.Once
	closeFn func() error
}

// NewPair wraps two channels. closeFn, if non-nil, runs after both channels
// are closed and releases the underlying transport.
func NewPair(command, frames Conn, closeFn func() error) *Pair {
	return &Pair{Command: command, Frames: frames, closeFn: closeFn}
}

// Close closes both channels and the transport. It is safe to call twice.
func (p *Pair) Close() error {
	var err error
	p.once.Do(func() {
		errs := []error{}
		if p.Command != nil {
			errs = append(errs, p.Command.Close())
		}
		if p.Frames != nil {
			errs = append(errs, p.Frames.Close())
		}
		if p.closeFn != nil {
			errs = append(errs, p.closeFn())
		}
		err = errors.Join(errs...)
	})
	return err
}

// Listener accepts board links.
type Listener interface {
	Accept(ctx context.Context) (*Pair, error)
	Addr() string
	Close() error
}

// DialFunc establishes one board link.
type DialFunc func(ctx context.Context) (*Pair, error)

func writeTag(c Conn, ch Channel) error {
	_ = c.SetWriteDeadline(time.Now().Add(tagTimeout))
	defer c.SetWriteDeadline(time.Time{})
	if _, err := c.Write([]byte{byte(ch)}); err != nil {
		return fmt.Errorf("write %s tag: %w", ch, err)
	}
	return nil
}

func readTag(c Conn) (Channel, error) {
	_ = c.SetReadDeadline(time.Now().Add(tagTimeout))
	defer c.SetReadDeadline(time.Time{})
	var b [1]byte
	if _, err := io.ReadFull(c, b[:]); err != nil {
		return 0, fmt.Errorf("read channel tag: %w", err)
	}
	ch := Channel(b[0])
	if ch != ChannelCommand && ch != ChannelFrames {
		return ch, fmt.Errorf("%w: 0x%02x", ErrUnknownChannel, b[0])
	}
	return ch, nil
}

// IsTimeout reports whether err came from an expired read or write deadline.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsClosed reports whether err means the peer or the local side closed the link.
func IsClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed)
}
