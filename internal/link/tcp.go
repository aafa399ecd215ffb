package link

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/bft-labs/boardlink/pkg/log"
)

// TCPListener accepts board links made of two tagged TCP connections.
type TCPListener struct {
	ln     *net.TCPListener
	logger log.Logger
}

// ListenTCP binds addr (host:port, port 0 picks a free one).
func ListenTCP(addr string, logger log.Logger) (*TCPListener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen TCP: %w", err)
	}
	return &TCPListener{ln: ln, logger: log.OrNoop(logger)}, nil
}

// Addr returns the bound address.
func (l *TCPListener) Addr() string {
	return l.ln.Addr().String()
}

// Accept collects one command and one frames connection. Connections with a
// missing or unknown tag are closed and skipped. A second connection for an
// already filled channel replaces the first, so a controller that redials
// half way through does not wedge the listener.
func (l *TCPListener) Accept(ctx context.Context) (*Pair, error) {
	var conns [3]net.Conn
	closeAll := func() {
		for _, c := range conns {
			if c != nil {
				c.Close()
			}
		}
	}

	for conns[ChannelCommand] == nil || conns[ChannelFrames] == nil {
		c, err := l.acceptConn(ctx)
		if err != nil {
			closeAll()
			return nil, err
		}
		ch, err := readTag(c)
		if err != nil {
			l.logger.Warn("dropping untagged connection",
				log.String("remote", c.RemoteAddr().String()),
				log.Err(err),
			)
			c.Close()
			continue
		}
		if old := conns[ch]; old != nil {
			old.Close()
		}
		conns[ch] = c
		l.logger.Debug("channel connected",
			log.String("channel", ch.String()),
			log.String("remote", c.RemoteAddr().String()),
		)
	}
	return NewPair(conns[ChannelCommand], conns[ChannelFrames], nil), nil
}

func (l *TCPListener) acceptConn(ctx context.Context) (net.Conn, error) {
	_ = l.ln.SetDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = l.ln.SetDeadline(time.Now())
	})
	defer stop()

	c, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("accept: %w", err)
	}
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return c, nil
}

// Close stops accepting.
func (l *TCPListener) Close() error {
	return l.ln.Close()
}

// DialTCP opens the command and frames connections to a vision board.
func DialTCP(ctx context.Context, addr string) (*Pair, error) {
	var d net.Dialer
	cmd, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial command channel: %w", err)
	}
	if err := writeTag(cmd, ChannelCommand); err != nil {
		cmd.Close()
		return nil, err
	}

	frames, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		cmd.Close()
		return nil, fmt.Errorf("dial frames channel: %w", err)
	}
	if err := writeTag(frames, ChannelFrames); err != nil {
		cmd.Close()
		frames.Close()
		return nil, err
	}
	return NewPair(cmd, frames, nil), nil
}
