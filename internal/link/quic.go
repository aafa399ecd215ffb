package link

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/bft-labs/boardlink/pkg/log"
)

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 5 * time.Second,
	}
}

// QUICListener accepts board links carried as two streams of one QUIC connection.
type QUICListener struct {
	tr     *quic.Transport
	ln     *quic.Listener
	udp    *net.UDPConn
	logger log.Logger
}

// ListenQUIC binds a UDP socket on addr with a fresh self-signed certificate.
func ListenQUIC(addr string, logger log.Logger) (*QUICListener, error) {
	cert, err := GenerateSelfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("generate TLS cert: %w", err)
	}
	return ListenQUICWithCert(addr, cert, logger)
}

// ListenQUICWithCert is ListenQUIC with a caller-provided certificate.
func ListenQUICWithCert(addr string, cert tls.Certificate, logger log.Logger) (*QUICListener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen UDP: %w", err)
	}

	tr := &quic.Transport{Conn: udpConn}
	ln, err := tr.Listen(serverTLSConfig(cert), quicConfig())
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("QUIC listen: %w", err)
	}
	return &QUICListener{tr: tr, ln: ln, udp: udpConn, logger: log.OrNoop(logger)}, nil
}

// Addr returns the bound UDP address.
func (l *QUICListener) Addr() string {
	return l.udp.LocalAddr().String()
}

// Accept waits for a controller and its two tagged streams.
func (l *QUICListener) Accept(ctx context.Context) (*Pair, error) {
	for {
		qconn, err := l.ln.Accept(ctx)
		if err != nil {
			return nil, fmt.Errorf("accept QUIC connection: %w", err)
		}
		pair, err := l.acceptStreams(ctx, qconn)
		if err == nil {
			return pair, nil
		}
		qconn.CloseWithError(1, "bad channel setup")
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		l.logger.Warn("rejecting QUIC connection",
			log.String("remote", qconn.RemoteAddr().String()),
			log.Err(err),
		)
	}
}

func (l *QUICListener) acceptStreams(ctx context.Context, qconn *quic.Conn) (*Pair, error) {
	var streams [3]*quic.Stream
	for streams[ChannelCommand] == nil || streams[ChannelFrames] == nil {
		s, err := qconn.AcceptStream(ctx)
		if err != nil {
			return nil, fmt.Errorf("accept stream: %w", err)
		}
		ch, err := readTag(s)
		if err != nil {
			return nil, err
		}
		if streams[ch] != nil {
			return nil, fmt.Errorf("duplicate %s stream", ch)
		}
		streams[ch] = s
	}
	return NewPair(streams[ChannelCommand], streams[ChannelFrames], func() error {
		return qconn.CloseWithError(0, "closed")
	}), nil
}

// Close shuts down the listener and its UDP socket.
func (l *QUICListener) Close() error {
	l.ln.Close()
	return l.tr.Close()
}

// DialQUIC connects to a vision board and opens the two tagged streams.
func DialQUIC(ctx context.Context, addr string) (*Pair, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("listen UDP: %w", err)
	}

	tr := &quic.Transport{Conn: udpConn}
	qconn, err := tr.Dial(ctx, udpAddr, clientTLSConfig(), quicConfig())
	if err != nil {
		tr.Close()
		return nil, fmt.Errorf("QUIC dial: %w", err)
	}
	fail := func(err error) (*Pair, error) {
		qconn.CloseWithError(1, "setup failed")
		tr.Close()
		return nil, err
	}

	// A QUIC stream is announced to the peer only on its first write, so
	// the tag is written right after opening.
	cmd, err := qconn.OpenStreamSync(ctx)
	if err != nil {
		return fail(fmt.Errorf("open command stream: %w", err))
	}
	if err := writeTag(cmd, ChannelCommand); err != nil {
		return fail(err)
	}
	frames, err := qconn.OpenStreamSync(ctx)
	if err != nil {
		return fail(fmt.Errorf("open frames stream: %w", err))
	}
	if err := writeTag(frames, ChannelFrames); err != nil {
		return fail(err)
	}

	return NewPair(cmd, frames, func() error {
		qconn.CloseWithError(0, "closed")
		return tr.Close()
	}), nil
}
