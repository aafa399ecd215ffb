package frame

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bft-labs/boardlink/internal/domain"
	"github.com/bft-labs/boardlink/internal/link"
	"github.com/bft-labs/boardlink/pkg/log"
)

// ConsumerConfig tunes the receiving side.
type ConsumerConfig struct {
	// HandshakeTimeout bounds the wait for each hello reply.
	HandshakeTimeout time.Duration

	// HandshakeDelay is the pause between handshake attempts.
	HandshakeDelay time.Duration

	// DrainTimeout is how long a hello waits for stale bytes from an
	// earlier exchange before it is sent.
	DrainTimeout time.Duration

	// ReadTimeout bounds each response read. It must exceed the
	// producer's SizeWait.
	ReadTimeout time.Duration

	// MaxFrameSize rejects larger announced payloads.
	MaxFrameSize int

	// ChunkSize sizes the read buffer.
	ChunkSize int
}

// DefaultConsumerConfig returns the firmware defaults.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		HandshakeTimeout: 500 * time.Millisecond,
		HandshakeDelay:   100 * time.Millisecond,
		DrainTimeout:     10 * time.Millisecond,
		ReadTimeout:      time.Second,
		MaxFrameSize:     DefaultMaxFrameSize,
		ChunkSize:        DefaultChunkSize,
	}
}

func (c *ConsumerConfig) fill() {
	d := DefaultConsumerConfig()
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.HandshakeDelay <= 0 {
		c.HandshakeDelay = d.HandshakeDelay
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = d.DrainTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = d.MaxFrameSize
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
}

// Consumer pulls frames from a producer. Its methods serialise on an
// internal lock; one exchange is on the wire at a time. A failed Fetch
// clears Ready, and the next PerformHandshake realigns the stream.
type Consumer struct {
	conn   link.Conn
	cfg    ConsumerConfig
	logger log.Logger

	mu    sync.Mutex
	r     *bufio.Reader
	ready atomic.Bool

	received       atomic.Uint64
	failed         atomic.Uint64
	resyncs        atomic.Uint64
	discardedBytes atomic.Uint64
}

// NewConsumer creates a consumer on conn. PerformHandshake must succeed
// before Fetch.
func NewConsumer(conn link.Conn, cfg ConsumerConfig, logger log.Logger) *Consumer {
	cfg.fill()
	return &Consumer{
		conn:   conn,
		cfg:    cfg,
		logger: log.OrNoop(logger),
		r:      bufio.NewReaderSize(conn, cfg.ChunkSize),
	}
}

// Ready reports whether the handshake has completed.
func (c *Consumer) Ready() bool {
	return c.ready.Load()
}

// PerformHandshake sends hello until the producer answers or maxAttempts
// is exhausted, waiting HandshakeDelay between attempts.
func (c *Consumer) PerformHandshake(ctx context.Context, maxAttempts int) error {
	if maxAttempts <= 0 {
		return fmt.Errorf("%w: maxAttempts must be positive", domain.ErrInvalidArgument)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ready.Store(false)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := c.hello()
		if err == nil {
			c.ready.Store(true)
			c.logger.Info("frame link handshake complete", log.Int("attempts", attempt))
			return nil
		}
		c.logger.Debug("handshake attempt failed",
			log.Int("attempt", attempt),
			log.Err(err),
		)
		if link.IsClosed(err) {
			return fmt.Errorf("%w: %w", domain.ErrHandshakeFailed, err)
		}
		if attempt == maxAttempts {
			break
		}
		t := time.NewTimer(c.cfg.HandshakeDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return fmt.Errorf("%w after %d attempts", domain.ErrHandshakeFailed, maxAttempts)
}

func (c *Consumer) hello() error {
	c.drain()
	if err := c.send(OpHello); err != nil {
		return err
	}
	var b [2]byte
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	if _, err := io.ReadFull(c.r, b[:]); err != nil {
		return fmt.Errorf("read hello reply: %w", err)
	}
	if b[0] != helloReply {
		return fmt.Errorf("unexpected hello reply 0x%02x", b[0])
	}
	if b[1] != ProtocolVersion {
		c.logger.Warn("producer protocol version differs",
			log.Int("theirs", int(b[1])),
			log.Int("ours", ProtocolVersion),
		)
	}
	return nil
}

// Fetch runs one size, data, ack exchange. It returns nil, nil when the
// producer has no frame ready.
func (c *Consumer) Fetch(ctx context.Context) (*domain.Frame, error) {
	if !c.ready.Load() {
		return nil, domain.ErrNotReady
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	total, err := c.requestSize()
	if err != nil {
		return nil, c.fail(err)
	}
	if total == 0 {
		return nil, nil
	}
	if total <= HeaderSize || total-HeaderSize > uint32(c.cfg.MaxFrameSize) {
		return nil, c.fail(fmt.Errorf("%w: producer announced %d bytes", domain.ErrTooLarge, total))
	}

	if err := c.send(OpData); err != nil {
		return nil, c.fail(err)
	}
	f, err := c.readFrame()
	if err != nil {
		return nil, c.fail(err)
	}
	if uint32(len(f.Payload)) != total-HeaderSize {
		return nil, c.fail(fmt.Errorf("frame %d: header size %d disagrees with announced %d", f.ID, len(f.Payload), total-HeaderSize))
	}
	if err := c.send(OpAck); err != nil {
		c.logger.Debug("ack failed", log.Int("frame_id", int(f.ID)), log.Err(err))
	}
	c.received.Add(1)
	return f, nil
}

// Next reads one frame pushed by a producer in stream mode.
func (c *Consumer) Next(ctx context.Context) (*domain.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := c.readFrame()
	if err != nil {
		if !link.IsTimeout(err) {
			c.failed.Add(1)
		}
		return nil, err
	}
	c.received.Add(1)
	return f, nil
}

// Stats returns a snapshot of the consumer counters.
func (c *Consumer) Stats() domain.LinkStats {
	return domain.LinkStats{
		Received:       c.received.Load(),
		Failed:         c.failed.Load(),
		Resyncs:        c.resyncs.Load(),
		DiscardedBytes: c.discardedBytes.Load(),
	}
}

// fail counts a broken exchange and drops readiness; the stream position
// is unknown until the next handshake.
func (c *Consumer) fail(err error) error {
	c.failed.Add(1)
	if c.ready.Swap(false) {
		c.logger.Warn("frame exchange failed, handshake required", log.Err(err))
	}
	return err
}

// drain discards buffered bytes and anything that arrives within
// DrainTimeout, such as a hello reply that came in after its attempt
// timed out.
func (c *Consumer) drain() {
	n, _ := c.r.Discard(c.r.Buffered())
	limit := c.cfg.MaxFrameSize + HeaderSize
	var buf [256]byte
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.DrainTimeout))
	for n < limit {
		m, err := c.r.Read(buf[:])
		n += m
		if err != nil {
			break
		}
	}
	c.noteSkipped(n)
}

func (c *Consumer) requestSize() (uint32, error) {
	if n := c.r.Buffered(); n > 0 {
		c.r.Discard(n)
		c.noteSkipped(n)
	}
	if err := c.send(OpSize); err != nil {
		return 0, err
	}
	var b [4]byte
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	if _, err := io.ReadFull(c.r, b[:]); err != nil {
		return 0, fmt.Errorf("read size: %w", err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (c *Consumer) readFrame() (*domain.Frame, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	h, err := c.readHeader()
	if err != nil {
		return nil, err
	}
	if h.Size == 0 || h.Size > uint32(c.cfg.MaxFrameSize) {
		return nil, fmt.Errorf("%w: frame %d declares %d bytes", domain.ErrTooLarge, h.FrameID, h.Size)
	}

	payload := make([]byte, h.Size)
	for off := 0; off < len(payload); {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		end := min(off+c.cfg.ChunkSize, len(payload))
		n, err := io.ReadFull(c.r, payload[off:end])
		off += n
		if err != nil {
			return nil, fmt.Errorf("frame %d: read payload at %d of %d: %w", h.FrameID, off, h.Size, err)
		}
	}
	return &domain.Frame{ID: h.FrameID, Timestamp: h.Timestamp, Payload: payload}, nil
}

// readHeader discards bytes one at a time until the magic pair appears,
// then reads the rest of the header.
func (c *Consumer) readHeader() (Header, error) {
	limit := c.cfg.MaxFrameSize + HeaderSize
	skipped := 0
	prev, err := c.r.ReadByte()
	if err != nil {
		return Header{}, err
	}
	for {
		b, err := c.r.ReadByte()
		if err != nil {
			c.noteSkipped(skipped)
			return Header{}, err
		}
		if prev == Magic0 && b == Magic1 {
			break
		}
		prev = b
		skipped++
		if skipped > limit {
			c.noteSkipped(skipped)
			return Header{}, fmt.Errorf("%w: no header within %d bytes", domain.ErrBadMagic, limit)
		}
	}
	c.noteSkipped(skipped)

	var buf [HeaderSize]byte
	buf[0], buf[1] = Magic0, Magic1
	if _, err := io.ReadFull(c.r, buf[2:]); err != nil {
		return Header{}, fmt.Errorf("read header: %w", err)
	}
	return DecodeHeader(buf[:])
}

func (c *Consumer) noteSkipped(n int) {
	if n == 0 {
		return
	}
	c.resyncs.Add(1)
	c.discardedBytes.Add(uint64(n))
	c.logger.Warn("frame stream resynchronised", log.Int("discarded_bytes", n))
}

func (c *Consumer) send(op byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.ReadTimeout))
	if _, err := c.conn.Write([]byte{op}); err != nil {
		return fmt.Errorf("send opcode 0x%02x: %w", op, err)
	}
	return nil
}
