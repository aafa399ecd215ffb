package frame

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bft-labs/boardlink/internal/domain"
	"github.com/bft-labs/boardlink/internal/link"
	"github.com/bft-labs/boardlink/pkg/log"
)

// ProducerConfig tunes the sending side.
type ProducerConfig struct {
	// QueueSize bounds the number of frames waiting to be sent.
	QueueSize int

	// ChunkSize is the largest single write of payload bytes.
	ChunkSize int

	// MaxFrameSize rejects larger payloads at QueueFrame.
	MaxFrameSize int

	// SizeWait is how long a size request waits for a frame to be queued
	// before answering 0.
	SizeWait time.Duration

	// WriteTimeout bounds each chunk write.
	WriteTimeout time.Duration

	// PollTimeout bounds each opcode read so the worker notices Stop.
	PollTimeout time.Duration

	// Stream pushes frames back-to-back without waiting for requests.
	Stream bool
}

// DefaultProducerConfig returns the firmware defaults.
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		QueueSize:    DefaultQueueSize,
		ChunkSize:    DefaultChunkSize,
		MaxFrameSize: DefaultMaxFrameSize,
		SizeWait:     100 * time.Millisecond,
		WriteTimeout: time.Second,
		PollTimeout:  50 * time.Millisecond,
	}
}

func (c *ProducerConfig) fill() {
	d := DefaultProducerConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = d.MaxFrameSize
	}
	if c.SizeWait <= 0 {
		c.SizeWait = d.SizeWait
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = d.PollTimeout
	}
}

// Producer queues frames and sends them to the consumer from a single
// worker goroutine. QueueFrame never blocks.
type Producer struct {
	conn   link.Conn
	cfg    ProducerConfig
	logger log.Logger
	epoch  time.Time

	mu      sync.RWMutex
	running bool
	queue   chan *domain.Frame
	cancel  context.CancelFunc
	done    chan struct{}

	// owned by the worker
	inflight *domain.Frame
	hdr      [HeaderSize]byte

	sent      atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
	discarded atomic.Uint64
}

// NewProducer creates a stopped producer on conn.
func NewProducer(conn link.Conn, cfg ProducerConfig, logger log.Logger) *Producer {
	cfg.fill()
	return &Producer{
		conn:   conn,
		cfg:    cfg,
		logger: log.OrNoop(logger),
		epoch:  time.Now(),
		queue:  make(chan *domain.Frame, cfg.QueueSize),
	}
}

// Start launches the worker. The worker exits when ctx is done, Stop is
// called or the link fails.
func (p *Producer) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return domain.ErrAlreadyRunning
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	p.running = true

	go func() {
		defer close(p.done)
		if p.cfg.Stream {
			p.streamLoop(ctx)
		} else {
			p.requestLoop(ctx)
		}
	}()

	p.logger.Info("frame producer started",
		log.Bool("stream", p.cfg.Stream),
		log.Int("queue_size", p.cfg.QueueSize),
	)
	return nil
}

// Stop halts the worker and discards every queued and in-flight frame.
func (p *Producer) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done

	n := 0
	if p.inflight != nil {
		p.inflight = nil
		n++
	}
drain:
	for {
		select {
		case <-p.queue:
			n++
		default:
			break drain
		}
	}
	p.discarded.Add(uint64(n))
	p.logger.Info("frame producer stopped", log.Int("discarded", n))
}

// Done is closed when the worker exits. It is nil before Start.
func (p *Producer) Done() <-chan struct{} {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.done
}

// QueueFrame copies data into the send queue. It returns ErrBusy when the
// queue is full; the caller is expected to drop the frame.
func (p *Producer) QueueFrame(id uint16, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty frame", domain.ErrInvalidArgument)
	}
	if len(data) > p.cfg.MaxFrameSize {
		return fmt.Errorf("%w: frame %d is %d bytes, max %d", domain.ErrTooLarge, id, len(data), p.cfg.MaxFrameSize)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return domain.ErrNotRunning
	}

	f := &domain.Frame{ID: id, Payload: append([]byte(nil), data...)}
	select {
	case p.queue <- f:
		return nil
	default:
		p.dropped.Add(1)
		return domain.ErrBusy
	}
}

// Pending returns the number of queued frames.
func (p *Producer) Pending() int {
	return len(p.queue)
}

// Stats returns a snapshot of the producer counters.
func (p *Producer) Stats() domain.LinkStats {
	return domain.LinkStats{
		Sent:      p.sent.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
		Discarded: p.discarded.Load(),
	}
}

func (p *Producer) streamLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-p.queue:
			if err := p.writeFrame(f); err != nil {
				p.failed.Add(1)
				p.logger.Warn("frame send failed",
					log.Int("frame_id", int(f.ID)),
					log.Err(err),
				)
				if link.IsClosed(err) {
					return
				}
				continue
			}
			p.sent.Add(1)
		}
	}
}

func (p *Producer) requestLoop(ctx context.Context) {
	var op [1]byte
	for ctx.Err() == nil {
		_ = p.conn.SetReadDeadline(time.Now().Add(p.cfg.PollTimeout))
		if _, err := p.conn.Read(op[:]); err != nil {
			if link.IsTimeout(err) {
				continue
			}
			if ctx.Err() == nil {
				p.logger.Warn("frame link read failed", log.Err(err))
			}
			return
		}

		var err error
		switch op[0] {
		case OpHello:
			err = p.write([]byte{helloReply, ProtocolVersion})
		case OpSize:
			err = p.answerSize(ctx)
		case OpData:
			err = p.answerData()
		case OpAck:
			if p.inflight != nil {
				p.sent.Add(1)
				p.inflight = nil
			}
		default:
			p.logger.Debug("ignoring unknown opcode", log.Int("op", int(op[0])))
		}
		if err != nil && link.IsClosed(err) {
			p.logger.Warn("frame link closed", log.Err(err))
			return
		}
	}
}

// answerSize replies with the wire length of the in-flight frame, taking
// the next queued one if nothing is in flight. A frame that was sent but
// never acknowledged counts as failed and is not offered again.
func (p *Producer) answerSize(ctx context.Context) error {
	if p.inflight != nil {
		p.failed.Add(1)
		p.logger.Debug("unacknowledged frame abandoned", log.Int("frame_id", int(p.inflight.ID)))
		p.inflight = nil
	}

	select {
	case p.inflight = <-p.queue:
	default:
		t := time.NewTimer(p.cfg.SizeWait)
		select {
		case p.inflight = <-p.queue:
		case <-t.C:
		case <-ctx.Done():
		}
		t.Stop()
	}

	var b [4]byte
	if p.inflight != nil {
		binary.LittleEndian.PutUint32(b[:], WireSize(len(p.inflight.Payload)))
	}
	return p.write(b[:])
}

func (p *Producer) answerData() error {
	f := p.inflight
	if f == nil {
		// An empty header tells the consumer there is nothing to read.
		var b [HeaderSize]byte
		Header{}.Encode(b[:])
		return p.write(b[:])
	}
	if err := p.writeFrame(f); err != nil {
		p.failed.Add(1)
		p.inflight = nil
		p.logger.Warn("frame send failed",
			log.Int("frame_id", int(f.ID)),
			log.Err(err),
		)
		return err
	}
	return nil
}

// writeFrame sends the header then the payload in ChunkSize pieces.
func (p *Producer) writeFrame(f *domain.Frame) error {
	f.Timestamp = uint32(time.Since(p.epoch).Milliseconds())
	Header{FrameID: f.ID, Size: uint32(len(f.Payload)), Timestamp: f.Timestamp}.Encode(p.hdr[:])
	if err := p.write(p.hdr[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for off := 0; off < len(f.Payload); off += p.cfg.ChunkSize {
		end := min(off+p.cfg.ChunkSize, len(f.Payload))
		if err := p.write(f.Payload[off:end]); err != nil {
			return fmt.Errorf("write chunk at %d: %w", off, err)
		}
	}
	return nil
}

func (p *Producer) write(b []byte) error {
	_ = p.conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout))
	_, err := p.conn.Write(b)
	return err
}
