package command

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bft-labs/boardlink/internal/domain"
	"github.com/bft-labs/boardlink/internal/link"
	"github.com/bft-labs/boardlink/pkg/log"
)

// Config tunes a Channel.
type Config struct {
	// PollTimeout bounds each read so the receiver notices Stop.
	PollTimeout time.Duration

	// PingTimeout is how long without a ping or pong before the peer
	// is considered gone.
	PingTimeout time.Duration

	// MonitorInterval is the liveness check period.
	MonitorInterval time.Duration

	// PingInterval enables the pinger when positive.
	PingInterval time.Duration

	// WriteTimeout bounds each outgoing line.
	WriteTimeout time.Duration

	// MaxLineBytes truncates longer incoming lines.
	MaxLineBytes int
}

// DefaultConfig returns the firmware defaults with the pinger disabled.
func DefaultConfig() Config {
	return Config{
		PollTimeout:     20 * time.Millisecond,
		PingTimeout:     5 * time.Second,
		MonitorInterval: time.Second,
		WriteTimeout:    time.Second,
		MaxLineBytes:    1024,
	}
}

func (c *Config) fill() {
	d := DefaultConfig()
	if c.PollTimeout <= 0 {
		c.PollTimeout = d.PollTimeout
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = d.PingTimeout
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = d.MonitorInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.MaxLineBytes <= 0 {
		c.MaxLineBytes = d.MaxLineBytes
	}
}

// HandlerFunc handles one named command. A non-nil return value is sent
// back to the peer as the reply.
type HandlerFunc func(params map[string]any) *Message

// Stats counts channel traffic.
type Stats struct {
	LinesReceived   uint64 `json:"lines_received"`
	MessagesSent    uint64 `json:"messages_sent"`
	Malformed       uint64 `json:"malformed"`
	UnknownCommands uint64 `json:"unknown_commands"`
	PeerLogLines    uint64 `json:"peer_log_lines"`
	PingsReceived   uint64 `json:"pings_received"`
	PongsReceived   uint64 `json:"pongs_received"`
	WriteErrors     uint64 `json:"write_errors"`
}

type liveness int

const (
	liveUnknown liveness = iota
	liveUp
	liveDown
)

// Channel is one end of the command link. Register handlers and callbacks
// before Start.
type Channel struct {
	conn   link.Conn
	cfg    Config
	logger log.Logger
	now    func() time.Time

	writeMu sync.Mutex

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	onStatus func(*Message)
	onEvent  func(*Message)
	onPong   func(*Message)
	onLive   func(bool)

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	started  atomic.Int64
	lastPing atomic.Int64
	pingSeq  atomic.Uint32

	linesReceived   atomic.Uint64
	messagesSent    atomic.Uint64
	malformed       atomic.Uint64
	unknownCommands atomic.Uint64
	peerLogLines    atomic.Uint64
	pingsReceived   atomic.Uint64
	pongsReceived   atomic.Uint64
	writeErrors     atomic.Uint64
}

// NewChannel creates a stopped channel on conn.
func NewChannel(conn link.Conn, cfg Config, logger log.Logger) *Channel {
	cfg.fill()
	c := &Channel{
		conn:     conn,
		cfg:      cfg,
		logger:   log.OrNoop(logger),
		now:      time.Now,
		handlers: make(map[string]HandlerFunc),
	}
	c.started.Store(c.now().UnixNano())
	return c
}

// RegisterHandler binds fn to the exact command name.
func (c *Channel) RegisterHandler(name string, fn HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[name] = fn
}

// OnStatus sets the callback for status messages.
func (c *Channel) OnStatus(fn func(*Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = fn
}

// OnEvent sets the callback for event messages.
func (c *Channel) OnEvent(fn func(*Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvent = fn
}

// OnPong sets the callback for pong messages.
func (c *Channel) OnPong(fn func(*Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPong = fn
}

// OnLivenessChange sets the callback run by the monitor when the peer is
// found alive or lost.
func (c *Channel) OnLivenessChange(fn func(connected bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLive = fn
}

// Start launches the receiver, the liveness monitor and, when configured,
// the pinger.
func (c *Channel) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.running {
		return domain.ErrAlreadyRunning
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.running = true
	c.started.Store(c.now().UnixNano())

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.receive(ctx)
	}()
	go func() {
		defer c.wg.Done()
		c.monitor(ctx)
	}()
	if c.cfg.PingInterval > 0 {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.pinger(ctx)
		}()
	}
	return nil
}

// Stop halts every background activity and waits for it. The underlying
// conn is left open for its owner to close.
func (c *Channel) Stop() {
	c.runMu.Lock()
	if !c.running {
		c.runMu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	c.runMu.Unlock()

	cancel()
	c.wg.Wait()
}

// IsConnected reports whether a ping or pong arrived within PingTimeout.
func (c *Channel) IsConnected() bool {
	last := c.lastPing.Load()
	if last == 0 {
		return false
	}
	return c.now().Sub(time.Unix(0, last)) < c.cfg.PingTimeout
}

// SinceLastPing returns the time since the last ping or pong, or since
// the channel started if none has arrived.
func (c *Channel) SinceLastPing() time.Duration {
	last := c.lastPing.Load()
	if last == 0 {
		last = c.started.Load()
	}
	return c.now().Sub(time.Unix(0, last))
}

// Uptime returns the time since the channel was created or last started.
func (c *Channel) Uptime() time.Duration {
	return c.now().Sub(time.Unix(0, c.started.Load()))
}

// Stats returns a snapshot of the channel counters.
func (c *Channel) Stats() Stats {
	return Stats{
		LinesReceived:   c.linesReceived.Load(),
		MessagesSent:    c.messagesSent.Load(),
		Malformed:       c.malformed.Load(),
		UnknownCommands: c.unknownCommands.Load(),
		PeerLogLines:    c.peerLogLines.Load(),
		PingsReceived:   c.pingsReceived.Load(),
		PongsReceived:   c.pongsReceived.Load(),
		WriteErrors:     c.writeErrors.Load(),
	}
}

// Send writes m as one line. Concurrent senders are serialised.
func (c *Channel) Send(m *Message) error {
	line, err := Encode(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(c.now().Add(c.cfg.WriteTimeout))
	if _, err := c.conn.Write(line); err != nil {
		c.writeErrors.Add(1)
		return fmt.Errorf("write message: %w", err)
	}
	c.messagesSent.Add(1)
	return nil
}

// SendCommand sends {"cmd":name,"params":params}. Commands are sent once
// and never retried by the channel.
func (c *Channel) SendCommand(name string, params map[string]any) error {
	if name == "" {
		return fmt.Errorf("%w: empty command name", domain.ErrInvalidArgument)
	}
	c.logger.Debug("sending command", log.String("cmd", name))
	return c.Send(&Message{Cmd: name, Params: params})
}

// SendStatus sends {"status":status,"msg":msg}.
func (c *Channel) SendStatus(status, msg string) error {
	return c.Send(Reply(status, msg))
}

// SendEvent sends {"event":name,"data":data}.
func (c *Channel) SendEvent(name string, data map[string]any) error {
	return c.Send(&Message{Event: name, Data: data})
}

// SendPing sends a ping with the next sequence number and returns it.
func (c *Channel) SendPing() (uint32, error) {
	seq := c.pingSeq.Add(1)
	err := c.Send(&Message{
		Type:      TypePing,
		Seq:       u32(seq),
		Timestamp: uint64(c.Uptime().Milliseconds()),
	})
	return seq, err
}

func (c *Channel) receive(ctx context.Context) {
	buf := make([]byte, 256)
	line := make([]byte, 0, c.cfg.MaxLineBytes)
	truncated := false

	for ctx.Err() == nil {
		_ = c.conn.SetReadDeadline(c.now().Add(c.cfg.PollTimeout))
		n, err := c.conn.Read(buf)
		for _, b := range buf[:n] {
			if b == '\n' || b == '\r' {
				if len(line) > 0 {
					if truncated {
						c.logger.Warn("command line truncated", log.Int("max_bytes", c.cfg.MaxLineBytes))
					}
					c.handleLine(line)
				}
				line = line[:0]
				truncated = false
				continue
			}
			if len(line) < c.cfg.MaxLineBytes {
				line = append(line, b)
			} else {
				truncated = true
			}
		}
		if err != nil {
			if link.IsTimeout(err) {
				continue
			}
			if ctx.Err() == nil {
				c.logger.Warn("command link read failed", log.Err(err))
			}
			return
		}
	}
}

func (c *Channel) handleLine(line []byte) {
	c.linesReceived.Add(1)
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	if line[0] != '{' {
		c.peerLogLines.Add(1)
		c.logger.Debug("peer log", log.String("line", string(line)))
		return
	}

	m, err := Decode(line)
	if err != nil {
		c.malformed.Add(1)
		c.logger.Warn("discarding malformed message",
			log.String("line", string(line)),
			log.Err(err),
		)
		return
	}
	c.dispatch(m)
}

func (c *Channel) dispatch(m *Message) {
	c.mu.RLock()
	onStatus, onEvent, onPong := c.onStatus, c.onEvent, c.onPong
	c.mu.RUnlock()

	switch m.Kind() {
	case KindPing:
		c.pingsReceived.Add(1)
		c.touch()
		pong := &Message{Type: TypePong, Seq: m.Seq, Status: StatusOK, Uptime: u64(uint64(c.Uptime().Seconds()))}
		if pong.Seq == nil {
			pong.Seq = u32(0)
		}
		if err := c.Send(pong); err != nil {
			c.logger.Warn("pong failed", log.Err(err))
		}
	case KindPong:
		c.pongsReceived.Add(1)
		c.touch()
		if onPong != nil {
			onPong(m)
		}
	case KindCommand:
		c.runHandler(m)
	case KindEvent:
		if onEvent != nil {
			onEvent(m)
		}
	case KindStatus:
		if onStatus != nil {
			onStatus(m)
		}
	default:
		c.logger.Debug("ignoring message without discriminator")
	}
}

func (c *Channel) runHandler(m *Message) {
	c.mu.RLock()
	fn, ok := c.handlers[m.Cmd]
	c.mu.RUnlock()

	if !ok {
		c.unknownCommands.Add(1)
		c.logger.Warn("unknown command", log.String("cmd", m.Cmd))
		if err := c.SendStatus(StatusError, "unknown command: "+m.Cmd); err != nil {
			c.logger.Warn("reply failed", log.Err(err))
		}
		return
	}

	c.logger.Debug("handling command", log.String("cmd", m.Cmd))
	if reply := fn(m.Params); reply != nil {
		if err := c.Send(reply); err != nil {
			c.logger.Warn("reply failed", log.String("cmd", m.Cmd), log.Err(err))
		}
	}
}

func (c *Channel) touch() {
	c.lastPing.Store(c.now().UnixNano())
}

// monitor reports liveness transitions. It never closes the channel.
func (c *Channel) monitor(ctx context.Context) {
	t := time.NewTicker(c.cfg.MonitorInterval)
	defer t.Stop()

	state := liveUnknown
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		next := state
		switch {
		case c.IsConnected():
			next = liveUp
		case c.SinceLastPing() > c.cfg.PingTimeout:
			next = liveDown
		}
		if next == state {
			continue
		}
		state = next

		c.mu.RLock()
		onLive := c.onLive
		c.mu.RUnlock()

		if state == liveUp {
			c.logger.Info("peer alive")
		} else {
			c.logger.Warn("no ping from peer",
				log.Duration("since_last", c.SinceLastPing()),
				log.Duration("timeout", c.cfg.PingTimeout),
			)
		}
		if onLive != nil {
			onLive(state == liveUp)
		}
	}
}

func (c *Channel) pinger(ctx context.Context) {
	t := time.NewTicker(c.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := c.SendPing(); err != nil {
				c.logger.Debug("ping failed", log.Err(err))
			}
		}
	}
}
