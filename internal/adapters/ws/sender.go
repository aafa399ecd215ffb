// Package ws streams upload items to the backend over a single WebSocket.
package ws

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/bft-labs/boardlink/internal/domain"
	"github.com/bft-labs/boardlink/pkg/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const streamPath = "/api/v1/devices/%s/stream/ws"

// Header precedes every binary payload as a JSON text message.
type Header struct {
	RequestID  string  `json:"request_id"`
	Kind       string  `json:"kind"`
	DeviceID   string  `json:"device_id"`
	FrameID    uint32  `json:"frame_id,omitempty"`
	Sequence   uint32  `json:"sequence,omitempty"`
	Timestamp  int64   `json:"timestamp"`
	Recognized bool    `json:"recognized,omitempty"`
	Name       string  `json:"name,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Size       int     `json:"size"`
}

// Config identifies the backend and this device.
type Config struct {
	BaseURL  string
	DeviceID string
	AuthKey  string
}

// Sender implements ports.Sender over a WebSocket. It dials on first use
// and after any failure, so a broken connection costs one item.
type Sender struct {
	cfg    Config
	dialer *websocket.Dialer
	logger log.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewSender creates a sender. BaseURL may use http(s) or ws(s).
func NewSender(cfg Config, logger log.Logger) *Sender {
	return &Sender{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		logger: log.OrNoop(logger),
	}
}

// URL returns the WebSocket endpoint for this device.
func (s *Sender) URL() (string, error) {
	u, err := url.Parse(strings.TrimRight(s.cfg.BaseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", domain.ErrInvalidConfig, u.Scheme)
	}
	u.Path += fmt.Sprintf(streamPath, url.PathEscape(s.cfg.DeviceID))
	return u.String(), nil
}

// Send writes the item's header and payload.
func (s *Sender) Send(ctx context.Context, item domain.UploadItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		if err := s.dial(ctx); err != nil {
			return err
		}
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	_ = s.conn.SetWriteDeadline(deadline)

	hdr := Header{
		RequestID:  uuid.NewString(),
		Kind:       item.Kind.String(),
		DeviceID:   s.cfg.DeviceID,
		FrameID:    item.Meta.FrameID,
		Sequence:   item.Meta.Sequence,
		Timestamp:  item.Meta.Timestamp.UnixMilli(),
		Recognized: item.Meta.Recognized,
		Name:       item.Meta.Name,
		Confidence: item.Meta.Confidence,
		Size:       len(item.Payload),
	}
	b, err := json.Marshal(hdr)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		s.drop(err)
		return fmt.Errorf("write header: %w", err)
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, item.Payload); err != nil {
		s.drop(err)
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// Close closes the connection, if any.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *Sender) dial(ctx context.Context) error {
	endpoint, err := s.URL()
	if err != nil {
		return err
	}
	h := http.Header{}
	if s.cfg.AuthKey != "" {
		h.Set("Authorization", "Bearer "+s.cfg.AuthKey)
	}
	conn, resp, err := s.dialer.DialContext(ctx, endpoint, h)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %s: %w", endpoint, resp.Status, err)
		}
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}
	s.conn = conn
	s.logger.Info("backend websocket connected", log.String("url", endpoint))

	// Drain control frames so pings and close frames from the backend
	// are processed; the reader exits when the connection breaks.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
	return nil
}

func (s *Sender) drop(err error) {
	s.logger.Warn("backend websocket dropped", log.Err(err))
	s.conn.Close()
	s.conn = nil
}
