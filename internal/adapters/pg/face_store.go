// Package pg records face detection events in PostgreSQL.
package pg

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bft-labs/boardlink/internal/domain"
	"github.com/bft-labs/boardlink/pkg/log"
)

// FaceEvent is one stored detection.
type FaceEvent struct {
	ID         int64
	DeviceID   string
	FrameID    uint32
	Recognized bool
	Name       string
	Confidence float64
	ImageBytes int
	DetectedAt time.Time
}

// FaceStore implements ports.Sender for face detections. It keeps the
// event metadata and, when StoreImages is set, the JPEG.
type FaceStore struct {
	mu          sync.Mutex
	conn        *pgx.Conn
	deviceID    string
	storeImages bool
	logger      log.Logger
}

// Open connects and creates the schema if needed.
func Open(ctx context.Context, dsn, deviceID string, storeImages bool, logger log.Logger) (*FaceStore, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &FaceStore{
		conn:        conn,
		deviceID:    deviceID,
		storeImages: storeImages,
		logger:      log.OrNoop(logger),
	}, nil
}

func initSchema(ctx context.Context, conn *pgx.Conn) error {
	_, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS face_events (
			id BIGSERIAL PRIMARY KEY,
			device_id TEXT NOT NULL,
			frame_id BIGINT NOT NULL,
			recognized BOOLEAN NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			image_bytes INT NOT NULL,
			image BYTEA,
			detected_at TIMESTAMPTZ NOT NULL,
			stored_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS face_events_device_time_idx ON face_events (device_id, detected_at);
	`)
	return err
}

// Close terminates the connection.
func (s *FaceStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close(ctx)
}

// Send stores a face detection item. Other kinds are rejected.
func (s *FaceStore) Send(ctx context.Context, item domain.UploadItem) error {
	if item.Kind != domain.KindFaceDetection {
		return fmt.Errorf("%w: face store cannot take %s", domain.ErrInvalidArgument, item.Kind)
	}
	var image []byte
	if s.storeImages {
		image = item.Payload
	}
	detected := item.Meta.Timestamp
	if detected.IsZero() {
		detected = item.EnqueuedAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var id int64
	err := s.conn.QueryRow(ctx, `
		INSERT INTO face_events (device_id, frame_id, recognized, name, confidence, image_bytes, image, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, s.deviceID, int64(item.Meta.FrameID), item.Meta.Recognized, item.Meta.Name,
		item.Meta.Confidence, len(item.Payload), image, detected).Scan(&id)
	if err != nil {
		return fmt.Errorf("insert face event: %w", err)
	}
	s.logger.Debug("face event stored", log.Int64("id", id), log.Bool("recognized", item.Meta.Recognized))
	return nil
}

// Recent returns up to limit events for this device, newest first. An
// empty table gives an empty slice.
func (s *FaceStore) Recent(ctx context.Context, limit int) ([]FaceEvent, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.conn.Query(ctx, `
		SELECT id, device_id, frame_id, recognized, name, confidence, image_bytes, detected_at
		FROM face_events WHERE device_id = $1
		ORDER BY detected_at DESC, id DESC LIMIT $2
	`, s.deviceID, limit)
	if err != nil {
		return nil, err
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (FaceEvent, error) {
		var e FaceEvent
		var frameID int64
		err := row.Scan(&e.ID, &e.DeviceID, &frameID, &e.Recognized, &e.Name, &e.Confidence, &e.ImageBytes, &e.DetectedAt)
		e.FrameID = uint32(frameID)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("read face events: %w", err)
	}
	return events, nil
}
