package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/bft-labs/boardlink/internal/domain"
	"github.com/bft-labs/boardlink/internal/ports"
	"github.com/bft-labs/boardlink/pkg/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Backend endpoints, relative to the base URL. %s is the device id.
const (
	faceDetectionPath = "/api/v1/devices/%s/face-detection"
	cameraStreamPath  = "/api/v1/devices/%s/stream/camera"
	audioStreamPath   = "/api/v1/devices/%s/stream/audio"
)

// maxErrorBody caps how much of a failed response is quoted in the error.
const maxErrorBody = 512

// Config identifies the backend and this device.
type Config struct {
	BaseURL  string
	DeviceID string
	AuthKey  string
}

// Uploader implements ports.Sender over HTTP. Face events and camera
// frames go as multipart forms; audio goes as a raw octet stream.
type Uploader struct {
	client ports.HTTPClient
	cfg    Config
	logger log.Logger
}

// NewUploader creates an uploader. A nil client uses http.DefaultClient;
// per-request timeouts come from the caller's context.
func NewUploader(client ports.HTTPClient, cfg Config, logger log.Logger) *Uploader {
	if client == nil {
		client = http.DefaultClient
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Uploader{client: client, cfg: cfg, logger: log.OrNoop(logger)}
}

// Send uploads one item according to its kind.
func (u *Uploader) Send(ctx context.Context, item domain.UploadItem) error {
	switch item.Kind {
	case domain.KindFaceDetection:
		return u.sendFace(ctx, item)
	case domain.KindCameraFrame:
		return u.sendFrame(ctx, item)
	case domain.KindAudioChunk:
		return u.sendAudio(ctx, item)
	default:
		return fmt.Errorf("%w: unknown item kind %d", domain.ErrInvalidArgument, item.Kind)
	}
}

func (u *Uploader) endpoint(format string) string {
	return u.cfg.BaseURL + fmt.Sprintf(format, url.PathEscape(u.cfg.DeviceID))
}

func (u *Uploader) sendFace(ctx context.Context, item domain.UploadItem) error {
	fields := [][2]string{
		{"device_id", u.cfg.DeviceID},
		{"recognized", strconv.FormatBool(item.Meta.Recognized)},
		{"name", item.Meta.Name},
		{"confidence", strconv.FormatFloat(item.Meta.Confidence, 'f', 3, 64)},
		{"timestamp", strconv.FormatInt(item.Meta.Timestamp.UnixMilli(), 10)},
	}
	body, contentType, err := multipartBody(fields, "image", "face.jpg", item.Payload)
	if err != nil {
		return err
	}

	respBody, err := u.post(ctx, u.endpoint(faceDetectionPath), contentType, body, nil)
	if err != nil {
		return err
	}

	var resp struct {
		EventID string `json:"event_id"`
	}
	if len(respBody) > 0 && json.Unmarshal(respBody, &resp) == nil && resp.EventID != "" {
		u.logger.Info("face event stored",
			log.String("event_id", resp.EventID),
			log.Bool("recognized", item.Meta.Recognized),
			log.String("name", item.Meta.Name),
		)
	}
	return nil
}

func (u *Uploader) sendFrame(ctx context.Context, item domain.UploadItem) error {
	fields := [][2]string{
		{"device_id", u.cfg.DeviceID},
		{"frame_id", strconv.FormatUint(uint64(item.Meta.FrameID), 10)},
		{"timestamp", strconv.FormatInt(item.Meta.Timestamp.UnixMilli(), 10)},
	}
	body, contentType, err := multipartBody(fields, "frame", "frame.jpg", item.Payload)
	if err != nil {
		return err
	}
	_, err = u.post(ctx, u.endpoint(cameraStreamPath), contentType, body, nil)
	return err
}

func (u *Uploader) sendAudio(ctx context.Context, item domain.UploadItem) error {
	headers := map[string]string{
		"X-Device-ID": u.cfg.DeviceID,
		"X-Sequence":  strconv.FormatUint(uint64(item.Meta.Sequence), 10),
	}
	_, err := u.post(ctx, u.endpoint(audioStreamPath), "application/octet-stream", bytes.NewReader(item.Payload), headers)
	return err
}

// multipartBody builds a form with the given text fields followed by one
// JPEG file part.
func multipartBody(fields [][2]string, fileField, fileName string, data []byte) (io.Reader, string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f[0], err)
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, fileField, fileName))
	h.Set("Content-Type", "image/jpeg")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create %s part: %w", fileField, err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("write %s part: %w", fileField, err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("finalize multipart: %w", err)
	}
	return &body, w.FormDataContentType(), nil
}

func (u *Uploader) post(ctx context.Context, endpoint, contentType string, body io.Reader, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if u.cfg.AuthKey != "" {
		req.Header.Set("Authorization", "Bearer "+u.cfg.AuthKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode/100 != 2 {
		excerpt := respBody
		if len(excerpt) > maxErrorBody {
			excerpt = excerpt[:maxErrorBody]
		}
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(excerpt))
	}
	return respBody, nil
}
