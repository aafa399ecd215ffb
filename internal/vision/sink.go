package vision

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/bft-labs/boardlink/internal/domain"
	"github.com/bft-labs/boardlink/internal/ports"
	"github.com/bft-labs/boardlink/pkg/log"
)

// Event names sent to the controller.
const (
	EventDetection   = "detection"
	EventRecognition = "recognition"
)

// Sink returns the DetectionSink the inference engine reports into.
// Results are forwarded only while recognition is active and detection
// is not paused.
func (b *Board) Sink() ports.DetectionSink {
	return boardSink{b}
}

type boardSink struct {
	b *Board
}

func (s boardSink) accepting() bool {
	return s.b.Mode() == domain.ModeRecognitionActive && !s.b.paused.Load()
}

func (s boardSink) OnDetection(d ports.Detection) {
	if !s.accepting() {
		return
	}
	s.forward(EventDetection, map[string]any{
		"faces":     d.Faces,
		"timestamp": d.Timestamp.UnixMilli(),
	})
}

func (s boardSink) OnRecognition(r ports.Recognition) {
	if !s.accepting() {
		return
	}
	s.forward(EventRecognition, map[string]any{
		"recognized": r.Recognized,
		"name":       r.Name,
		"confidence": r.Confidence,
		"timestamp":  r.Timestamp.UnixMilli(),
	})
}

func (s boardSink) forward(event string, data map[string]any) {
	if err := s.b.channel.SendEvent(event, data); err != nil {
		s.b.logger.Warn("event not delivered", log.String("event", event), log.Err(err))
		return
	}
	s.b.events.Add(1)
}

// SimulateRecognitions stands in for the inference engine: every interval
// it reports one face and then a recognition drawn from names, where an
// empty name means an unknown visitor. It returns when ctx is done.
func SimulateRecognitions(ctx context.Context, sink ports.DetectionSink, interval time.Duration, names []string) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			sink.OnDetection(ports.Detection{Faces: 1, Timestamp: now})
			r := ports.Recognition{Timestamp: now}
			if len(names) > 0 {
				r.Name = names[rand.IntN(len(names))]
			}
			if r.Name != "" {
				r.Recognized = true
				r.Confidence = 0.8 + rand.Float64()*0.2
			}
			sink.OnRecognition(r)
		}
	}
}

