// Package reconcile keeps the vision board's reported mode in line with the
// mode the controller wants, re-issuing commands until they converge.
package reconcile

import (
	"sync/atomic"

	"github.com/bft-labs/boardlink/internal/domain"
	"github.com/bft-labs/boardlink/pkg/log"
)

// State holds the desired and actual modes. Desired is written only by
// command-issuing code. Actual has two writers: the status handler, and the
// liveness monitor when the board goes silent. Both fields are atomic, so
// the last write wins and readers never see a torn value.
type State struct {
	desired atomic.Int32
	actual  atomic.Int32
	logger  log.Logger
}

// NewState returns a state with both modes at Standby.
func NewState(logger log.Logger) *State {
	s := &State{logger: log.OrNoop(logger)}
	s.desired.Store(int32(domain.ModeStandby))
	s.actual.Store(int32(domain.ModeStandby))
	return s
}

// SetDesired records the mode the controller wants. Setting the current
// value is a no-op.
func (s *State) SetDesired(m domain.Mode) {
	old := domain.Mode(s.desired.Swap(int32(m)))
	if old != m {
		s.logger.Info("desired mode changed",
			log.String("from", old.String()),
			log.String("to", m.String()),
		)
	}
}

// SetActual records the mode last reported by the vision board.
func (s *State) SetActual(m domain.Mode) {
	old := domain.Mode(s.actual.Swap(int32(m)))
	if old != m {
		s.logger.Debug("actual mode changed",
			log.String("from", old.String()),
			log.String("to", m.String()),
		)
	}
}

// Desired returns the desired mode.
func (s *State) Desired() domain.Mode {
	return domain.Mode(s.desired.Load())
}

// Actual returns the last reported mode.
func (s *State) Actual() domain.Mode {
	return domain.Mode(s.actual.Load())
}

// InSync reports whether desired equals actual.
func (s *State) InSync() bool {
	return s.Desired() == s.Actual()
}
