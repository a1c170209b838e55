package history

import (
	"time"

	"github.com/unkn0wn-root/restflow/internal/telemetry"
)

type TraceSummary struct {
	Started   time.Time     `json:"started,omitempty"`
	Completed time.Time     `json:"completed,omitempty"`
	Duration  time.Duration `json:"duration"`
	Phases    []TracePhase  `json:"phases,omitempty"`
}

type TracePhase struct {
	Kind     string        `json:"kind"`
	Duration time.Duration `json:"duration"`
	Addr     string        `json:"addr,omitempty"`
	Reused   bool          `json:"reused,omitempty"`
}

func NewTraceSummary(tl *telemetry.Timeline) *TraceSummary {
	if tl == nil {
		return nil
	}
	summary := &TraceSummary{
		Started:   tl.Started,
		Completed: tl.Completed,
		Duration:  tl.Duration(),
	}
	if len(tl.Phases) == 0 {
		return summary
	}
	summary.Phases = make([]TracePhase, len(tl.Phases))
	for i, phase := range tl.Phases {
		summary.Phases[i] = TracePhase{
			Kind:     phase.Kind,
			Duration: phase.Duration(),
			Addr:     phase.Addr,
			Reused:   phase.Reused,
		}
	}
	return summary
}

func (s *TraceSummary) Phase(kind string) (TracePhase, bool) {
	if s == nil {
		return TracePhase{}, false
	}
	for _, p := range s.Phases {
		if p.Kind == kind {
			return p, true
		}
	}
	return TracePhase{}, false
}
