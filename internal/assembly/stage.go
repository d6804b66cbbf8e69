package assembly

import (
	"errors"
	"fmt"
)

// Stage is a step of the assembly pipeline.
type Stage string

const (
	StageInitialized          Stage = "INITIALIZED"
	StageEncodingSegments     Stage = "ENCODING_SEGMENTS"
	StageConcatenatingVideo   Stage = "CONCATENATING_VIDEO"
	StageConcatenatingAudio   Stage = "CONCATENATING_AUDIO"
	StageMuxing               Stage = "MUXING"
	StageProbingFinalDuration Stage = "PROBING_FINAL_DURATION"
	StageCompleted            Stage = "COMPLETED"
	StageFailed               Stage = "FAILED"
)

// ErrInvalidTransition is returned when a stage is entered out of order.
var ErrInvalidTransition = errors.New("invalid stage transition")

// validTransitions defines the pipeline order. FAILED is reachable from any
// non-terminal stage.
var validTransitions = map[Stage][]Stage{
	StageInitialized:          {StageEncodingSegments, StageFailed},
	StageEncodingSegments:     {StageConcatenatingVideo, StageFailed},
	StageConcatenatingVideo:   {StageConcatenatingAudio, StageFailed},
	StageConcatenatingAudio:   {StageMuxing, StageFailed},
	StageMuxing:               {StageProbingFinalDuration, StageFailed},
	StageProbingFinalDuration: {StageCompleted, StageFailed},
	StageCompleted:            {},
	StageFailed:               {},
}

// IsTerminal reports whether no further transition is possible from s.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

func canTransition(from, to Stage) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StageObserver is notified of every stage a request enters.
type StageObserver func(Stage)

// tracker holds the current stage of one request.
type tracker struct {
	current  Stage
	observer StageObserver
}

func newTracker(observer StageObserver) *tracker {
	t := &tracker{current: StageInitialized, observer: observer}
	t.notify()
	return t
}

func (t *tracker) advance(to Stage) error {
	if !canTransition(t.current, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.current, to)
	}
	t.current = to
	t.notify()
	return nil
}

// fail moves to FAILED unless the request already reached a terminal stage.
func (t *tracker) fail() {
	if t.current.IsTerminal() {
		return
	}
	t.current = StageFailed
	t.notify()
}

func (t *tracker) notify() {
	if t.observer != nil {
		t.observer(t.current)
	}
}
