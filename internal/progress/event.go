package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageDispatchStart  Stage = "DISPATCH_START"
	StageDispatchDone   Stage = "DISPATCH_DONE"
	StageSessionStart   Stage = "SESSION_START"
	StageQuerySubmitted Stage = "QUERY_SUBMITTED"
	StageResultsLoaded  Stage = "RESULTS_LOADED"
	StagePageDone       Stage = "PAGE_DONE"
	StageRowDone        Stage = "ROW_DONE"
	StageRowSkipped     Stage = "ROW_SKIPPED"
	StageSessionDone    Stage = "SESSION_DONE"
	StageSessionEmpty   Stage = "SESSION_EMPTY"
	StageSessionError   Stage = "SESSION_ERROR"
)

// Event captures a single milestone of a dispatch or of one keyword session.
type Event struct {
	// DispatchID groups every session of one keyword set.
	DispatchID string
	// Keyword scopes session and row events; dispatch events leave it empty.
	Keyword string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Page is the 1-based page number the session was on.
	Page int
	// Row is the row index within the page for row-level stages.
	Row int
	// Found carries the session's collected-item count, or the keyword
	// count for dispatch-level stages.
	Found int
	// Dur captures elapsed time for terminal stages.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.DispatchID == "" {
		return errors.New("dispatch id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageDispatchStart, StageDispatchDone:
	case StageSessionStart, StageQuerySubmitted, StageResultsLoaded,
		StagePageDone, StageRowDone, StageRowSkipped,
		StageSessionDone, StageSessionEmpty, StageSessionError:
		if e.Keyword == "" {
			return fmt.Errorf("stage %s requires a keyword", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the stage ends a session.
func (e Event) Terminal() bool {
	switch e.Stage {
	case StageSessionDone, StageSessionEmpty, StageSessionError:
		return true
	default:
		return false
	}
}
