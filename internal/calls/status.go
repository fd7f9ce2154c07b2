package calls

import "strings"

// Status is the session lifecycle state:
//
//	ringing -> in_progress -> {completed, failed, no_answer}
//
// Carrier strings outside the mapping table become an unknown Status holding
// the raw value; unknown statuses never move a session.
type Status string

const (
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusNoAnswer   Status = "no_answer"
)

// carrierStatuses is the complete table of carrier status strings we understand.
var carrierStatuses = map[string]Status{
	"queued":      StatusRinging,
	"initiated":   StatusRinging,
	"ringing":     StatusRinging,
	"in-progress": StatusInProgress,
	"answered":    StatusInProgress,
	"completed":   StatusCompleted,
	"busy":        StatusFailed,
	"failed":      StatusFailed,
	"no-answer":   StatusNoAnswer,
	"canceled":    StatusNoAnswer,
}

// MapCarrierStatus translates a carrier status string. Unmapped values are
// returned verbatim (lower-cased, trimmed) and report Known() == false.
func MapCarrierStatus(raw string) Status {
	key := strings.ToLower(strings.TrimSpace(raw))
	if s, ok := carrierStatuses[key]; ok {
		return s
	}
	return Status(key)
}

const (
	rankUnknown  = -1
	rankRinging  = 1
	rankProgress = 2
	rankTerminal = 3
)

func (s Status) rank() int {
	switch s {
	case StatusRinging:
		return rankRinging
	case StatusInProgress:
		return rankProgress
	case StatusCompleted, StatusFailed, StatusNoAnswer:
		return rankTerminal
	default:
		return rankUnknown
	}
}

func (s Status) Known() bool { return s.rank() != rankUnknown }

// Terminal reports whether s is a sink state.
func (s Status) Terminal() bool { return s.rank() == rankTerminal }

// Advance returns the status a session at current should hold after seeing next,
// and whether that is a change. Terminal sessions never move; unknown statuses
// never move a session; equal or lower ranks are ignored.
func Advance(current, next Status) (Status, bool) {
	if current.Terminal() || !next.Known() {
		return current, false
	}
	if next.rank() <= current.rank() {
		return current, false
	}
	return next, true
}
