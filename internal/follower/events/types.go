// Package events defines the records and signals a feed hands to its consumer.
package events

import (
	"encoding/json"
	"time"
)

// Discipline is the wire-framing convention of a feed response.
type Discipline string

const (
	// DisciplineContinuous frames one JSON object per line; blank lines are heartbeats.
	DisciplineContinuous Discipline = "continuous"
	// DisciplineLongpoll frames one JSON document carrying a "results" array.
	DisciplineLongpoll Discipline = "longpoll"
)

// IsValid checks if the discipline is a known value.
func (d Discipline) IsValid() bool {
	switch d {
	case DisciplineContinuous, DisciplineLongpoll:
		return true
	default:
		return false
	}
}

// Signal names an event emitted by a feed or a change parser.
type Signal string

// Feed lifecycle signals.
const (
	SignalStart     Signal = "start"
	SignalConfirm   Signal = "confirm"
	SignalWait      Signal = "wait"
	SignalHeartbeat Signal = "heartbeat"
	SignalResponse  Signal = "response"
	SignalChange    Signal = "change"
	SignalCatchup   Signal = "catchup"
	SignalTimeout   Signal = "timeout"
	SignalRestart   Signal = "restart"
	SignalPause     Signal = "pause"
	SignalResume    Signal = "resume"
	SignalStop      Signal = "stop"
	SignalError     Signal = "error"
)

// Parser signals. Heartbeat and error are shared with the feed.
const (
	SignalData Signal = "data"
	SignalEnd  Signal = "end"
)

// ChangeRecord is one mutation delivered by the feed.
type ChangeRecord struct {
	// Seq is the 1-based position of the document in the ordered snapshot.
	Seq int64 `json:"seq"`
	// ID is the source document ID.
	ID string `json:"id,omitempty"`
	// Doc is the document body as relaxed extended JSON.
	Doc json.RawMessage `json:"doc,omitempty"`
}

// HasDoc reports whether the record carries a document body.
func (r *ChangeRecord) HasDoc() bool {
	return len(r.Doc) > 0 && string(r.Doc) != "null"
}

// TimeoutInfo is the payload of a timeout signal.
type TimeoutInfo struct {
	Elapsed   time.Duration `json:"elapsed"`
	Heartbeat time.Duration `json:"heartbeat"`
	ID        string        `json:"id"`
}
