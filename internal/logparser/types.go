// Package logparser folds a flat, newline-delimited @nix event stream
// into a nested, timed step tree. It never returns fatal errors mid
// stream: malformed lines are logged and skipped.
package logparser

import "time"

// EntryId identifies one Start/Stop pair. 0 is invalid and ignored.
type EntryId uint64

// LogEntry is the tagged union decoded from one JSON line. Exactly one
// of the typed fields is populated, selected by Action.
type LogEntry struct {
	Action string `json:"action"`

	// Start fields
	Id     EntryId `json:"id"`
	Level  int     `json:"level"`
	Parent EntryId `json:"parent"`
	Text   string  `json:"text"`
	Type   int     `json:"type"`

	// Msg fields
	Msg    string `json:"msg"`
	Column int    `json:"column"`
	File   string `json:"file"`
	Line   int    `json:"line"`

	// Result fields
	Fields []any `json:"fields"`
}

// Message is one Msg event attached to the active step that was most
// recently started and is still active when it arrived.
type Message struct {
	Text      string
	Timestamp time.Time
}

// ActiveStep is an in-progress Start with no matching Stop yet.
type ActiveStep struct {
	Text      string
	Level     int
	LogType   int
	Parent    EntryId
	HasParent bool
	StartedAt time.Time
	Messages  []Message
}

// FinishedStep is an ActiveStep stamped with its Stop's timestamp.
type FinishedStep struct {
	Id          EntryId
	Text        string
	Level       int
	LogType     int
	Parent      EntryId
	HasParent   bool
	StartedAt   time.Time
	Messages    []Message
	CompletedAt time.Time
}

func (s ActiveStep) complete(completedAt time.Time) FinishedStep {
	return FinishedStep{
		Text:        s.Text,
		Level:       s.Level,
		LogType:     s.LogType,
		Parent:      s.Parent,
		HasParent:   s.HasParent,
		StartedAt:   s.StartedAt,
		Messages:    s.Messages,
		CompletedAt: completedAt,
	}
}

// TimelineStep is the external projection of one level-3 step.
type TimelineStep struct {
	Text     string
	Duration time.Duration
	Children []TimelineStep
}

// Summary is the fully reconstructed parse result.
type Summary struct {
	StartedAt   time.Time
	CompletedAt time.Time
	TotalSteps  int
	Timeline    []TimelineStep
}
