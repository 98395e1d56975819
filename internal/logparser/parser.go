package logparser

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"time"
)

// linePrefix is the fixed four-character-plus-space prefix a relevant
// line begins with. Non-matching lines are dropped without erroring.
const linePrefix = "@nix "

// Parser folds a stream of @nix lines into Start/Stop/Msg/Result events.
// It keeps active steps in a map plus a side slice of ids in arrival
// order, since Go's map type has no ordered "last-inserted key" accessor.
type Parser struct {
	clock  func() time.Time
	logger *slog.Logger

	active      map[EntryId]ActiveStep
	activeOrder []EntryId
	finished    []FinishedStep
}

// New builds a Parser. logger may be nil, in which case slog.Default is
// used for warn-level diagnostics on malformed input.
func New(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{
		clock:  time.Now,
		logger: logger,
		active: make(map[EntryId]ActiveStep),
	}
}

// WithClock overrides the time source used to stamp Start/Stop events.
// Exposed for deterministic tests.
func (p *Parser) WithClock(clock func() time.Time) *Parser {
	p.clock = clock
	return p
}

// ParseLines drives the reader to EOF, processing one @nix line at a
// time. It never returns an error: malformed JSON is logged and skipped.
func (p *Parser) ParseLines(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.processLine(scanner.Text())
	}
}

func (p *Parser) processLine(line string) {
	rest, ok := strings.CutPrefix(line, linePrefix)
	if !ok {
		return
	}

	var entry LogEntry
	if err := json.Unmarshal([]byte(rest), &entry); err != nil {
		p.logger.Warn("logparser: malformed json line, skipping", "error", err)
		return
	}

	switch entry.Action {
	case "start":
		p.handleStart(entry)
	case "stop":
		p.handleStop(entry)
	case "msg":
		p.handleMsg(entry)
	case "result":
		// Reserved; the default parser ignores Result entries.
	default:
		p.logger.Warn("logparser: unknown action, skipping", "action", entry.Action)
	}
}

func (p *Parser) handleStart(e LogEntry) {
	if e.Id == 0 {
		p.logger.Warn("logparser: start with id 0 ignored")
		return
	}
	if _, exists := p.active[e.Id]; exists {
		p.logger.Warn("logparser: duplicate start id, overwriting", "id", e.Id)
		p.activeOrder = removeFromOrder(p.activeOrder, e.Id)
	}
	p.active[e.Id] = ActiveStep{
		Text:      e.Text,
		Level:     e.Level,
		LogType:   e.Type,
		Parent:    e.Parent,
		HasParent: e.Parent != 0,
		StartedAt: p.clock(),
	}
	p.activeOrder = append(p.activeOrder, e.Id)
}

func (p *Parser) handleStop(e LogEntry) {
	if e.Id == 0 {
		p.logger.Warn("logparser: stop with id 0 ignored")
		return
	}
	step, ok := p.active[e.Id]
	if !ok {
		p.logger.Warn("logparser: stop for unknown or already-stopped id", "id", e.Id)
		return
	}
	delete(p.active, e.Id)
	p.activeOrder = removeFromOrder(p.activeOrder, e.Id)

	finished := step.complete(p.clock())
	finished.Id = e.Id
	p.finished = append(p.finished, finished)
}

func (p *Parser) handleMsg(e LogEntry) {
	if len(p.activeOrder) == 0 {
		return
	}
	targetID := p.activeOrder[len(p.activeOrder)-1]
	step := p.active[targetID]
	step.Messages = append(step.Messages, Message{Text: e.Msg, Timestamp: p.clock()})
	p.active[targetID] = step
}

func removeFromOrder(order []EntryId, id EntryId) []EntryId {
	for i, v := range order {
		if v == id {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}

// IntoOutput consumes the parser's accumulated state, producing the
// nested timeline. Build happens once here, never incrementally.
func (p *Parser) IntoOutput(startedAt, completedAt time.Time) Summary {
	byID := make(map[EntryId]FinishedStep, len(p.finished))
	for _, step := range p.finished {
		byID[step.Id] = step
	}

	return Summary{
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		TotalSteps:  len(p.finished),
		Timeline:    buildTimeline(p.finished, byID),
	}
}

func buildTimeline(finishedOrder []FinishedStep, byID map[EntryId]FinishedStep) []TimelineStep {
	var roots []TimelineStep
	for _, step := range finishedOrder {
		if step.Level != 3 {
			continue
		}
		if step.HasParent {
			if _, exists := byID[step.Parent]; exists {
				continue
			}
		}
		roots = append(roots, buildStepTree(step, finishedOrder))
	}
	return roots
}

func buildStepTree(step FinishedStep, finishedOrder []FinishedStep) TimelineStep {
	var children []TimelineStep
	for _, candidate := range finishedOrder {
		if candidate.Level == 3 && candidate.HasParent && candidate.Parent == step.Id {
			children = append(children, buildStepTree(candidate, finishedOrder))
		}
	}
	return TimelineStep{
		Text:     step.Text,
		Duration: step.CompletedAt.Sub(step.StartedAt),
		Children: children,
	}
}
