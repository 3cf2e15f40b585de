// Package transcript turns transcription events into an ordered,
// speaker-attributed list of lines.
//
// The line list only grows. Lines are never removed or reordered, and only
// the open line (the newest line of the active speaker) is rewritten in place
// while words keep arriving for it.
package transcript

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/stt"
)

// DefaultPlaceholder labels batch text that carries no speaker tags
const DefaultPlaceholder = "Detected Speaker"

// Line is one displayed utterance
type Line struct {
	ID            string    `json:"id"`
	Speaker       string    `json:"speaker"`
	Text          string    `json:"text"`
	Timestamp     time.Time `json:"timestamp"`
	IsHighlighted bool      `json:"isHighlighted"`
}

// String renders the line as "Speaker: text"
func (l Line) String() string {
	return fmt.Sprintf("%s: %s", l.Speaker, l.Text)
}

// Quote renders the line as a highlight excerpt
func (l Line) Quote() string {
	return fmt.Sprintf("%s said: \"%s\"", l.Speaker, l.Text)
}

// Resolver maps an opaque speaker id to a display label
type Resolver interface {
	Resolve(id *string) string
}

// Change describes a line that was created or rewritten
type Change struct {
	Line    Line
	Created bool
}

// Listener is notified after each change, outside the assembler lock
type Listener func(Change)

// cursor tracks the word accumulation for the open line
type cursor struct {
	speaker string
	words   []string
	line    int
	open    bool
}

// Assembler owns the line sequence and the accumulation cursor
type Assembler struct {
	resolver    Resolver
	placeholder string
	now         func() time.Time
	newID       func() string
	listener    Listener

	mu    sync.Mutex
	lines []Line
	index map[string]int
	cur   cursor
}

// Option configures an Assembler
type Option func(*Assembler)

// WithClock overrides the line timestamp source
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) { a.now = now }
}

// WithIDGenerator overrides line id generation
func WithIDGenerator(newID func() string) Option {
	return func(a *Assembler) { a.newID = newID }
}

// WithPlaceholder sets the label used for untagged batch text
func WithPlaceholder(label string) Option {
	return func(a *Assembler) {
		if label != "" {
			a.placeholder = label
		}
	}
}

// WithListener registers a change listener
func WithListener(l Listener) Option {
	return func(a *Assembler) { a.listener = l }
}

// NewAssembler creates an empty transcript
func NewAssembler(resolver Resolver, opts ...Option) *Assembler {
	a := &Assembler{
		resolver:    resolver,
		placeholder: DefaultPlaceholder,
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
		index:       make(map[string]int),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply feeds one event to the assembler and reports whether the transcript changed.
// Error events are not transcript content and are ignored here.
func (a *Assembler) Apply(e stt.Event) bool {
	var changes []Change

	a.mu.Lock()
	switch e.Type {
	case stt.EventWord:
		if c, ok := a.applyWord(e); ok {
			changes = append(changes, c)
		}
	case stt.EventSegmentComplete:
		a.cur = cursor{}
	case stt.EventTranscription:
		text := strings.TrimSpace(e.Text)
		if text != "" {
			// A whole utterance supersedes the open line
			a.cur = cursor{}
			changes = append(changes, a.appendLine(a.resolver.Resolve(e.SpeakerID), text))
		}
	case stt.EventBatch:
		changes = a.applyBatch(e.Words, e.Text)
	}
	a.mu.Unlock()

	a.notify(changes)
	return len(changes) > 0
}

// ApplyBatch appends the lines of one diarized batch and returns how many were created
func (a *Assembler) ApplyBatch(words []stt.Word, text string) int {
	a.mu.Lock()
	changes := a.applyBatch(words, text)
	a.mu.Unlock()

	a.notify(changes)
	return len(changes)
}

func (a *Assembler) applyWord(e stt.Event) (Change, bool) {
	word := strings.TrimSpace(e.Text)
	if word == "" {
		return Change{}, false
	}

	label := a.resolver.Resolve(e.SpeakerID)
	if a.cur.open && a.cur.speaker == label {
		a.cur.words = append(a.cur.words, word)
		line := &a.lines[a.cur.line]
		line.Text = strings.Join(a.cur.words, " ")
		return Change{Line: *line}, true
	}

	change := a.appendLine(label, word)
	a.cur = cursor{
		speaker: label,
		words:   []string{word},
		line:    len(a.lines) - 1,
		open:    true,
	}
	return change, true
}

// applyBatch groups a batch's words by speaker transitions within the batch.
// Batches never merge with each other or with the incremental cursor.
func (a *Assembler) applyBatch(words []stt.Word, text string) []Change {
	a.cur = cursor{}

	var (
		changes []Change
		tagged  bool
		kept    []stt.Word
	)
	for _, w := range words {
		w.Text = strings.TrimSpace(w.Text)
		if w.Text == "" {
			continue
		}
		if w.SpeakerID != nil && *w.SpeakerID != "" {
			tagged = true
		}
		kept = append(kept, w)
	}

	if !tagged {
		body := strings.TrimSpace(text)
		if body == "" {
			parts := make([]string, 0, len(kept))
			for _, w := range kept {
				parts = append(parts, w.Text)
			}
			body = strings.Join(parts, " ")
		}
		if body == "" {
			return nil
		}
		return append(changes, a.appendLine(a.placeholder, body))
	}

	var (
		speaker string
		pending []string
	)
	flush := func() {
		if len(pending) > 0 {
			changes = append(changes, a.appendLine(speaker, strings.Join(pending, " ")))
		}
		pending = nil
	}

	for _, w := range kept {
		label := a.resolver.Resolve(w.SpeakerID)
		if len(pending) > 0 && label != speaker {
			flush()
		}
		speaker = label
		pending = append(pending, w.Text)
	}
	flush()

	return changes
}

func (a *Assembler) appendLine(speaker, text string) Change {
	line := Line{
		ID:        a.newID(),
		Speaker:   speaker,
		Text:      text,
		Timestamp: a.now(),
	}
	a.lines = append(a.lines, line)
	a.index[line.ID] = len(a.lines) - 1
	return Change{Line: line, Created: true}
}

func (a *Assembler) notify(changes []Change) {
	if a.listener == nil {
		return
	}
	for _, c := range changes {
		a.listener(c)
	}
}

// Toggle flips the highlight of the line with id. Unknown ids are a no-op.
func (a *Assembler) Toggle(id string) (Line, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	i, ok := a.index[id]
	if !ok {
		return Line{}, false
	}
	a.lines[i].IsHighlighted = !a.lines[i].IsHighlighted
	return a.lines[i], true
}

// Lines returns a copy of the transcript
func (a *Assembler) Lines() []Line {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Line, len(a.lines))
	copy(out, a.lines)
	return out
}

// Highlighted returns the highlighted lines in transcript order
func (a *Assembler) Highlighted() []Line {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []Line
	for _, l := range a.lines {
		if l.IsHighlighted {
			out = append(out, l)
		}
	}
	return out
}

// Get returns the line with id
func (a *Assembler) Get(id string) (Line, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	i, ok := a.index[id]
	if !ok {
		return Line{}, false
	}
	return a.lines[i], true
}

// Len returns the number of lines
func (a *Assembler) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.lines)
}

// OpenLine returns the id of the line still receiving words, if any
func (a *Assembler) OpenLine() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.cur.open {
		return "", false
	}
	return a.lines[a.cur.line].ID, true
}
