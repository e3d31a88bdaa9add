package utils

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// TimerOutput receives the lines of a timing summary.
type TimerOutput interface {
	Output(format string, args ...interface{})
}

// LoggerOutput adapts Logger to TimerOutput.
type LoggerOutput struct {
	Logger Logger
}

// Output implements TimerOutput using Logger.Info.
func (o *LoggerOutput) Output(format string, args ...interface{}) {
	if o.Logger != nil {
		o.Logger.Info(format, args...)
	}
}

// Phase is one named, possibly nested, timing interval.
type Phase struct {
	Name     string
	Parent   string
	Level    int
	Start    time.Time
	Duration time.Duration
	done     bool
}

// PhaseTimer stops a running phase. Use it with defer.
type PhaseTimer struct {
	timer *Timer
	name  string
}

// Stop records the duration of the phase. Only the first call has effect.
func (pt *PhaseTimer) Stop() time.Duration {
	return pt.timer.stop(pt.name)
}

// Timer records build phases such as population and cycle elimination.
type Timer struct {
	mu      sync.Mutex
	name    string
	start   time.Time
	phases  map[string]*Phase
	order   []string
	output  TimerOutput
	enabled bool
	clock   Clock
}

// TimerOption configures a Timer instance.
type TimerOption func(*Timer)

// WithLogger sets a Logger as the summary output.
func WithLogger(logger Logger) TimerOption {
	return func(t *Timer) {
		if logger != nil {
			t.output = &LoggerOutput{Logger: logger}
		}
	}
}

// WithEnabled toggles the timer. A disabled timer is a no-op.
func WithEnabled(enabled bool) TimerOption {
	return func(t *Timer) {
		t.enabled = enabled
	}
}

// WithClock sets a custom clock.
func WithClock(clock Clock) TimerOption {
	return func(t *Timer) {
		t.clock = clock
	}
}

// NewTimer creates a new Timer with the given name and options.
func NewTimer(name string, opts ...TimerOption) *Timer {
	t := &Timer{
		name:    name,
		phases:  make(map[string]*Phase),
		enabled: true,
		clock:   NewRealClock(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.start = t.clock.Now()
	return t
}

// Start begins a top level phase.
func (t *Timer) Start(name string) *PhaseTimer {
	return t.StartChild("", name)
}

// StartChild begins a phase nested under parent.
func (t *Timer) StartChild(parent, name string) *PhaseTimer {
	pt := &PhaseTimer{timer: t, name: name}
	if !t.enabled {
		return pt
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	level := 0
	if p, ok := t.phases[parent]; ok {
		level = p.Level + 1
	}
	if _, exists := t.phases[name]; !exists {
		t.order = append(t.order, name)
	}
	t.phases[name] = &Phase{Name: name, Parent: parent, Level: level, Start: t.clock.Now()}
	return pt
}

func (t *Timer) stop(name string) time.Duration {
	if !t.enabled {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.phases[name]
	if !ok {
		return 0
	}
	if !p.done {
		p.Duration = t.clock.Since(p.Start)
		p.done = true
	}
	return p.Duration
}

// Duration returns the recorded duration of a phase.
func (t *Timer) Duration(name string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.phases[name]; ok {
		return p.Duration
	}
	return 0
}

// Total returns the time elapsed since the timer was created.
func (t *Timer) Total() time.Duration {
	return t.clock.Since(t.start)
}

// Phases returns copies of all phases in start order.
func (t *Timer) Phases() []Phase {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Phase, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, *t.phases[name])
	}
	return out
}

// Summary renders all phases, indented by nesting level.
func (t *Timer) Summary() string {
	if !t.enabled {
		return ""
	}
	var sb strings.Builder
	for _, line := range t.lines() {
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return sb.String()
}

// PrintSummary writes the summary to the configured output.
func (t *Timer) PrintSummary() {
	if !t.enabled || t.output == nil {
		return
	}
	for _, line := range t.lines() {
		t.output.Output("%s", line)
	}
}

func (t *Timer) lines() []string {
	phases := t.Phases()
	lines := make([]string, 0, len(phases)+2)
	lines = append(lines, fmt.Sprintf("=== %s timing ===", t.name))
	for _, p := range phases {
		lines = append(lines, fmt.Sprintf("%s%s: %v", strings.Repeat("  ", p.Level), p.Name, p.Duration))
	}
	lines = append(lines, fmt.Sprintf("Total: %v", t.Total()))
	return lines
}

// TimeFuncWithError times fn as a top level phase.
func (t *Timer) TimeFuncWithError(name string, fn func() error) (time.Duration, error) {
	pt := t.Start(name)
	err := fn()
	return pt.Stop(), err
}

// NullTimer is a disabled timer.
var NullTimer = NewTimer("null", WithEnabled(false))
