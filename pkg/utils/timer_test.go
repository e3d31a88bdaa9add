package utils

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimer_Phases(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	timer := NewTimer("build", WithClock(clock))

	build := timer.Start("populate")
	clock.Advance(30 * time.Millisecond)
	assert.Equal(t, 30*time.Millisecond, build.Stop())

	elim := timer.Start("eliminate")
	child := timer.StartChild("eliminate", "verify")
	clock.Advance(5 * time.Millisecond)
	child.Stop()
	clock.Advance(5 * time.Millisecond)
	elim.Stop()

	phases := timer.Phases()
	require.Len(t, phases, 3)
	assert.Equal(t, "populate", phases[0].Name)
	assert.Equal(t, 0, phases[0].Level)
	assert.Equal(t, "verify", phases[2].Name)
	assert.Equal(t, 1, phases[2].Level)
	assert.Equal(t, "eliminate", phases[2].Parent)
	assert.Equal(t, 10*time.Millisecond, timer.Duration("eliminate"))
	assert.Equal(t, 40*time.Millisecond, timer.Total())
}

func TestTimer_StopIsIdempotent(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	timer := NewTimer("t", WithClock(clock))

	pt := timer.Start("p")
	clock.Advance(time.Second)
	first := pt.Stop()
	clock.Advance(time.Second)
	assert.Equal(t, first, pt.Stop())
}

func TestTimer_Disabled(t *testing.T) {
	timer := NewTimer("off", WithEnabled(false))
	pt := timer.Start("p")
	assert.Equal(t, time.Duration(0), pt.Stop())
	assert.Empty(t, timer.Summary())
	assert.Empty(t, timer.Phases())

	assert.Equal(t, time.Duration(0), NullTimer.Start("x").Stop())
}

func TestTimer_SummaryAndPrint(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	buf := &bytes.Buffer{}
	timer := NewTimer("callgraph", WithClock(clock), WithLogger(NewDefaultLogger(LevelInfo, buf)))

	_, err := timer.TimeFuncWithError("populate", func() error {
		clock.Advance(2 * time.Millisecond)
		return nil
	})
	require.NoError(t, err)

	summary := timer.Summary()
	assert.Contains(t, summary, "=== callgraph timing ===")
	assert.Contains(t, summary, "populate: 2ms")

	timer.PrintSummary()
	assert.Contains(t, buf.String(), "populate: 2ms")
	assert.Contains(t, buf.String(), "Total: 2ms")
}
