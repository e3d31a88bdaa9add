package callgraph

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipo-callgraph/internal/program"
	"github.com/ipo-callgraph/internal/testutil"
	apperrors "github.com/ipo-callgraph/pkg/errors"
)

func refStrings(methods []program.Method) []string {
	out := make([]string, len(methods))
	for i, m := range methods {
		out[i] = m.Ref.String()
	}
	return out
}

func TestGraph_ExtractLeaves(t *testing.T) {
	g := mustBuild(t, testutil.LoadManifest(t, "shapes.yaml"))

	want := [][]string{
		{"Circle.area()D", "Registry.<clinit>()V"},
		{"Registry.count()I", "Registry.register()V", "Square.area()D"},
		{"Circle.<init>()V"},
		{"Main.main()V"},
	}
	for _, wave := range want {
		leaves, err := g.ExtractLeaves()
		require.NoError(t, err)
		assert.Equal(t, wave, refStrings(leaves))
	}
	assert.True(t, g.IsEmpty())

	leaves, err := g.ExtractLeaves()
	require.NoError(t, err)
	assert.Empty(t, leaves)
}

func TestGraph_ExtractRoots(t *testing.T) {
	g := mustBuild(t, testutil.LoadManifest(t, "shapes.yaml"))

	want := [][]string{
		{"Main.main()V"},
		{"Circle.<init>()V", "Registry.count()I", "Square.area()D"},
		{"Circle.area()D", "Registry.register()V"},
		{"Registry.<clinit>()V"},
	}
	for _, wave := range want {
		roots, err := g.ExtractRoots()
		require.NoError(t, err)
		assert.Equal(t, wave, refStrings(roots))
	}
	assert.Equal(t, 0, g.Len())
}

func TestGraph_ExtractionSeversNeighbours(t *testing.T) {
	g := mustBuild(t, testutil.LoadManifest(t, "scenario_a.yaml"))

	leaves, err := g.ExtractLeaves()
	require.NoError(t, err)
	assert.Equal(t, []string{"Z.z()V"}, refStrings(leaves))

	_, ok := g.Node(mref(t, "Z.z()V"))
	assert.False(t, ok)
	assert.Empty(t, g.Callees(mref(t, "Y.y()V")))
	assert.Equal(t, 2, g.Len())
	assert.Equal(t, []string{"X.x()V", "Y.y()V"}, refStrings(g.Methods()))
}

func cyclicGraph(t *testing.T) *Graph {
	t.Helper()
	b := NewBuilder(testutil.LoadManifest(t, "scenario_a.yaml"))
	registry, err := b.populate(context.Background(), b.prog.Methods())
	require.NoError(t, err)
	return newGraph(registry.snapshot(), b.opts.Pool, nil)
}

func TestGraph_ExtractFromCyclicGraphIsInternalError(t *testing.T) {
	g := cyclicGraph(t)

	_, err := g.ExtractLeaves()
	require.Error(t, err)
	assert.True(t, apperrors.IsInternal(err))

	_, err = g.ExtractRoots()
	require.Error(t, err)
	assert.True(t, apperrors.IsInternal(err))
	assert.Equal(t, 3, g.Len(), "failed extraction removes nothing")
}

func TestGraph_ExtractPreconditions(t *testing.T) {
	g := cyclicGraph(t)
	x, ok := g.Node(mref(t, "X.x()V"))
	require.True(t, ok)

	_, err := g.extract([]NodeID{x.ID()}, true)
	require.Error(t, err)
	assert.True(t, apperrors.IsInternal(err))
	assert.Contains(t, err.Error(), "is not a leaf")

	_, err = g.extract([]NodeID{x.ID()}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not a root")

	g = mustBuild(t, testutil.LoadManifest(t, "scenario_a.yaml"))
	z, ok := g.Node(mref(t, "Z.z()V"))
	require.True(t, ok)
	_, err = g.extract([]NodeID{z.ID()}, true)
	require.NoError(t, err)
	_, err = g.extract([]NodeID{z.ID()}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already extracted")
}

func TestGraph_ProcessLeavesFirst(t *testing.T) {
	g := mustBuild(t, testutil.LoadManifest(t, "shapes.yaml"))

	var (
		mu    sync.Mutex
		waves = make(map[string]int)
	)
	err := g.ProcessLeavesFirst(context.Background(), func(_ context.Context, m program.Method, wave *Wave) error {
		assert.True(t, wave.Contains(m.Ref))
		mu.Lock()
		defer mu.Unlock()
		waves[m.Ref.String()] = wave.Index
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]int{
		"Circle.area()D":       0,
		"Registry.<clinit>()V": 0,
		"Registry.count()I":    1,
		"Registry.register()V": 1,
		"Square.area()D":       1,
		"Circle.<init>()V":     2,
		"Main.main()V":         3,
	}, waves)
}

func TestGraph_ProcessRootsFirst(t *testing.T) {
	g := mustBuild(t, testutil.LoadManifest(t, "scenario_a.yaml"))

	var order []string
	err := g.ProcessRootsFirst(context.Background(), func(_ context.Context, m program.Method, wave *Wave) error {
		assert.Equal(t, 1, wave.Len())
		order = append(order, m.Ref.String())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"X.x()V", "Y.y()V", "Z.z()V"}, order)
}

func TestGraph_ProcessWavesCallbackError(t *testing.T) {
	g := mustBuild(t, testutil.LoadManifest(t, "scenario_a.yaml"))
	boom := errors.New("boom")

	err := g.ProcessLeavesFirst(context.Background(), func(_ context.Context, m program.Method, _ *Wave) error {
		if m.Ref.Holder == "Y" {
			return boom
		}
		return nil
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsTaskFailed(err))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, g.Len(), "X stays in the graph")
}

func TestGraph_ProcessWavesCallbackPanic(t *testing.T) {
	g := mustBuild(t, testutil.LoadManifest(t, "scenario_a.yaml"))

	err := g.ProcessLeavesFirst(context.Background(), func(context.Context, program.Method, *Wave) error {
		panic("optimizer bug")
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsInternal(err))
}

func TestGraph_Waves(t *testing.T) {
	g := mustBuild(t, testutil.LoadManifest(t, "scenario_d.yaml"))

	waves, err := g.Waves(true)
	require.NoError(t, err)
	require.Len(t, waves, 2)
	assert.Equal(t, []string{"A.a()V"}, refStrings(waves[0]))
	assert.Equal(t, []string{"B.b()V"}, refStrings(waves[1]))
}

func TestWave_Methods(t *testing.T) {
	m := program.Method{Ref: program.MethodRef{Holder: "A", Name: "a"}}
	wave := newWave(3, []program.Method{m})

	assert.Equal(t, 3, wave.Index)
	assert.Equal(t, []program.Method{m}, wave.Methods())
	assert.True(t, wave.Contains(m.Ref))
	assert.False(t, wave.Contains(program.MethodRef{Holder: "B", Name: "b"}))
}
