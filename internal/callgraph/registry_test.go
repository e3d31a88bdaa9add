package callgraph

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_GetOrCreate(t *testing.T) {
	r := NewRegistry(0)
	a := r.GetOrCreate(testMethod("A"))
	b := r.GetOrCreate(testMethod("B"))

	assert.Same(t, a, r.GetOrCreate(testMethod("A")))
	assert.NotSame(t, a, b)
	assert.Equal(t, NodeID(0), a.ID())
	assert.Equal(t, NodeID(1), b.ID())
	assert.Equal(t, 2, r.Len())

	found, ok := r.Lookup(testMethod("B").Ref)
	require.True(t, ok)
	assert.Same(t, b, found)
	_, ok = r.Lookup(testMethod("C").Ref)
	assert.False(t, ok)
}

func TestRegistry_ConcurrentGetOrCreate(t *testing.T) {
	const (
		goroutines = 64
		methods    = 100
	)
	r := NewRegistry(methods)

	results := make([][]*Node, goroutines)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			nodes := make([]*Node, methods)
			for i := 0; i < methods; i++ {
				// Walk the keys in a different order per goroutine.
				k := (i + g*7) % methods
				nodes[k] = r.GetOrCreate(testMethod(fmt.Sprintf("M%03d", k)))
			}
			results[g] = nodes
		}()
	}
	wg.Wait()

	require.Equal(t, methods, r.Len())
	for g := 1; g < goroutines; g++ {
		for i := 0; i < methods; i++ {
			assert.Same(t, results[0][i], results[g][i])
		}
	}

	seen := make(map[NodeID]bool)
	for i, n := range r.snapshot() {
		assert.Equal(t, NodeID(i), n.ID())
		assert.False(t, seen[n.ID()])
		seen[n.ID()] = true
	}
}
