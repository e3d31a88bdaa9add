package callgraph

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipo-callgraph/internal/program"
)

func testMethod(holder string) program.Method {
	return program.Method{Ref: program.MethodRef{Holder: holder, Name: "m", Proto: "()V"}, HasCode: true}
}

func TestNode_AddCallerConcurrently(t *testing.T) {
	callee := newNode(0, testMethod("Callee"))
	caller := newNode(1, testMethod("Caller"))

	callee.addCallerConcurrently(caller, false)
	callee.addCallerConcurrently(caller, false)

	assert.True(t, callee.hasCaller(caller.id))
	assert.True(t, caller.hasCallee(callee.id))
	assert.Len(t, callee.callers, 1)
	assert.Equal(t, int64(2), callee.CallSites())
	assert.False(t, callee.IsRoot())
	assert.False(t, caller.IsLeaf())
}

func TestNode_LikelySpuriousOnlyCounts(t *testing.T) {
	callee := newNode(0, testMethod("Callee"))
	caller := newNode(1, testMethod("Caller"))

	callee.addCallerConcurrently(caller, true)

	assert.Empty(t, callee.callers)
	assert.Empty(t, caller.callees)
	assert.Equal(t, int64(1), callee.CallSites())
	assert.False(t, callee.IsSelfRecursive())
}

func TestNode_SelfCall(t *testing.T) {
	n := newNode(0, testMethod("Self"))

	n.addCallerConcurrently(n, false)
	n.addReaderConcurrently(n)

	assert.True(t, n.IsSelfRecursive())
	assert.Equal(t, int64(1), n.CallSites())
	assert.Empty(t, n.callers)
	assert.Empty(t, n.callees)
	assert.Empty(t, n.readers)
	assert.Empty(t, n.writers)
}

func TestNode_CallEdgeReplacesFieldReadEdge(t *testing.T) {
	writer := newNode(0, testMethod("Writer"))
	reader := newNode(1, testMethod("Reader"))

	writer.addReaderConcurrently(reader)
	require.True(t, writer.hasReader(reader.id))
	require.True(t, reader.hasWriter(writer.id))

	writer.addCallerConcurrently(reader, false)
	assert.False(t, writer.hasReader(reader.id))
	assert.False(t, reader.hasWriter(writer.id))
	assert.True(t, writer.hasCaller(reader.id))

	writer.addReaderConcurrently(reader)
	assert.False(t, writer.hasReader(reader.id), "a call edge suppresses later field reads")
}

func TestNode_RemoveEdges(t *testing.T) {
	a := newNode(0, testMethod("A"))
	b := newNode(1, testMethod("B"))
	c := newNode(2, testMethod("C"))

	b.addCallerConcurrently(a, false)
	c.addReaderConcurrently(a)

	b.removeCaller(a)
	c.removeReader(a)

	assert.True(t, a.IsLeaf())
	assert.True(t, b.IsRoot())
	assert.True(t, c.IsRoot())
	assert.Equal(t, int64(1), b.CallSites(), "removal keeps the call-site count")
}

func TestNode_ConcurrentInsertion(t *testing.T) {
	const workers = 32
	hub := newNode(0, testMethod("Hub"))
	others := make([]*Node, workers)
	for i := range others {
		others[i] = newNode(NodeID(i+1), testMethod(fmt.Sprintf("N%02d", i)))
	}

	var wg sync.WaitGroup
	for i, other := range others {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if i%2 == 0 {
					hub.addReaderConcurrently(other)
					hub.addCallerConcurrently(other, false)
				} else {
					other.addCallerConcurrently(hub, false)
					hub.addReaderConcurrently(other)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(workers/2*50), hub.CallSites())
	assert.Len(t, hub.callers, workers/2)
	assert.Len(t, hub.callees, workers/2)
	assert.Len(t, hub.readers, workers/2)
	for i, other := range others {
		if i%2 == 0 {
			assert.False(t, other.hasWriter(hub.id), "%s should not read from hub", other)
		} else {
			assert.True(t, other.hasWriter(hub.id))
			assert.True(t, other.hasCaller(hub.id))
		}
	}
}

func TestNodeSet(t *testing.T) {
	s := make(nodeSet)
	assert.True(t, s.add(3))
	assert.False(t, s.add(3))
	assert.True(t, s.add(1))
	assert.Equal(t, []NodeID{1, 3}, s.ids())
	assert.True(t, s.remove(3))
	assert.False(t, s.remove(3))
	assert.False(t, s.has(3))

	var empty nodeSet
	assert.False(t, empty.has(1))
}
