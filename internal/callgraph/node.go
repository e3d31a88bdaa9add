// Package callgraph builds the method dependency graph of a whole program,
// removes its cycles deterministically and peels the resulting DAG in
// topological waves.
//
// Call edges point from caller to callee. Field-read edges point from a
// reader to the single method writing the field. Both kinds are stored on
// both endpoints, so every node knows its callees, callers, readers and
// writers.
package callgraph

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/ipo-callgraph/internal/program"
)

// NodeID is a handle into the graph arena.
type NodeID int32

// nodeSet is an unordered set of handles.
type nodeSet map[NodeID]struct{}

func (s nodeSet) add(id NodeID) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

func (s nodeSet) remove(id NodeID) bool {
	if _, ok := s[id]; !ok {
		return false
	}
	delete(s, id)
	return true
}

func (s nodeSet) has(id NodeID) bool {
	_, ok := s[id]
	return ok
}

func (s nodeSet) ids() []NodeID {
	out := make([]NodeID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Node is one method of the graph.
//
// During population the four sets are mutated concurrently. callersMu is
// the outer lock of a node: it is held while the field-read sets of either
// endpoint are updated, so an edge insertion and a field-read insertion on
// the same pair are serialized. The other mutexes are leaves and are never
// held while acquiring another lock.
type Node struct {
	id     NodeID
	method program.Method

	callSites     atomic.Int64
	selfRecursive atomic.Bool

	callersMu sync.Mutex
	callers   nodeSet

	calleesMu sync.Mutex
	callees   nodeSet

	readersMu sync.Mutex
	readers   nodeSet

	writersMu sync.Mutex
	writers   nodeSet
}

func newNode(id NodeID, method program.Method) *Node {
	return &Node{
		id:      id,
		method:  method,
		callers: make(nodeSet),
		callees: make(nodeSet),
		readers: make(nodeSet),
		writers: make(nodeSet),
	}
}

// ID returns the arena handle.
func (n *Node) ID() NodeID { return n.id }

// Method returns the method the node stands for.
func (n *Node) Method() program.Method { return n.method }

// Ref returns the method reference.
func (n *Node) Ref() program.MethodRef { return n.method.Ref }

// CallSites returns how many call instructions resolved to this method.
func (n *Node) CallSites() int64 { return n.callSites.Load() }

// IsSelfRecursive reports whether the method calls itself directly.
func (n *Node) IsSelfRecursive() bool { return n.selfRecursive.Load() }

// IsRoot reports whether nothing depends on this node.
func (n *Node) IsRoot() bool { return len(n.callers) == 0 && len(n.readers) == 0 }

// IsLeaf reports whether this node depends on nothing.
func (n *Node) IsLeaf() bool { return len(n.callees) == 0 && len(n.writers) == 0 }

func (n *Node) hasCallee(id NodeID) bool { return n.callees.has(id) }
func (n *Node) hasCaller(id NodeID) bool { return n.callers.has(id) }
func (n *Node) hasReader(id NodeID) bool { return n.readers.has(id) }
func (n *Node) hasWriter(id NodeID) bool { return n.writers.has(id) }

func (n *Node) String() string { return n.method.Ref.String() }

// addCallerConcurrently records one call instruction in caller resolving
// to n. Self-calls only mark the node recursive. A likely spurious call
// counts as a call site without an edge. A new call edge replaces any
// field-read edge over the same pair.
func (n *Node) addCallerConcurrently(caller *Node, likelySpurious bool) {
	if caller == n {
		n.selfRecursive.Store(true)
	} else if !likelySpurious {
		n.callersMu.Lock()
		if n.callers.add(caller.id) {
			caller.calleesMu.Lock()
			caller.callees.add(n.id)
			caller.calleesMu.Unlock()

			n.readersMu.Lock()
			n.readers.remove(caller.id)
			n.readersMu.Unlock()

			caller.writersMu.Lock()
			caller.writers.remove(n.id)
			caller.writersMu.Unlock()
		}
		n.callersMu.Unlock()
	}
	n.callSites.Add(1)
}

// addReaderConcurrently records that reader reads a field whose single
// writer is n. Nothing is added when reader already calls n.
func (n *Node) addReaderConcurrently(reader *Node) {
	if reader == n {
		return
	}
	n.callersMu.Lock()
	defer n.callersMu.Unlock()
	if n.callers.has(reader.id) {
		return
	}

	n.readersMu.Lock()
	added := n.readers.add(reader.id)
	n.readersMu.Unlock()

	if added {
		reader.writersMu.Lock()
		reader.writers.add(n.id)
		reader.writersMu.Unlock()
	}
}

// The methods below are only used single-threaded, after population.

func (n *Node) removeCaller(caller *Node) {
	n.callers.remove(caller.id)
	caller.callees.remove(n.id)
}

func (n *Node) removeReader(reader *Node) {
	n.readers.remove(reader.id)
	reader.writers.remove(n.id)
}
