package callgraph

import (
	"sync"

	"github.com/ipo-callgraph/internal/program"
)

// Registry hands out exactly one node per method. It owns the node arena.
type Registry struct {
	mu    sync.RWMutex
	index map[program.MethodRef]NodeID
	nodes []*Node
}

// NewRegistry creates an empty registry sized for about n methods.
func NewRegistry(n int) *Registry {
	return &Registry{
		index: make(map[program.MethodRef]NodeID, n),
		nodes: make([]*Node, 0, n),
	}
}

// GetOrCreate returns the node of method, creating it on first use.
func (r *Registry) GetOrCreate(method program.Method) *Node {
	r.mu.RLock()
	id, ok := r.index[method.Ref]
	if ok {
		node := r.nodes[id]
		r.mu.RUnlock()
		return node
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.index[method.Ref]; ok {
		return r.nodes[id]
	}
	node := newNode(NodeID(len(r.nodes)), method)
	r.nodes = append(r.nodes, node)
	r.index[method.Ref] = node.id
	return node
}

// Lookup returns the node of ref if it exists.
func (r *Registry) Lookup(ref program.MethodRef) (*Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.index[ref]
	if !ok {
		return nil, false
	}
	return r.nodes[id], true
}

// Len returns the number of nodes created so far.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// node resolves a handle. Only valid once population has finished.
func (r *Registry) node(id NodeID) *Node {
	return r.nodes[id]
}

// snapshot returns the arena. Only valid once population has finished.
func (r *Registry) snapshot() []*Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nodes
}
