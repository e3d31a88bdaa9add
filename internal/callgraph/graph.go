package callgraph

import (
	"context"
	"errors"
	"slices"

	"github.com/ipo-callgraph/internal/program"
	apperrors "github.com/ipo-callgraph/pkg/errors"
	"github.com/ipo-callgraph/pkg/parallel"
	"github.com/ipo-callgraph/pkg/utils"
)

// EdgeKind distinguishes call edges from field-read edges.
type EdgeKind string

const (
	EdgeKindCall      EdgeKind = "call"
	EdgeKindFieldRead EdgeKind = "field-read"
)

// Edge is a dependency From -> To. For field reads From is the reader.
type Edge struct {
	From program.MethodRef `json:"from"`
	To   program.MethodRef `json:"to"`
	Kind EdgeKind          `json:"kind"`
}

// Graph is the populated method graph. Once cycle elimination has run it
// is acyclic and can be peeled with ExtractLeaves and ExtractRoots. A
// Graph is not safe for concurrent use.
type Graph struct {
	nodes   []*Node
	index   map[program.MethodRef]NodeID
	order   []NodeID // live and removed, by method
	removed []bool
	live    int

	result *CycleEliminationResult
	pool   parallel.PoolConfig
	logger utils.Logger
}

func newGraph(nodes []*Node, pool parallel.PoolConfig, logger utils.Logger) *Graph {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	g := &Graph{
		nodes:   nodes,
		index:   make(map[program.MethodRef]NodeID, len(nodes)),
		order:   make([]NodeID, len(nodes)),
		removed: make([]bool, len(nodes)),
		live:    len(nodes),
		pool:    pool,
		logger:  logger,
	}
	for i, n := range nodes {
		g.index[n.Ref()] = n.id
		g.order[i] = n.id
	}
	slices.SortFunc(g.order, func(a, b NodeID) int { return nodes[a].Ref().Compare(nodes[b].Ref()) })
	return g
}

// Len returns the number of nodes not yet extracted.
func (g *Graph) Len() int { return g.live }

// IsEmpty reports whether every node has been extracted.
func (g *Graph) IsEmpty() bool { return g.live == 0 }

// CycleEliminationResult returns what the builder removed to make the
// graph acyclic.
func (g *Graph) CycleEliminationResult() *CycleEliminationResult { return g.result }

// Node returns the live node of ref.
func (g *Graph) Node(ref program.MethodRef) (*Node, bool) {
	id, ok := g.index[ref]
	if !ok || g.removed[id] {
		return nil, false
	}
	return g.nodes[id], true
}

// Methods returns the live methods in method order.
func (g *Graph) Methods() []program.Method {
	out := make([]program.Method, 0, g.live)
	for _, id := range g.liveIDs() {
		out = append(out, g.nodes[id].method)
	}
	return out
}

// Callees returns the callees of ref in method order.
func (g *Graph) Callees(ref program.MethodRef) []program.MethodRef {
	return g.neighbours(ref, func(n *Node) nodeSet { return n.callees })
}

// Callers returns the callers of ref in method order.
func (g *Graph) Callers(ref program.MethodRef) []program.MethodRef {
	return g.neighbours(ref, func(n *Node) nodeSet { return n.callers })
}

// Readers returns the methods reading a field written only by ref.
func (g *Graph) Readers(ref program.MethodRef) []program.MethodRef {
	return g.neighbours(ref, func(n *Node) nodeSet { return n.readers })
}

// Writers returns the single writers of the fields ref reads.
func (g *Graph) Writers(ref program.MethodRef) []program.MethodRef {
	return g.neighbours(ref, func(n *Node) nodeSet { return n.writers })
}

func (g *Graph) neighbours(ref program.MethodRef, set func(*Node) nodeSet) []program.MethodRef {
	n, ok := g.Node(ref)
	if !ok {
		return nil
	}
	return g.sortedRefs(set(n))
}

func (g *Graph) sortedRefs(s nodeSet) []program.MethodRef {
	out := make([]program.MethodRef, 0, len(s))
	for id := range s {
		out = append(out, g.nodes[id].Ref())
	}
	slices.SortFunc(out, program.MethodRef.Compare)
	return out
}

// Edges returns every live edge, grouped by source in method order.
func (g *Graph) Edges() []Edge {
	var edges []Edge
	for _, id := range g.liveIDs() {
		n := g.nodes[id]
		for _, callee := range g.sortedRefs(n.callees) {
			edges = append(edges, Edge{From: n.Ref(), To: callee, Kind: EdgeKindCall})
		}
		for _, writer := range g.sortedRefs(n.writers) {
			edges = append(edges, Edge{From: n.Ref(), To: writer, Kind: EdgeKindFieldRead})
		}
	}
	return edges
}

// liveIDs returns the handles of live nodes in method order.
func (g *Graph) liveIDs() []NodeID {
	out := make([]NodeID, 0, g.live)
	for _, id := range g.order {
		if !g.removed[id] {
			out = append(out, id)
		}
	}
	return out
}

// ExtractLeaves removes every node without callees and writers and
// returns their methods in method order.
func (g *Graph) ExtractLeaves() ([]program.Method, error) {
	return g.extractWhere(true)
}

// ExtractRoots removes every node without callers and readers and returns
// their methods in method order.
func (g *Graph) ExtractRoots() ([]program.Method, error) {
	return g.extractWhere(false)
}

func (g *Graph) extractWhere(leaves bool) ([]program.Method, error) {
	if g.live == 0 {
		return nil, nil
	}
	var batch []NodeID
	for _, id := range g.liveIDs() {
		n := g.nodes[id]
		if (leaves && n.IsLeaf()) || (!leaves && n.IsRoot()) {
			batch = append(batch, id)
		}
	}
	if len(batch) == 0 {
		return nil, apperrors.Internal("no %s among %d remaining nodes, graph is cyclic", kindName(leaves), g.live)
	}
	return g.extract(batch, leaves)
}

func kindName(leaves bool) string {
	if leaves {
		return "leaves"
	}
	return "roots"
}

// extract removes batch and severs it from the remaining nodes. Every node
// of batch must have no edges in the extraction direction.
func (g *Graph) extract(batch []NodeID, leaves bool) ([]program.Method, error) {
	for _, id := range batch {
		n := g.nodes[id]
		if g.removed[id] {
			return nil, apperrors.Internal("%s was already extracted", n)
		}
		if leaves && !n.IsLeaf() {
			return nil, apperrors.Internal("%s is not a leaf: %d callees, %d writers", n, len(n.callees), len(n.writers))
		}
		if !leaves && !n.IsRoot() {
			return nil, apperrors.Internal("%s is not a root: %d callers, %d readers", n, len(n.callers), len(n.readers))
		}
	}

	methods := make([]program.Method, 0, len(batch))
	for _, id := range batch {
		n := g.nodes[id]
		if err := g.sever(n, leaves); err != nil {
			return nil, err
		}
		g.removed[id] = true
		g.live--
		methods = append(methods, n.method)
	}
	slices.SortFunc(methods, func(a, b program.Method) int { return a.Ref.Compare(b.Ref) })
	return methods, nil
}

func (g *Graph) sever(n *Node, leaf bool) error {
	if leaf {
		for caller := range n.callers {
			if g.removed[caller] {
				return apperrors.Internal("%s has extracted caller %s", n, g.nodes[caller])
			}
			g.nodes[caller].callees.remove(n.id)
		}
		for reader := range n.readers {
			if g.removed[reader] {
				return apperrors.Internal("%s has extracted reader %s", n, g.nodes[reader])
			}
			g.nodes[reader].writers.remove(n.id)
		}
		clear(n.callers)
		clear(n.readers)
		return nil
	}

	for callee := range n.callees {
		if g.removed[callee] {
			return apperrors.Internal("%s has extracted callee %s", n, g.nodes[callee])
		}
		g.nodes[callee].callers.remove(n.id)
	}
	for writer := range n.writers {
		if g.removed[writer] {
			return apperrors.Internal("%s has extracted writer %s", n, g.nodes[writer])
		}
		g.nodes[writer].readers.remove(n.id)
	}
	clear(n.callees)
	clear(n.writers)
	return nil
}

// Wave is one topological layer.
type Wave struct {
	// Index counts waves from zero.
	Index   int
	methods []program.Method
	members map[program.MethodRef]struct{}
}

func newWave(index int, methods []program.Method) *Wave {
	w := &Wave{Index: index, methods: methods, members: make(map[program.MethodRef]struct{}, len(methods))}
	for _, m := range methods {
		w.members[m.Ref] = struct{}{}
	}
	return w
}

// Contains reports whether ref belongs to this wave.
func (w *Wave) Contains(ref program.MethodRef) bool {
	_, ok := w.members[ref]
	return ok
}

// Methods returns the wave in method order.
func (w *Wave) Methods() []program.Method { return slices.Clone(w.methods) }

// Len returns the wave size.
func (w *Wave) Len() int { return len(w.methods) }

// WaveFunc processes one method of a wave. Calls for the same wave run
// concurrently.
type WaveFunc func(ctx context.Context, method program.Method, wave *Wave) error

// ProcessLeavesFirst extracts the graph wave by wave, callees first, and
// runs fn over each wave in parallel before extracting the next.
func (g *Graph) ProcessLeavesFirst(ctx context.Context, fn WaveFunc) error {
	return g.processWaves(ctx, true, fn)
}

// ProcessRootsFirst is ProcessLeavesFirst in caller order.
func (g *Graph) ProcessRootsFirst(ctx context.Context, fn WaveFunc) error {
	return g.processWaves(ctx, false, fn)
}

func (g *Graph) processWaves(ctx context.Context, leaves bool, fn WaveFunc) error {
	for index := 0; !g.IsEmpty(); index++ {
		methods, err := g.extractWhere(leaves)
		if err != nil {
			return err
		}
		wave := newWave(index, methods)
		g.logger.Debug("processing wave %d with %d methods", index, wave.Len())

		err = parallel.ForEach(ctx, g.pool, methods, func(ctx context.Context, m program.Method) error {
			if err := fn(ctx, m, wave); err != nil {
				return apperrors.Wrap(apperrors.CodeTaskFailed, "process "+m.Ref.String(), err)
			}
			return nil
		})
		if err != nil {
			return normalizeTaskError(err)
		}
	}
	return nil
}

// Waves peels the whole graph and returns the layers without running
// anything on them.
func (g *Graph) Waves(leaves bool) ([][]program.Method, error) {
	var waves [][]program.Method
	for !g.IsEmpty() {
		methods, err := g.extractWhere(leaves)
		if err != nil {
			return nil, err
		}
		waves = append(waves, methods)
	}
	return waves, nil
}

func normalizeTaskError(err error) error {
	var panicErr *parallel.PanicError
	if errors.As(err, &panicErr) {
		return apperrors.Wrap(apperrors.CodeInternal, "worker panicked", err)
	}
	return err
}
