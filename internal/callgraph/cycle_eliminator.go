package callgraph

import (
	"math/rand/v2"
	"slices"

	"github.com/ipo-callgraph/internal/program"
	"github.com/ipo-callgraph/pkg/collections"
	apperrors "github.com/ipo-callgraph/pkg/errors"
	"github.com/ipo-callgraph/pkg/utils"
)

const noNode NodeID = -1

// CallEdge is a call dependency caller -> callee.
type CallEdge struct {
	Caller program.MethodRef `json:"caller"`
	Callee program.MethodRef `json:"callee"`
}

// FieldReadEdge is a field dependency reader -> writer.
type FieldReadEdge struct {
	Reader program.MethodRef `json:"reader"`
	Writer program.MethodRef `json:"writer"`
}

// CycleEliminationResult is the inventory of edges removed to make the
// graph acyclic.
type CycleEliminationResult struct {
	removedCallEdges      map[program.MethodRef][]program.MethodRef // callee -> callers
	removedFieldReadEdges []FieldReadEdge
	numCallEdges          int

	// Rounds is the number of traversals run until the fixpoint.
	Rounds int
}

func newCycleEliminationResult() *CycleEliminationResult {
	return &CycleEliminationResult{removedCallEdges: make(map[program.MethodRef][]program.MethodRef)}
}

func (r *CycleEliminationResult) addCallEdge(caller, callee program.MethodRef) {
	r.removedCallEdges[callee] = append(r.removedCallEdges[callee], caller)
	r.numCallEdges++
}

func (r *CycleEliminationResult) addFieldReadEdge(reader, writer program.MethodRef) {
	r.removedFieldReadEdges = append(r.removedFieldReadEdges, FieldReadEdge{Reader: reader, Writer: writer})
}

// NumberOfRemovedCallEdges returns the number of call edges removed.
func (r *CycleEliminationResult) NumberOfRemovedCallEdges() int { return r.numCallEdges }

// NumberOfRemovedFieldReadEdges returns the number of field-read edges removed.
func (r *CycleEliminationResult) NumberOfRemovedFieldReadEdges() int {
	return len(r.removedFieldReadEdges)
}

// NumberOfRemovedEdges returns the total number of removed edges.
func (r *CycleEliminationResult) NumberOfRemovedEdges() int {
	return r.numCallEdges + len(r.removedFieldReadEdges)
}

// ForEachRemovedCaller calls fn for every caller whose edge to callee was
// removed.
func (r *CycleEliminationResult) ForEachRemovedCaller(callee program.MethodRef, fn func(caller program.MethodRef)) {
	for _, caller := range r.removedCallEdges[callee] {
		fn(caller)
	}
}

// RemovedCallEdges returns the removed call edges ordered by caller, then
// callee.
func (r *CycleEliminationResult) RemovedCallEdges() []CallEdge {
	edges := make([]CallEdge, 0, r.numCallEdges)
	for callee, callers := range r.removedCallEdges {
		for _, caller := range callers {
			edges = append(edges, CallEdge{Caller: caller, Callee: callee})
		}
	}
	slices.SortFunc(edges, func(a, b CallEdge) int {
		if c := a.Caller.Compare(b.Caller); c != 0 {
			return c
		}
		return a.Callee.Compare(b.Callee)
	})
	return edges
}

// RemovedFieldReadEdges returns the removed field-read edges in removal
// order.
func (r *CycleEliminationResult) RemovedFieldReadEdges() []FieldReadEdge {
	return slices.Clone(r.removedFieldReadEdges)
}

// EliminatorOptions tunes a CycleEliminator.
type EliminatorOptions struct {
	// MaxDepthThreshold cuts removable edges once the traversal stack is
	// this deep. Zero disables the cut.
	MaxDepthThreshold int

	// Rand, when set, shuffles roots and successors. Testing only.
	Rand *rand.Rand

	Logger utils.Logger
}

type stackEntry struct {
	index       int
	predecessor NodeID
	processed   bool
}

type workItem struct {
	node        NodeID
	predecessor NodeID

	// iterator state, used when successors is non-nil
	iterator   bool
	successors []NodeID
	pos        int
}

// CycleEliminator removes edges from a graph until callees and writers
// form a DAG. It is single-threaded and must not run concurrently with
// any other mutation of the graph.
type CycleEliminator struct {
	graph          *Graph
	isForceInlined func(program.MethodRef) bool
	opts           EliminatorOptions
	logger         utils.Logger

	stack       []NodeID
	stackInfo   map[NodeID]*stackEntry
	clinitStack []NodeID
	writerStack []NodeID
	marked      *collections.VersionedBitset
	revisit     *collections.OrderedSet

	calleesToRemove map[NodeID]nodeSet // caller -> callees
	writersToRemove map[NodeID]nodeSet // reader -> writers

	result *CycleEliminationResult
}

// NewCycleEliminator prepares an eliminator over g. isForceInlined names
// the methods whose incoming call edges must never be removed.
func NewCycleEliminator(g *Graph, isForceInlined func(program.MethodRef) bool, opts EliminatorOptions) *CycleEliminator {
	logger := opts.Logger
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	return &CycleEliminator{
		graph:          g,
		isForceInlined: isForceInlined,
		opts:           opts,
		logger:         logger,
	}
}

// BreakCycles runs traversals until a pass removes nothing. It fails with
// a cyclic force inlining error when some cycle consists of force-inlined
// callees only.
func (e *CycleEliminator) BreakCycles() (*CycleEliminationResult, error) {
	e.result = newCycleEliminationResult()
	e.stackInfo = make(map[NodeID]*stackEntry)
	e.calleesToRemove = make(map[NodeID]nodeSet)
	e.writersToRemove = make(map[NodeID]nodeSet)
	e.marked = collections.NewVersionedBitset(len(e.graph.nodes))

	roots := e.graph.liveIDs()
	for len(roots) > 0 {
		e.revisit = collections.NewOrderedSet(len(e.graph.nodes))
		e.marked.Reset()
		if e.opts.Rand != nil {
			e.opts.Rand.Shuffle(len(roots), func(i, j int) { roots[i], roots[j] = roots[j], roots[i] })
		}

		if err := e.traverse(roots); err != nil {
			e.reset()
			return nil, err
		}
		e.result.Rounds++

		revisit := e.revisit.Values()
		roots = make([]NodeID, len(revisit))
		for i, id := range revisit {
			roots[i] = NodeID(id)
		}
	}

	e.reset()
	return e.result, nil
}

func (e *CycleEliminator) reset() {
	e.stack = e.stack[:0]
	e.clinitStack = e.clinitStack[:0]
	e.writerStack = e.writerStack[:0]
	clear(e.stackInfo)
	clear(e.calleesToRemove)
	clear(e.writersToRemove)
}

func (e *CycleEliminator) node(id NodeID) *Node {
	return e.graph.nodes[id]
}

func (e *CycleEliminator) traverse(roots []NodeID) error {
	work := make([]*workItem, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		work = append(work, &workItem{node: roots[i], predecessor: noNode})
	}

	for len(work) > 0 {
		item := work[len(work)-1]
		work = work[:len(work)-1]

		if !item.iterator {
			if e.marked.Test(int(item.node)) {
				continue
			}
			e.push(item.node, item.predecessor)
			work = append(work, &workItem{node: item.node, iterator: true, successors: e.successors(item.node)})
			continue
		}

		next, err := e.iterate(item)
		if err != nil {
			return err
		}
		if next != noNode {
			work = append(work, item, &workItem{node: next, predecessor: item.node})
			continue
		}
		e.pop(item.node)
	}
	return nil
}

// byRef returns the members of s in method order. Handles depend on the
// population interleaving, method references do not.
func (e *CycleEliminator) byRef(s nodeSet) []NodeID {
	ids := s.ids()
	slices.SortFunc(ids, func(a, b NodeID) int { return e.node(a).Ref().Compare(e.node(b).Ref()) })
	return ids
}

// successors returns callees then writers, each in method order.
func (e *CycleEliminator) successors(id NodeID) []NodeID {
	n := e.node(id)
	out := append(e.byRef(n.callees), e.byRef(n.writers)...)
	if e.opts.Rand != nil {
		e.opts.Rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	}
	return out
}

func (e *CycleEliminator) push(id, predecessor NodeID) {
	e.stack = append(e.stack, id)
	e.stackInfo[id] = &stackEntry{index: len(e.stack) - 1, predecessor: predecessor}
	if predecessor == noNode {
		return
	}

	n := e.node(id)
	if n.Ref().IsClassInitializer() && n.hasCaller(predecessor) {
		e.clinitStack = append(e.clinitStack, id)
	} else if e.node(predecessor).hasWriter(id) {
		e.writerStack = append(e.writerStack, id)
	}
}

func (e *CycleEliminator) pop(id NodeID) {
	e.stack = e.stack[:len(e.stack)-1]
	if top, ok := peek(e.clinitStack); ok && top == id {
		e.clinitStack = e.clinitStack[:len(e.clinitStack)-1]
	}
	if top, ok := peek(e.writerStack); ok && top == id {
		e.writerStack = e.writerStack[:len(e.writerStack)-1]
	}
	delete(e.stackInfo, id)
	e.marked.Set(int(id))

	n := e.node(id)
	if callees, ok := e.calleesToRemove[id]; ok {
		delete(e.calleesToRemove, id)
		for _, callee := range e.byRef(callees) {
			c := e.node(callee)
			c.removeCaller(n)
			e.result.addCallEdge(n.Ref(), c.Ref())
		}
	}
	if writers, ok := e.writersToRemove[id]; ok {
		delete(e.writersToRemove, id)
		for _, writer := range e.byRef(writers) {
			w := e.node(writer)
			w.removeReader(n)
			e.result.addFieldReadEdge(n.Ref(), w.Ref())
		}
	}
}

func peek(s []NodeID) (NodeID, bool) {
	if len(s) == 0 {
		return noNode, false
	}
	return s[len(s)-1], true
}

// iterate advances item to the next successor that must be explored and
// returns it, or noNode once every successor has been handled. Successors
// already open on the stack close a cycle, which is broken here.
func (e *CycleEliminator) iterate(item *workItem) (NodeID, error) {
	current := item.node
	for item.pos < len(item.successors) {
		succ := item.successors[item.pos]
		item.pos++

		entry, onStack := e.stackInfo[succ]
		if !onStack {
			if e.marked.Test(int(succ)) {
				continue
			}
			if e.opts.MaxDepthThreshold > 0 && len(e.stack) >= e.opts.MaxDepthThreshold && e.cutDeepEdge(current, succ) {
				continue
			}
			return succ, nil
		}

		// Rule 1: the closing edge is a field read.
		if e.node(succ).hasReader(current) {
			e.removeFieldReadEdge(succ, current, "closing field read")
			continue
		}

		// Rule 2: a field-read edge inside the cycle.
		if top, ok := peek(e.writerStack); ok && e.removeIncomingEdgeOnStack(top, entry, false) {
			continue
		}

		// Rule 3: the closing edge triggers a class initializer.
		if e.node(succ).Ref().IsClassInitializer() {
			e.removeCallEdge(current, succ, "closing clinit call")
			continue
		}

		// Rule 4: a class initializer call inside the cycle.
		if top, ok := peek(e.clinitStack); ok && e.removeIncomingEdgeOnStack(top, entry, true) {
			continue
		}

		// Rule 5: the closing call edge itself.
		if e.edgeRemovalIsSafe(succ) {
			e.removeCallEdge(current, succ, "closing call")
			continue
		}

		// Rule 6: any safe call edge in the cycle.
		cycle := e.extractCycle(entry.index)
		edge, err := e.findCallEdgeForRemoval(cycle)
		if err != nil {
			return noNode, err
		}
		if edge != nil {
			e.removeCallEdge(edge[0], edge[1], "cycle call")
			e.revisit.Add(int(edge[1]))
		}
	}
	return noNode, nil
}

// cutDeepEdge removes current -> succ when the traversal is too deep and
// the edge may be removed.
func (e *CycleEliminator) cutDeepEdge(current, succ NodeID) bool {
	if e.node(succ).hasReader(current) {
		e.removeFieldReadEdge(succ, current, "depth threshold")
	} else if e.edgeRemovalIsSafe(succ) {
		e.removeCallEdge(current, succ, "depth threshold")
	} else {
		return false
	}
	e.revisit.Add(int(succ))
	return true
}

// removeIncomingEdgeOnStack removes the edge by which target was entered
// when target lies inside the cycle closed at the successor described by
// succEntry. It reports whether the cycle is broken.
func (e *CycleEliminator) removeIncomingEdgeOnStack(target NodeID, succEntry *stackEntry, call bool) bool {
	targetEntry := e.stackInfo[target]
	if targetEntry.index <= succEntry.index {
		return false
	}
	if !targetEntry.processed {
		if call {
			e.removeCallEdge(targetEntry.predecessor, target, "clinit call in cycle")
		} else {
			e.removeFieldReadEdge(target, targetEntry.predecessor, "field read in cycle")
		}
		e.revisit.Add(int(target))
		targetEntry.processed = true
	}
	return true
}

// extractCycle returns the open nodes from the top of the stack down to
// the node at index.
func (e *CycleEliminator) extractCycle(index int) []NodeID {
	cycle := make([]NodeID, 0, len(e.stack)-index)
	for i := len(e.stack) - 1; i >= index; i-- {
		cycle = append(cycle, e.stack[i])
	}
	return cycle
}

// findCallEdgeForRemoval walks the cycle backwards from the closing edge
// and returns the first call edge that may be removed. A nil edge means
// some edge of the cycle is already gone.
func (e *CycleEliminator) findCallEdgeForRemoval(cycle []NodeID) (*[2]NodeID, error) {
	callee := cycle[len(cycle)-1]
	for _, caller := range cycle {
		c := e.node(caller)
		if c.hasWriter(callee) {
			callee = caller
			continue
		}
		if !c.hasCallee(callee) || e.calleesToRemove[caller].has(callee) {
			return nil, nil
		}
		if e.edgeRemovalIsSafe(callee) {
			return &[2]NodeID{caller, callee}, nil
		}
		callee = caller
	}

	names := make([]string, len(cycle))
	for i, id := range cycle {
		names[i] = e.node(id).String()
	}
	return nil, apperrors.CyclicForceInlining(names)
}

func (e *CycleEliminator) edgeRemovalIsSafe(callee NodeID) bool {
	return e.isForceInlined == nil || !e.isForceInlined(e.node(callee).Ref())
}

func (e *CycleEliminator) removeCallEdge(caller, callee NodeID, rule string) {
	queued, ok := e.calleesToRemove[caller]
	if !ok {
		queued = make(nodeSet)
		e.calleesToRemove[caller] = queued
	}
	if queued.add(callee) {
		e.logger.Debug("removing call edge %s -> %s (%s)", e.node(caller), e.node(callee), rule)
	}
}

func (e *CycleEliminator) removeFieldReadEdge(writer, reader NodeID, rule string) {
	queued, ok := e.writersToRemove[reader]
	if !ok {
		queued = make(nodeSet)
		e.writersToRemove[reader] = queued
	}
	if queued.add(writer) {
		e.logger.Debug("removing field read edge %s -> %s (%s)", e.node(reader), e.node(writer), rule)
	}
}
