package callgraph

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// DumpNode is one node of a Dump.
type DumpNode struct {
	Method        string `json:"method"`
	CallSites     int64  `json:"call_sites"`
	SelfRecursive bool   `json:"self_recursive,omitempty"`
}

// DumpEdge is one edge of a Dump.
type DumpEdge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Kind EdgeKind `json:"kind"`
}

// Dump is a serializable snapshot of a graph and of the edges removed to
// make it acyclic.
type Dump struct {
	Name         string     `json:"name"`
	Nodes        []DumpNode `json:"nodes"`
	Edges        []DumpEdge `json:"edges"`
	RemovedEdges []DumpEdge `json:"removed_edges,omitempty"`
}

// Snapshot captures the live part of the graph.
func (g *Graph) Snapshot(name string) *Dump {
	d := &Dump{Name: name, Nodes: make([]DumpNode, 0, g.live)}
	for _, id := range g.liveIDs() {
		n := g.nodes[id]
		d.Nodes = append(d.Nodes, DumpNode{
			Method:        n.Ref().String(),
			CallSites:     n.CallSites(),
			SelfRecursive: n.IsSelfRecursive(),
		})
	}
	for _, e := range g.Edges() {
		d.Edges = append(d.Edges, DumpEdge{From: e.From.String(), To: e.To.String(), Kind: e.Kind})
	}
	if g.result != nil {
		for _, e := range g.result.RemovedCallEdges() {
			d.RemovedEdges = append(d.RemovedEdges, DumpEdge{From: e.Caller.String(), To: e.Callee.String(), Kind: EdgeKindCall})
		}
		for _, e := range g.result.RemovedFieldReadEdges() {
			d.RemovedEdges = append(d.RemovedEdges, DumpEdge{From: e.Reader.String(), To: e.Writer.String(), Kind: EdgeKindFieldRead})
		}
	}
	return d
}

// DumpWriter renders a Dump.
type DumpWriter interface {
	Write(d *Dump, w io.Writer) error
	// Extension is the file extension, without the dot.
	Extension() string
}

// NewDumpWriter returns the writer for format "dot" or "json".
func NewDumpWriter(format string) (DumpWriter, error) {
	switch strings.ToLower(format) {
	case "dot":
		return NewDOTWriter(), nil
	case "json":
		return NewPrettyJSONWriter(), nil
	default:
		return nil, fmt.Errorf("unknown dump format %q", format)
	}
}

// WriteDumpToFile renders d to path.
func WriteDumpToFile(dw DumpWriter, d *Dump, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := dw.Write(d, file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// JSONWriter writes dumps as JSON.
type JSONWriter struct {
	// Indent specifies the indentation for pretty printing.
	Indent string
}

// NewJSONWriter creates a new JSON writer.
func NewJSONWriter() *JSONWriter {
	return &JSONWriter{Indent: ""}
}

// NewPrettyJSONWriter creates a JSON writer with pretty printing.
func NewPrettyJSONWriter() *JSONWriter {
	return &JSONWriter{Indent: "  "}
}

// Write writes the dump as JSON to the writer.
func (w *JSONWriter) Write(d *Dump, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	if w.Indent != "" {
		encoder.SetIndent("", w.Indent)
	}
	return encoder.Encode(d)
}

// Extension implements DumpWriter.
func (w *JSONWriter) Extension() string { return "json" }

// DOTWriter writes dumps in Graphviz DOT format. Field-read edges are
// dashed, removed edges are drawn dotted in red.
type DOTWriter struct {
	// IncludeRemoved also draws the edges removed by cycle elimination.
	IncludeRemoved bool
}

// NewDOTWriter creates a new DOT format writer.
func NewDOTWriter() *DOTWriter {
	return &DOTWriter{IncludeRemoved: true}
}

// Extension implements DumpWriter.
func (w *DOTWriter) Extension() string { return "dot" }

// Write writes the dump in DOT format.
func (w *DOTWriter) Write(d *Dump, writer io.Writer) error {
	name := d.Name
	if name == "" {
		name = "callgraph"
	}
	if _, err := fmt.Fprintf(writer, "digraph %s {\n", strconv.Quote(name)); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(writer, "  node [shape=box];"); err != nil {
		return err
	}

	for _, node := range d.Nodes {
		label := fmt.Sprintf("%s\\n%d call sites", node.Method, node.CallSites)
		if node.SelfRecursive {
			label += "\\nrecursive"
		}
		if _, err := fmt.Fprintf(writer, "  %s [label=\"%s\"];\n", strconv.Quote(node.Method), escapeLabel(label)); err != nil {
			return err
		}
	}

	for _, edge := range d.Edges {
		attrs := ""
		if edge.Kind == EdgeKindFieldRead {
			attrs = " [style=dashed]"
		}
		if _, err := fmt.Fprintf(writer, "  %s -> %s%s;\n", strconv.Quote(edge.From), strconv.Quote(edge.To), attrs); err != nil {
			return err
		}
	}

	if w.IncludeRemoved {
		for _, edge := range d.RemovedEdges {
			if _, err := fmt.Fprintf(writer, "  %s -> %s [style=dotted, color=red];\n",
				strconv.Quote(edge.From), strconv.Quote(edge.To)); err != nil {
				return err
			}
		}
	}

	if _, err := fmt.Fprintln(writer, "}"); err != nil {
		return err
	}

	return nil
}

// escapeLabel escapes quotes but keeps the \n line breaks of a label.
func escapeLabel(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}
