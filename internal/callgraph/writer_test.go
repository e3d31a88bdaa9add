package callgraph

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipo-callgraph/internal/testutil"
)

func TestGraph_Snapshot(t *testing.T) {
	g := mustBuild(t, testutil.LoadManifest(t, "scenario_a.yaml"))
	d := g.Snapshot("scenario_a")

	assert.Equal(t, "scenario_a", d.Name)
	require.Len(t, d.Nodes, 3)
	assert.Equal(t, "X.x()V", d.Nodes[0].Method)
	assert.Equal(t, int64(1), d.Nodes[0].CallSites)
	assert.Equal(t, []DumpEdge{
		{From: "X.x()V", To: "Y.y()V", Kind: EdgeKindCall},
		{From: "Y.y()V", To: "Z.z()V", Kind: EdgeKindCall},
	}, d.Edges)
	assert.Equal(t, []DumpEdge{{From: "Z.z()V", To: "X.x()V", Kind: EdgeKindCall}}, d.RemovedEdges)
}

func TestDOTWriter(t *testing.T) {
	g := mustBuild(t, testutil.LoadManifest(t, "scenario_a.yaml"))
	d := g.Snapshot("scenario_a")

	var buf bytes.Buffer
	require.NoError(t, NewDOTWriter().Write(d, &buf))
	out := buf.String()

	assert.Contains(t, out, `digraph "scenario_a" {`)
	assert.Contains(t, out, `"X.x()V" -> "Y.y()V";`)
	assert.Contains(t, out, `"Z.z()V" -> "X.x()V" [style=dotted, color=red];`)
	assert.Contains(t, out, `[label="X.x()V\n1 call sites"]`)
	assert.True(t, bytes.HasSuffix(buf.Bytes(), []byte("}\n")))

	buf.Reset()
	require.NoError(t, (&DOTWriter{}).Write(d, &buf))
	assert.NotContains(t, buf.String(), "color=red")
}

func TestDOTWriter_FieldReadEdgesAreDashed(t *testing.T) {
	g := mustBuild(t, testutil.ParseManifest(t, `
methods:
  - ref: A.a()V
    uses: [write A.f]
  - ref: B.b()V
    uses: [read A.f]
`))

	var buf bytes.Buffer
	require.NoError(t, NewDOTWriter().Write(g.Snapshot(""), &buf))
	assert.Contains(t, buf.String(), `digraph "callgraph" {`)
	assert.Contains(t, buf.String(), `"B.b()V" -> "A.a()V" [style=dashed];`)
}

func TestJSONWriter(t *testing.T) {
	g := mustBuild(t, testutil.LoadManifest(t, "scenario_a.yaml"))
	d := g.Snapshot("scenario_a")

	for _, w := range []*JSONWriter{NewJSONWriter(), NewPrettyJSONWriter()} {
		var buf bytes.Buffer
		require.NoError(t, w.Write(d, &buf))

		var decoded Dump
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, *d, decoded)
	}
}

func TestNewDumpWriter(t *testing.T) {
	w, err := NewDumpWriter("DOT")
	require.NoError(t, err)
	assert.Equal(t, "dot", w.Extension())

	w, err = NewDumpWriter("json")
	require.NoError(t, err)
	assert.Equal(t, "json", w.Extension())

	_, err = NewDumpWriter("svg")
	assert.Error(t, err)
}

func TestWriteDumpToFile(t *testing.T) {
	g := mustBuild(t, testutil.LoadManifest(t, "scenario_a.yaml"))
	path := filepath.Join(t.TempDir(), "graph.json")

	require.NoError(t, WriteDumpToFile(NewJSONWriter(), g.Snapshot("a"), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"name":"a"`)

	err = WriteDumpToFile(NewJSONWriter(), g.Snapshot("a"), filepath.Join(t.TempDir(), "missing", "graph.json"))
	assert.Error(t, err)
}
