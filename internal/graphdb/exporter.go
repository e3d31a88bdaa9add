// Package graphdb exports a finished call graph to Neo4j. Methods become
// (:Method) nodes keyed by graph name and reference, call edges become
// [:CALLS] and field-read edges [:READS_FROM] relationships. Edges removed
// by cycle elimination are kept as [:REMOVED] so the cut can be inspected.
package graphdb

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/ipo-callgraph/internal/callgraph"
	"github.com/ipo-callgraph/internal/program"
	"github.com/ipo-callgraph/pkg/config"
	apperrors "github.com/ipo-callgraph/pkg/errors"
	"github.com/ipo-callgraph/pkg/utils"
)

// DefaultBatchSize bounds the rows sent per UNWIND statement.
const DefaultBatchSize = 500

// Runner executes one Cypher statement.
type Runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) error
}

// driverRunner runs statements through neo4j.ExecuteQuery.
type driverRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

func (r *driverRunner) Run(ctx context.Context, cypher string, params map[string]any) error {
	opts := []neo4j.ExecuteQueryConfigurationOption{}
	if r.database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(r.database))
	}
	_, err := neo4j.ExecuteQuery(ctx, r.driver, cypher, params, neo4j.EagerResultTransformer, opts...)
	return err
}

// Stats counts what an export wrote.
type Stats struct {
	Methods      int
	Calls        int
	FieldReads   int
	RemovedEdges int
}

// Exporter writes dumps to Neo4j in batches.
type Exporter struct {
	runner    Runner
	batchSize int
	logger    utils.Logger
	closer    func(context.Context) error
}

// NewExporter creates an exporter over runner.
func NewExporter(runner Runner, batchSize int, logger utils.Logger) *Exporter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	return &Exporter{runner: runner, batchSize: batchSize, logger: logger}
}

// Connect opens a driver for cfg and verifies the server is reachable.
func Connect(ctx context.Context, cfg *config.Neo4jConfig, logger utils.Logger) (*Exporter, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeExportError, "failed to create neo4j driver", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, apperrors.Wrap(apperrors.CodeExportError, "failed to reach neo4j", err)
	}

	e := NewExporter(&driverRunner{driver: driver, database: cfg.Database}, cfg.BatchSize, logger)
	e.closer = driver.Close
	return e, nil
}

// Close releases the driver, if the exporter owns one.
func (e *Exporter) Close(ctx context.Context) error {
	if e.closer == nil {
		return nil
	}
	return e.closer(ctx)
}

// CreateIndexes ensures the lookup indexes exist.
func (e *Exporter) CreateIndexes(ctx context.Context) error {
	indexes := []string{
		"CREATE INDEX ipo_method_key IF NOT EXISTS FOR (n:Method) ON (n.graph, n.ref)",
		"CREATE INDEX ipo_method_holder IF NOT EXISTS FOR (n:Method) ON (n.holder)",
	}
	for _, q := range indexes {
		if err := e.run(ctx, q, nil); err != nil {
			return err
		}
	}
	return nil
}

// Clean removes a previously exported graph.
func (e *Exporter) Clean(ctx context.Context, graph string) error {
	e.logger.Info("Cleaning graph %s", graph)
	return e.run(ctx, "MATCH (n:Method {graph: $graph}) DETACH DELETE n", map[string]any{"graph": graph})
}

// Export writes the nodes and edges of d. waves, when given, is stored as
// the leaves-first wave index of each method.
func (e *Exporter) Export(ctx context.Context, d *callgraph.Dump, waves [][]string) (Stats, error) {
	var stats Stats

	waveOf := make(map[string]int)
	for i, wave := range waves {
		for _, m := range wave {
			waveOf[m] = i
		}
	}

	rows := make([]map[string]any, 0, len(d.Nodes))
	for _, n := range d.Nodes {
		row := map[string]any{
			"ref":            n.Method,
			"call_sites":     n.CallSites,
			"self_recursive": n.SelfRecursive,
			"wave":           nil,
		}
		if ref, err := program.ParseMethodRef(n.Method); err == nil {
			row["holder"], row["name"], row["proto"] = ref.Holder, ref.Name, ref.Proto
		} else {
			row["holder"], row["name"], row["proto"] = "", n.Method, ""
		}
		if w, ok := waveOf[n.Method]; ok {
			row["wave"] = w
		}
		rows = append(rows, row)
	}
	e.logger.Info("Exporting %d methods of %s", len(rows), d.Name)
	if err := e.batched(ctx, upsertMethods, d.Name, rows); err != nil {
		return stats, err
	}
	stats.Methods = len(rows)

	var calls, reads, removed []map[string]any
	for _, edge := range d.Edges {
		row := map[string]any{"from": edge.From, "to": edge.To}
		if edge.Kind == callgraph.EdgeKindFieldRead {
			reads = append(reads, row)
		} else {
			calls = append(calls, row)
		}
	}
	for _, edge := range d.RemovedEdges {
		removed = append(removed, map[string]any{"from": edge.From, "to": edge.To, "kind": string(edge.Kind)})
	}

	if err := e.batched(ctx, mergeCalls, d.Name, calls); err != nil {
		return stats, err
	}
	stats.Calls = len(calls)
	if err := e.batched(ctx, mergeReads, d.Name, reads); err != nil {
		return stats, err
	}
	stats.FieldReads = len(reads)
	if err := e.batched(ctx, mergeRemoved, d.Name, removed); err != nil {
		return stats, err
	}
	stats.RemovedEdges = len(removed)

	e.logger.Info("Exported %s: %d calls, %d field reads, %d removed edges",
		d.Name, stats.Calls, stats.FieldReads, stats.RemovedEdges)
	return stats, nil
}

const (
	upsertMethods = `UNWIND $batch AS row
		 MERGE (n:Method {graph: $graph, ref: row.ref})
		 SET n.holder = row.holder, n.name = row.name, n.proto = row.proto,
		     n.call_sites = row.call_sites, n.self_recursive = row.self_recursive,
		     n.wave = row.wave`

	mergeCalls = `UNWIND $batch AS row
		 MATCH (a:Method {graph: $graph, ref: row.from}), (b:Method {graph: $graph, ref: row.to})
		 MERGE (a)-[:CALLS]->(b)`

	mergeReads = `UNWIND $batch AS row
		 MATCH (a:Method {graph: $graph, ref: row.from}), (b:Method {graph: $graph, ref: row.to})
		 MERGE (a)-[:READS_FROM]->(b)`

	mergeRemoved = `UNWIND $batch AS row
		 MERGE (a:Method {graph: $graph, ref: row.from})
		 MERGE (b:Method {graph: $graph, ref: row.to})
		 MERGE (a)-[r:REMOVED {kind: row.kind}]->(b)`
)

func (e *Exporter) batched(ctx context.Context, cypher, graph string, rows []map[string]any) error {
	for start := 0; start < len(rows); start += e.batchSize {
		end := min(start+e.batchSize, len(rows))
		if err := e.run(ctx, cypher, map[string]any{"graph": graph, "batch": rows[start:end]}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Exporter) run(ctx context.Context, cypher string, params map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.runner.Run(ctx, cypher, params); err != nil {
		return apperrors.Wrap(apperrors.CodeExportError, "cypher statement failed", err)
	}
	return nil
}
