package storage

import (
	"bytes"
	"context"
	"path"
	"strings"
	"time"

	"github.com/ipo-callgraph/pkg/compression"
	"github.com/ipo-callgraph/pkg/model"
)

// Content types of graph dumps.
var contentTypes = map[string]string{
	"dot":  "text/vnd.graphviz",
	"json": "application/json",
}

// ArtifactPublisher uploads the dumps of a run under
// <prefix>/<run>/<timestamp>.<format>[.<codec extension>].
type ArtifactPublisher struct {
	store      Storage
	prefix     string
	compressor compression.Compressor
	now        func() time.Time
}

// PublisherOption configures an ArtifactPublisher.
type PublisherOption func(*ArtifactPublisher)

// WithCompressor compresses dumps before uploading them.
func WithCompressor(c compression.Compressor) PublisherOption {
	return func(p *ArtifactPublisher) {
		if c != nil {
			p.compressor = c
		}
	}
}

// NewArtifactPublisher creates a publisher writing below prefix.
func NewArtifactPublisher(store Storage, prefix string, opts ...PublisherOption) *ArtifactPublisher {
	none, _ := compression.New(compression.None)
	p := &ArtifactPublisher{store: store, prefix: strings.Trim(prefix, "/"), compressor: none, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Key returns the object key of a dump of run.
func (p *ArtifactPublisher) Key(run, format string, at time.Time) string {
	name := at.UTC().Format("20060102T150405Z") + "." + format + p.compressor.Extension()
	return path.Join(p.prefix, sanitize(run), name)
}

// Publish uploads data and returns the artifact to record in the report.
func (p *ArtifactPublisher) Publish(ctx context.Context, run, format string, data []byte) (model.Artifact, error) {
	key := p.Key(run, format, p.now())
	contentType := contentTypes[format]
	if enc := p.compressor.ContentEncoding(); enc != "" {
		packed, err := p.compressor.Compress(data)
		if err != nil {
			return model.Artifact{}, err
		}
		data, contentType = packed, "application/"+enc
	}
	if err := p.store.Upload(ctx, key, bytes.NewReader(data), contentType); err != nil {
		return model.Artifact{}, err
	}
	return model.Artifact{Format: format, Location: p.store.GetURL(key)}, nil
}

// sanitize keeps run names usable as a single path segment.
func sanitize(run string) string {
	if run == "" {
		return "unnamed"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '_'
		}
		return r
	}, run)
}
