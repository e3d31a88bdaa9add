// Package compression compresses graph dumps before they are uploaded.
package compression

import (
	"bytes"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	apperrors "github.com/ipo-callgraph/pkg/errors"
)

// Codec names accepted by New.
const (
	None = "none"
	Gzip = "gzip"
	Zstd = "zstd"
)

// Compressor compresses and decompresses whole dumps.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	// Name is the codec name, e.g. "gzip".
	Name() string
	// Extension is appended to object keys, e.g. ".gz". Empty for None.
	Extension() string
	// ContentEncoding is the HTTP content encoding of compressed data.
	ContentEncoding() string
}

// New returns the compressor named name. An empty name means None.
func New(name string) (Compressor, error) {
	switch strings.ToLower(name) {
	case "", None:
		return noop{}, nil
	case Gzip:
		return gzipCompressor{level: gzip.BestCompression}, nil
	case Zstd:
		return newZstd()
	default:
		return nil, apperrors.Newf(apperrors.CodeConfigError, "unsupported compression: %s (valid: none, gzip, zstd)", name)
	}
}

type noop struct{}

func (noop) Compress(data []byte) ([]byte, error)   { return data, nil }
func (noop) Decompress(data []byte) ([]byte, error) { return data, nil }
func (noop) Name() string                           { return None }
func (noop) Extension() string                      { return "" }
func (noop) ContentEncoding() string                { return "" }

type gzipCompressor struct {
	level int
}

func (c gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, apperrors.Wrap(apperrors.CodeInternal, "gzip compression failed", err)
	}
	if err := w.Close(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "gzip compression failed", err)
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "not gzip data", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (gzipCompressor) Name() string            { return Gzip }
func (gzipCompressor) Extension() string       { return ".gz" }
func (gzipCompressor) ContentEncoding() string { return "gzip" }

// zstdCompressor shares one encoder and decoder; EncodeAll and DecodeAll
// are safe for concurrent use.
type zstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newZstd() (*zstdCompressor, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to create zstd encoder", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to create zstd decoder", err)
	}
	return &zstdCompressor{encoder: encoder, decoder: decoder}, nil
}

func (c *zstdCompressor) Compress(data []byte) ([]byte, error) {
	return c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (c *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	out, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "not zstd data", err)
	}
	return out, nil
}

func (*zstdCompressor) Name() string            { return Zstd }
func (*zstdCompressor) Extension() string       { return ".zst" }
func (*zstdCompressor) ContentEncoding() string { return "zstd" }

// Detect names the codec of data from its magic bytes.
func Detect(data []byte) string {
	switch {
	case len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b:
		return Gzip
	case len(data) >= 4 && data[0] == 0x28 && data[1] == 0xb5 && data[2] == 0x2f && data[3] == 0xfd:
		return Zstd
	default:
		return None
	}
}

// Decompress decompresses data with the codec Detect finds.
func Decompress(data []byte) ([]byte, error) {
	c, err := New(Detect(data))
	if err != nil {
		return nil, err
	}
	return c.Decompress(data)
}
