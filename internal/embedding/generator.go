// Package embedding produces fixed-width, unit-length vectors for chunk text.
//
// A Generator owns one Encoder that is loaded on first use. The encoder can be
// an in-process ONNX sentence model or an Ollama embedding endpoint; either
// way the Generator normalizes each vector and fits it to Dimension.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"docchat/internal/logger"
)

// Dimension is the width of every vector returned by Embed.
const Dimension = 384

const defaultBatchSize = 32

var ErrModelUnavailable = errors.New("embedding model unavailable")

// Encoder turns a batch of texts into raw vectors of any width.
type Encoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
}

// Loader builds an Encoder from a configured location (a model directory or
// a model name, depending on the provider).
type Loader func(ctx context.Context, location string) (Encoder, error)

type Generator struct {
	location  string
	load      Loader
	batchSize int
	log       *slog.Logger

	mu      sync.Mutex
	encoder Encoder
}

type Option func(*Generator)

func WithBatchSize(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.batchSize = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) { g.log = l }
}

func NewGenerator(location string, load Loader, opts ...Option) *Generator {
	g := &Generator{
		location:  location,
		load:      load,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = logger.OrDefault(g.log)
	return g
}

// Embed returns one Dimension-wide vector per text, in input order.
func (g *Generator) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	enc, err := g.encoderFor(ctx)
	if err != nil {
		return nil, err
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += g.batchSize {
		end := min(start+g.batchSize, len(texts))
		vectors, err := encodeAsync(ctx, enc, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("encode batch %d-%d failed: %w", start, end, err)
		}
		if len(vectors) != end-start {
			return nil, fmt.Errorf("encoder returned %d vectors for %d texts", len(vectors), end-start)
		}
		for _, v := range vectors {
			out = append(out, fit(normalize(v)))
		}
	}
	return out, nil
}

// Ready reports whether the encoder has been loaded.
func (g *Generator) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.encoder != nil
}

func (g *Generator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.encoder.(io.Closer); ok {
		g.encoder = nil
		return c.Close()
	}
	return nil
}

// encoderFor loads the encoder at most once. A failed load is not remembered,
// so the next caller tries again.
func (g *Generator) encoderFor(ctx context.Context) (Encoder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.encoder != nil {
		return g.encoder, nil
	}
	if g.location == "" || g.load == nil {
		return nil, fmt.Errorf("%w: no model location configured", ErrModelUnavailable)
	}

	started := time.Now()
	enc, err := g.load(ctx, g.location)
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %w", ErrModelUnavailable, g.location, err)
	}
	g.log.Info("embedding model loaded", "location", g.location, "elapsed", time.Since(started))
	g.encoder = enc
	return enc, nil
}

type encodeResult struct {
	vectors [][]float32
	err     error
}

// encodeAsync runs the encoder on its own goroutine so a cancelled caller
// stops waiting without interrupting the computation.
func encodeAsync(ctx context.Context, enc Encoder, texts []string) ([][]float32, error) {
	done := make(chan encodeResult, 1)
	go func() {
		vectors, err := enc.Encode(ctx, texts)
		done <- encodeResult{vectors: vectors, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		return res.vectors, res.err
	}
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// fit zero-pads or truncates v to Dimension.
func fit(v []float32) []float32 {
	if len(v) == Dimension {
		return v
	}
	out := make([]float32, Dimension)
	copy(out, v)
	return out
}
