// Package artifact renders sealed papers and stores the result.
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/pavelanni/paperseal/internal/metrics"
	"github.com/pavelanni/paperseal/internal/model"
)

// Generator produces the artifact of a sealed paper and returns its URL.
type Generator interface {
	Generate(ctx context.Context, doc model.PaperDocument) (string, error)
}

// RenderingGenerator renders a paper to HTML and hands it to a Sink.
type RenderingGenerator struct {
	sink    Sink
	limiter *rate.Limiter
}

// NewRenderingGenerator creates a generator. perSecond <= 0 disables rate
// limiting.
func NewRenderingGenerator(sink Sink, perSecond float64) *RenderingGenerator {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &RenderingGenerator{sink: sink, limiter: rate.NewLimiter(limit, 1)}
}

// Generate renders doc and stores it under a fresh object name.
func (g *RenderingGenerator) Generate(ctx context.Context, doc model.PaperDocument) (string, error) {
	start := time.Now()
	url, err := g.generate(ctx, doc)
	status := "success"
	switch {
	case ctx.Err() != nil:
		status = "timeout"
	case err != nil:
		status = "error"
	}
	metrics.ArtifactDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	return url, err
}

func (g *RenderingGenerator) generate(ctx context.Context, doc model.PaperDocument) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for render slot: %w", err)
	}
	if doc.Generated.IsZero() {
		doc.Generated = time.Now().UTC()
	}
	var buf bytes.Buffer
	if err := paperPage(doc).Render(ctx, &buf); err != nil {
		return "", fmt.Errorf("render paper %d: %w", doc.Paper.ID, err)
	}
	name := fmt.Sprintf("papers/%d/%s.html", doc.Paper.ID, uuid.NewString())
	url, err := g.sink.Put(ctx, name, "text/html; charset=utf-8", buf.Bytes())
	if err != nil {
		return "", err
	}
	slog.Info("artifact generated", "paper_id", doc.Paper.ID, "url", url, "bytes", buf.Len())
	return url, nil
}
