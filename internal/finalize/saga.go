// Package finalize runs the finalize saga: seal, generate the artifact,
// then commit it or compensate the seal.
package finalize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/paperseal/internal/artifact"
	"github.com/pavelanni/paperseal/internal/lifecycle"
	"github.com/pavelanni/paperseal/internal/metrics"
	"github.com/pavelanni/paperseal/internal/model"
	"github.com/pavelanni/paperseal/internal/store"
)

const (
	defaultArtifactTimeout = 30 * time.Second
	compensationTimeout    = 15 * time.Second
)

// Saga finalizes scopes.
type Saga struct {
	store *store.Store
	lc    *lifecycle.Controller
	gen   artifact.Generator
	cfg   model.Config
}

// NewSaga creates a Saga.
func NewSaga(s *store.Store, lc *lifecycle.Controller, gen artifact.Generator, cfg model.Config) *Saga {
	if cfg.ArtifactTimeout <= 0 {
		cfg.ArtifactTimeout = defaultArtifactTimeout
	}
	if cfg.ReconcileWorkers <= 0 {
		cfg.ReconcileWorkers = 4
	}
	return &Saga{store: s, lc: lc, gen: gen, cfg: cfg}
}

// Finalize seals a scope whose selection is complete and, once the whole
// paper is sealed, generates and commits its artifact. A generation failure
// reverts the seal and returns ErrArtifactGenerationFailed.
//
// A finalized scope whose paper already holds an artifact returns the
// cached URL without regenerating.
func (s *Saga) Finalize(ctx context.Context, u *model.User, ref model.ScopeRef) (model.FinalizeResult, error) {
	st, err := s.store.GetScope(ctx, ref)
	if err != nil {
		return model.FinalizeResult{}, err
	}
	p, err := s.store.GetPaper(ctx, st.PaperID)
	if err != nil {
		return model.FinalizeResult{}, err
	}
	if !p.EditableBy(u) {
		return model.FinalizeResult{}, fmt.Errorf("paper %d: %w", p.ID, model.ErrUnauthorized)
	}

	var seal model.Seal
	switch {
	case st.Status == model.StatusFinalized && p.ArtifactURL != nil:
		metrics.Finalizations.WithLabelValues("cached").Inc()
		return model.FinalizeResult{Scope: st, ArtifactURL: *p.ArtifactURL, PaperComplete: true}, nil
	case st.Status == model.StatusFinalized:
		seal = sealOf(st)
	case !st.Complete() && st.Status != model.StatusPending:
		metrics.Finalizations.WithLabelValues("incomplete").Inc()
		return model.FinalizeResult{Scope: st}, &model.IncompleteError{Scope: st}
	default:
		seal, st, err = s.lc.Seal(ctx, ref)
		if err != nil {
			if errors.Is(err, model.ErrIncompleteSelection) {
				metrics.Finalizations.WithLabelValues("incomplete").Inc()
			}
			return model.FinalizeResult{Scope: st}, err
		}
	}

	// Past the seal the outcome must be settled even if the caller goes
	// away: only the bounded generate call observes ctx cancellation.
	post := context.WithoutCancel(ctx)
	complete, err := s.lc.PaperComplete(post, seal.PaperID)
	if err != nil {
		s.compensate(post, seal)
		return model.FinalizeResult{Scope: s.currentScope(post, st)}, err
	}
	if !complete {
		metrics.Finalizations.WithLabelValues("sealed_partial").Inc()
		slog.Info("section sealed, paper incomplete", "scope", ref, "paper_id", seal.PaperID)
		return model.FinalizeResult{Scope: st}, nil
	}

	url, err := s.generateAndCommit(ctx, seal)
	if err != nil {
		return model.FinalizeResult{Scope: s.currentScope(post, st)}, err
	}
	metrics.Finalizations.WithLabelValues("finalized").Inc()
	return model.FinalizeResult{Scope: s.currentScope(post, st), ArtifactURL: url, PaperComplete: true, Regenerated: true}, nil
}

// currentScope re-reads a scope for the result, falling back to last when
// the read fails.
func (s *Saga) currentScope(ctx context.Context, last model.ScopeState) model.ScopeState {
	st, err := s.store.GetScope(ctx, last.Ref)
	if err != nil {
		slog.Warn("failed to re-read scope", "scope", last.Ref, "error", err)
		return last
	}
	return st
}

func sealOf(st model.ScopeState) model.Seal {
	seal := model.Seal{Scope: st.Ref, PaperID: st.PaperID, Version: st.SealVersion}
	if st.FinalizedAt != nil {
		seal.At = *st.FinalizedAt
	}
	return seal
}

type generated struct {
	url string
	err error
}

// generateAndCommit renders the sealed paper under a bounded timeout and
// commits the artifact, compensating the seal when generation fails. A
// result that arrives after the deadline counts as a failure.
func (s *Saga) generateAndCommit(ctx context.Context, seal model.Seal) (string, error) {
	post := context.WithoutCancel(ctx)
	p, err := s.store.GetPaper(post, seal.PaperID)
	if err != nil {
		s.compensate(post, seal)
		return "", err
	}
	doc, err := s.store.PaperDocument(post, p)
	if err != nil {
		s.compensate(post, seal)
		return "", err
	}
	doc.Generated = s.store.Now()

	url, err := s.generate(ctx, doc)
	if err != nil {
		metrics.Finalizations.WithLabelValues("generation_failed").Inc()
		slog.Error("artifact generation failed", "scope", seal.Scope, "paper_id", seal.PaperID,
			"seal_version", seal.Version, "error", err)
		s.compensate(post, seal)
		return "", fmt.Errorf("%w: paper not finalized: %w", model.ErrArtifactGenerationFailed, err)
	}

	err = s.lc.CommitArtifact(post, seal, url)
	if errors.Is(err, model.ErrSealLost) {
		metrics.Finalizations.WithLabelValues("seal_lost").Inc()
		slog.Warn("seal lost before commit, artifact discarded", "scope", seal.Scope, "url", url)
		return "", err
	}
	if err != nil {
		s.compensate(post, seal)
		return "", fmt.Errorf("%w: paper not finalized: %w", model.ErrArtifactGenerationFailed, err)
	}
	return url, nil
}

// generate runs the generator and waits no longer than the artifact
// timeout, whether or not the generator honors its context.
func (s *Saga) generate(ctx context.Context, doc model.PaperDocument) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, s.cfg.ArtifactTimeout)
	defer cancel()

	done := make(chan generated, 1)
	go func() {
		url, err := s.gen.Generate(genCtx, doc)
		done <- generated{url: url, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return "", res.err
		}
		if err := genCtx.Err(); err != nil {
			slog.Warn("artifact arrived after deadline, discarded", "paper_id", doc.Paper.ID, "url", res.url)
			return "", err
		}
		return res.url, nil
	case <-genCtx.Done():
		return "", genCtx.Err()
	}
}

// compensate reverts the seal on a context detached from the caller, so a
// canceled request still leaves the scope in review.
func (s *Saga) compensate(ctx context.Context, seal model.Seal) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	if _, err := s.lc.Compensate(cctx, seal); err != nil {
		slog.Error("seal left without artifact; reconciler will retry", "scope", seal.Scope,
			"seal_version", seal.Version, "error", err)
	}
}
