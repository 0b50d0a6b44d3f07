// Package pipeline sequences the review batch stages: ingest, derive,
// generate questions, re-rank.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/finreview-cli/internal/config"
	"github.com/sells-group/finreview-cli/internal/ingest"
	"github.com/sells-group/finreview-cli/internal/model"
	"github.com/sells-group/finreview-cli/internal/question"
	"github.com/sells-group/finreview-cli/internal/store"
	"github.com/sells-group/finreview-cli/internal/variance"
)

// Pipeline owns one sequential batch run. Stages never overlap and share
// nothing but the injected store; a stage failure aborts the run and the
// stage must be rerun after the underlying issue is fixed.
type Pipeline struct {
	store store.Store
	cfg   *config.Config
	log   *zap.Logger
}

// New creates a Pipeline over the given store and configuration.
func New(st store.Store, cfg *config.Config) *Pipeline {
	return &Pipeline{
		store: st,
		cfg:   cfg,
		log:   zap.L().With(zap.String("component", "pipeline")),
	}
}

// Ingest runs the dedup path over the given raw rows.
func (p *Pipeline) Ingest(ctx context.Context, rows []model.Datapoint) (ingest.Result, error) {
	return ingest.New(p.store).IngestRows(ctx, rows)
}

// Derive recomputes all derived metrics from the whitelisted datapoints
// and upserts them; rerunning over unchanged data changes nothing.
func (p *Pipeline) Derive(ctx context.Context) (int64, error) {
	dps, err := p.store.FetchDatapoints(ctx, p.cfg.Ingest.Metrics)
	if err != nil {
		return 0, eris.Wrap(err, "pipeline: fetch datapoints")
	}

	dms := variance.NewCalculator().Derive(dps)

	n, err := p.store.UpsertDerivedMetrics(ctx, dms)
	if err != nil {
		return 0, eris.Wrap(err, "pipeline: upsert derived metrics")
	}
	return n, nil
}

// GenerateQuestions scores derived metrics into live questions.
func (p *Pipeline) GenerateQuestions(ctx context.Context) (int, error) {
	gen := question.NewGenerator(p.store, question.GeneratorConfig{
		Threshold:     p.cfg.Scoring.ThresholdDecimal(),
		DefaultWeight: p.cfg.Scoring.DefaultWeightDecimal(),
	})
	return gen.Generate(ctx)
}

// UpdateRanks reassigns stable positions across the active question set.
func (p *Pipeline) UpdateRanks(ctx context.Context) (question.RankResult, error) {
	return question.NewRanker(p.store).Rerank(ctx)
}

// Run executes the full batch: ingest, derive, questions, rank. Stage
// ordering is the only synchronization; each stage reads what the
// previous one committed.
func (p *Pipeline) Run(ctx context.Context, rows []model.Datapoint) error {
	start := time.Now()
	p.log.Info("pipeline started", zap.Int("rows", len(rows)))

	ingested, err := p.Ingest(ctx, rows)
	if err != nil {
		return eris.Wrap(err, "pipeline: ingest stage")
	}
	p.log.Info("ingest complete",
		zap.Int("inserted", ingested.Inserted),
		zap.Int("corroborated", ingested.Corroborated),
	)

	derived, err := p.Derive(ctx)
	if err != nil {
		return eris.Wrap(err, "pipeline: derive stage")
	}
	p.log.Info("derive complete", zap.Int64("derived", derived))

	created, err := p.GenerateQuestions(ctx)
	if err != nil {
		return eris.Wrap(err, "pipeline: question stage")
	}
	p.log.Info("question generation complete", zap.Int("created", created))

	ranked, err := p.UpdateRanks(ctx)
	if err != nil {
		return eris.Wrap(err, "pipeline: rank stage")
	}
	p.log.Info("pipeline complete",
		zap.Int("active_questions", ranked.Total),
		zap.Int("rank_updates", ranked.Updated),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}
