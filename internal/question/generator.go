// Package question turns material variances into ranked analyst questions.
package question

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/finreview-cli/internal/model"
	"github.com/sells-group/finreview-cli/internal/store"
)

// GeneratorConfig holds the scoring knobs, read fresh per run and passed
// in explicitly rather than held as ambient state.
type GeneratorConfig struct {
	Threshold     decimal.Decimal
	DefaultWeight decimal.Decimal
}

// Generator scores derived metrics and raises a live question for every
// record at or above the threshold that is not already covered by an
// active question.
type Generator struct {
	store store.Store
	cfg   GeneratorConfig
	log   *zap.Logger
}

// NewGenerator creates a Generator.
func NewGenerator(st store.Store, cfg GeneratorConfig) *Generator {
	return &Generator{
		store: st,
		cfg:   cfg,
		log:   zap.L().With(zap.String("component", "question")),
	}
}

// Generate runs one scoring pass over all derived metrics and returns the
// number of questions created. Records with a nil value cannot be scored
// and are skipped, not errors.
func (g *Generator) Generate(ctx context.Context) (int, error) {
	weights, err := g.store.FetchMetricWeights(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "question: fetch weights")
	}

	dms, err := g.store.FetchDerivedMetrics(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "question: fetch derived metrics")
	}

	created := 0
	for _, dm := range dms {
		if dm.Value == nil {
			continue
		}

		weight, ok := weights[dm.BaseMetric]
		if !ok {
			weight = g.cfg.DefaultWeight
		}

		magnitude := dm.Value.Abs()
		score := magnitude.Mul(weight)
		if score.Cmp(g.cfg.Threshold) < 0 {
			continue
		}

		exists, err := g.store.ActiveQuestionExists(ctx, dm.ID)
		if err != nil {
			return created, eris.Wrapf(err, "question: check existing for %s", dm.ID)
		}
		if exists {
			continue
		}

		direction := model.DirectionOf(*dm.Value)
		q := model.LiveQuestion{
			DerivedMetricID: dm.ID,
			Text:            Text(dm.BaseMetric, dm.CalculationType, *dm.Value),
			Weight:          weight,
			Scorecard: model.Scorecard{
				Magnitude: magnitude,
				Weight:    weight,
				Score:     score.Round(4),
				Direction: direction,
			},
			RankScore: score.Round(4),
		}
		note := fmt.Sprintf("Generated from %s %s (%s)", dm.BaseMetric, dm.CalculationType, direction)

		if err := g.store.CreateQuestion(ctx, &q, note); err != nil {
			return created, eris.Wrapf(err, "question: create for %s", dm.ID)
		}

		g.log.Info("question raised",
			zap.String("question_id", q.ID),
			zap.String("metric", dm.BaseMetric),
			zap.String("score", q.RankScore.String()),
			zap.String("text", q.Text),
		)
		created++
	}

	return created, nil
}

// Text renders the analyst-facing question for a signed variance.
func Text(metric string, calcType model.CalculationType, value decimal.Decimal) string {
	var verb string
	switch value.Sign() {
	case 1:
		verb = "increase"
	case -1:
		verb = "decrease"
	default:
		verb = "stay flat"
	}
	return fmt.Sprintf("Why did %s %s by %s%% %s?",
		metric, verb, value.Abs().Round(2).String(), strings.ToLower(string(calcType)))
}
