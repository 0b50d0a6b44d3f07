package question

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/finreview-cli/internal/store"
)

// Ranker reassigns stable positions 1..N to the active question set.
// It only ever reorders: no question is created, resolved or deleted here.
type Ranker struct {
	store store.Store
	log   *zap.Logger
}

// NewRanker creates a Ranker.
func NewRanker(st store.Store) *Ranker {
	return &Ranker{
		store: st,
		log:   zap.L().With(zap.String("component", "rank")),
	}
}

// RankResult summarizes one re-ranking pass.
type RankResult struct {
	Total   int `json:"total"`
	Updated int `json:"updated"`
}

// Rerank fetches the active questions in score order (ties broken by
// derived metric id) and persists every position that changed, logging
// each move. A pass over unchanged scores writes nothing.
func (r *Ranker) Rerank(ctx context.Context) (RankResult, error) {
	questions, err := r.store.FetchActiveQuestions(ctx)
	if err != nil {
		return RankResult{}, eris.Wrap(err, "rank: fetch active questions")
	}

	res := RankResult{Total: len(questions)}
	for i, q := range questions {
		pos := i + 1
		if q.RankPosition != nil && *q.RankPosition == pos {
			continue
		}
		if err := r.store.UpdateQuestionPosition(ctx, q.ID, q.RankPosition, pos); err != nil {
			return res, eris.Wrapf(err, "rank: update position for %s", q.ID)
		}
		r.log.Debug("rank updated",
			zap.String("question_id", q.ID),
			zap.Intp("old", q.RankPosition),
			zap.Int("new", pos),
		)
		res.Updated++
	}

	r.log.Info("re-ranking complete",
		zap.Int("total", res.Total),
		zap.Int("updated", res.Updated),
	)
	return res, nil
}
