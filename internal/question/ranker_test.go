package question

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/finreview-cli/internal/model"
)

func intPtr(i int) *int { return &i }

func activeQuestion(id string, score string, pos *int) model.LiveQuestion {
	return model.LiveQuestion{
		ID:           id,
		RankScore:    decimal.RequireFromString(score),
		RankPosition: pos,
		Status:       model.QuestionActive,
	}
}

func TestRerankAssignsPositions(t *testing.T) {
	st := &fakeStore{active: []model.LiveQuestion{
		activeQuestion("q1", "15", nil),
		activeQuestion("q2", "4.17", nil),
		activeQuestion("q3", "1.2", nil),
	}}

	res, err := NewRanker(st).Rerank(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RankResult{Total: 3, Updated: 3}, res)

	require.Len(t, st.updates, 3)
	assert.Equal(t, posUpdate{id: "q1", newPos: 1}, st.updates[0])
	assert.Equal(t, posUpdate{id: "q2", newPos: 2}, st.updates[1])
	assert.Equal(t, posUpdate{id: "q3", newPos: 3}, st.updates[2])
}

func TestRerankSkipsUnchangedPositions(t *testing.T) {
	st := &fakeStore{active: []model.LiveQuestion{
		activeQuestion("q1", "15", intPtr(1)),
		activeQuestion("q2", "4.17", intPtr(3)),
	}}

	res, err := NewRanker(st).Rerank(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RankResult{Total: 2, Updated: 1}, res)

	require.Len(t, st.updates, 1)
	assert.Equal(t, "q2", st.updates[0].id)
	require.NotNil(t, st.updates[0].oldPos)
	assert.Equal(t, 3, *st.updates[0].oldPos)
	assert.Equal(t, 2, st.updates[0].newPos)
}

func TestRerankEmptySet(t *testing.T) {
	st := &fakeStore{}

	res, err := NewRanker(st).Rerank(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RankResult{}, res)
	assert.Empty(t, st.updates)
}
