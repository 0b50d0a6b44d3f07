package question

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/finreview-cli/internal/model"
	"github.com/sells-group/finreview-cli/internal/store"
)

type posUpdate struct {
	id     string
	oldPos *int
	newPos int
}

// fakeStore covers the store surface the question package touches.
type fakeStore struct {
	store.Store

	weights  map[string]decimal.Decimal
	derived  []model.DerivedMetric
	existing map[string]bool

	created []model.LiveQuestion
	notes   []string

	active  []model.LiveQuestion
	updates []posUpdate
}

func (f *fakeStore) FetchMetricWeights(ctx context.Context) (map[string]decimal.Decimal, error) {
	return f.weights, nil
}

func (f *fakeStore) FetchDerivedMetrics(ctx context.Context) ([]model.DerivedMetric, error) {
	return f.derived, nil
}

func (f *fakeStore) ActiveQuestionExists(ctx context.Context, derivedMetricID string) (bool, error) {
	return f.existing[derivedMetricID], nil
}

func (f *fakeStore) CreateQuestion(ctx context.Context, q *model.LiveQuestion, note string) error {
	q.ID = "q-" + q.DerivedMetricID
	f.created = append(f.created, *q)
	f.notes = append(f.notes, note)
	return nil
}

func (f *fakeStore) FetchActiveQuestions(ctx context.Context) ([]model.LiveQuestion, error) {
	return f.active, nil
}

func (f *fakeStore) UpdateQuestionPosition(ctx context.Context, questionID string, oldPos *int, newPos int) error {
	f.updates = append(f.updates, posUpdate{id: questionID, oldPos: oldPos, newPos: newPos})
	return nil
}

func defaultCfg() GeneratorConfig {
	return GeneratorConfig{
		Threshold:     decimal.RequireFromString("0.5"),
		DefaultWeight: decimal.RequireFromString("0.5"),
	}
}

func dm(id, metric string, calc model.CalculationType, value string) model.DerivedMetric {
	v := decimal.RequireFromString(value)
	return model.DerivedMetric{
		ID:              id,
		BaseMetric:      metric,
		CalculationType: calc,
		Frequency:       model.FrequencyMonthly,
		CompanyID:       1,
		PeriodID:        2,
		Value:           &v,
	}
}

func TestGenerateCreatesQuestion(t *testing.T) {
	st := &fakeStore{
		derived: []model.DerivedMetric{dm("d1", "Revenue", model.CalcGrowthVsPrior, "30")},
	}

	created, err := NewGenerator(st, defaultCfg()).Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	require.Len(t, st.created, 1)

	q := st.created[0]
	assert.Equal(t, "d1", q.DerivedMetricID)
	assert.Equal(t, "Why did Revenue increase by 30% growth vs prior period?", q.Text)
	assert.True(t, q.RankScore.Equal(decimal.RequireFromString("15")))
	assert.Equal(t, model.DirectionIncrease, q.Scorecard.Direction)
	assert.True(t, q.Scorecard.Magnitude.Equal(decimal.RequireFromString("30")))
	assert.True(t, q.Scorecard.Weight.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, "Generated from Revenue Growth vs Prior Period (increase)", st.notes[0])
}

func TestGenerateThresholdIsInclusive(t *testing.T) {
	st := &fakeStore{
		derived: []model.DerivedMetric{
			dm("at", "Revenue", model.CalcGrowthVsPrior, "1"),     // score 0.5, exactly at threshold
			dm("below", "Revenue", model.CalcGrowthVsPrior, "0.99"), // score 0.495
		},
	}

	created, err := NewGenerator(st, defaultCfg()).Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	require.Len(t, st.created, 1)
	assert.Equal(t, "at", st.created[0].DerivedMetricID)
}

func TestGenerateUsesSeededWeight(t *testing.T) {
	st := &fakeStore{
		weights: map[string]decimal.Decimal{"Revenue": decimal.RequireFromString("0.01")},
		derived: []model.DerivedMetric{
			dm("d1", "Revenue", model.CalcGrowthVsPrior, "30"),  // 30 * 0.01 = 0.3, gated
			dm("d2", "EBITDA", model.CalcGrowthVsPrior, "-30"), // default weight applies
		},
	}

	created, err := NewGenerator(st, defaultCfg()).Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	require.Len(t, st.created, 1)

	q := st.created[0]
	assert.Equal(t, "d2", q.DerivedMetricID)
	assert.Equal(t, model.DirectionDecline, q.Scorecard.Direction)
	assert.Equal(t, "Why did EBITDA decrease by 30% growth vs prior period?", q.Text)
}

func TestGenerateSkipsExistingActiveQuestion(t *testing.T) {
	st := &fakeStore{
		derived:  []model.DerivedMetric{dm("d1", "Revenue", model.CalcGrowthVsPrior, "30")},
		existing: map[string]bool{"d1": true},
	}

	created, err := NewGenerator(st, defaultCfg()).Generate(context.Background())
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Empty(t, st.created)
}

func TestGenerateSkipsUndefinedValues(t *testing.T) {
	undefined := dm("d1", "Revenue", model.CalcGrowthVsPrior, "0")
	undefined.Value = nil

	st := &fakeStore{derived: []model.DerivedMetric{undefined}}

	created, err := NewGenerator(st, defaultCfg()).Generate(context.Background())
	require.NoError(t, err)
	assert.Zero(t, created)
}

func TestText(t *testing.T) {
	assert.Equal(t,
		"Why did Revenue increase by 12.35% growth vs prior period?",
		Text("Revenue", model.CalcGrowthVsPrior, decimal.RequireFromString("12.345")),
	)
	assert.Equal(t,
		"Why did EBITDA decrease by 8.33% variance vs budget?",
		Text("EBITDA", model.CalcVarianceVsBudget, decimal.RequireFromString("-8.333")),
	)
	assert.Equal(t,
		"Why did Gross Profit stay flat by 0% growth vs prior period?",
		Text("Gross Profit", model.CalcGrowthVsPrior, decimal.Zero),
	)
}
