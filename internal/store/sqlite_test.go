package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/finreview-cli/internal/model"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func sqliteDatapoint(period int64, vt model.ValueType, value string) model.Datapoint {
	return model.Datapoint{
		CompanyID:  1,
		PeriodID:   period,
		Metric:     "Revenue",
		ValueType:  vt,
		Frequency:  model.FrequencyMonthly,
		Value:      decimal.RequireFromString(value),
		SourceFile: "q2.xlsx",
	}
}

func derivedMetric(value string, sourceIDs ...string) model.DerivedMetric {
	v := decimal.RequireFromString(value)
	return model.DerivedMetric{
		BaseMetric:          "Revenue",
		CalculationType:     model.CalcGrowthVsPrior,
		Frequency:           model.FrequencyMonthly,
		CompanyID:           1,
		PeriodID:            2,
		Value:               &v,
		Unit:                "%",
		SourceIDs:           sourceIDs,
		CorroborationStatus: model.CorroborationPending,
	}
}

func TestSQLiteDatapointRoundTrip(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()

	dp := sqliteDatapoint(1, model.ValueActual, "1250.50")
	inserted, err := st.InsertDatapoint(ctx, dp)
	require.NoError(t, err)
	assert.NotEmpty(t, inserted.ID)

	id, err := st.FindDatapointID(ctx, dp.Key())
	require.NoError(t, err)
	assert.Equal(t, inserted.ID, id)

	// Different period, same everything else: not found.
	other := sqliteDatapoint(9, model.ValueActual, "1")
	id, err = st.FindDatapointID(ctx, other.Key())
	require.NoError(t, err)
	assert.Empty(t, id)

	dps, err := st.FetchDatapoints(ctx, []string{"Revenue"})
	require.NoError(t, err)
	require.Len(t, dps, 1)
	assert.True(t, dps[0].Value.Equal(decimal.RequireFromString("1250.50")))
	assert.Equal(t, model.ValueActual, dps[0].ValueType)
}

func TestSQLiteNaturalKeyUnique(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()

	_, err := st.InsertDatapoint(ctx, sqliteDatapoint(1, model.ValueActual, "100"))
	require.NoError(t, err)

	// Same natural key, different value: the unique index rejects it. The
	// ingest path is expected to corroborate instead of inserting.
	_, err = st.InsertDatapoint(ctx, sqliteDatapoint(1, model.ValueActual, "999"))
	require.Error(t, err)
}

func TestSQLiteFetchDatapointsFiltersMetrics(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()

	_, err := st.InsertDatapoint(ctx, sqliteDatapoint(1, model.ValueActual, "100"))
	require.NoError(t, err)

	headcount := sqliteDatapoint(1, model.ValueActual, "50")
	headcount.Metric = "Headcount"
	_, err = st.InsertDatapoint(ctx, headcount)
	require.NoError(t, err)

	dps, err := st.FetchDatapoints(ctx, []string{"Revenue", "EBITDA"})
	require.NoError(t, err)
	require.Len(t, dps, 1)
	assert.Equal(t, "Revenue", dps[0].Metric)

	dps, err = st.FetchDatapoints(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, dps)
}

func TestSQLiteUpsertDerivedMetricsPreservesID(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()

	n, err := st.UpsertDerivedMetrics(ctx, []model.DerivedMetric{derivedMetric("30", "a", "b")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	dms, err := st.FetchDerivedMetrics(ctx)
	require.NoError(t, err)
	require.Len(t, dms, 1)
	originalID := dms[0].ID
	assert.Equal(t, []string{"a", "b"}, dms[0].SourceIDs)

	// Re-deriving the same key with a new value updates in place.
	n, err = st.UpsertDerivedMetrics(ctx, []model.DerivedMetric{derivedMetric("35", "a", "b")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	dms, err = st.FetchDerivedMetrics(ctx)
	require.NoError(t, err)
	require.Len(t, dms, 1)
	assert.Equal(t, originalID, dms[0].ID)
	assert.True(t, dms[0].Value.Equal(decimal.RequireFromString("35")))

	// Different source ids derive a new record.
	n, err = st.UpsertDerivedMetrics(ctx, []model.DerivedMetric{derivedMetric("30", "a", "c")})
	require.NoError(t, err)
	dms, err = st.FetchDerivedMetrics(ctx)
	require.NoError(t, err)
	assert.Len(t, dms, 2)
}

func TestSQLiteUpsertDerivedMetricsNilValue(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()

	dm := derivedMetric("0", "a", "b")
	dm.Value = nil
	_, err := st.UpsertDerivedMetrics(ctx, []model.DerivedMetric{dm})
	require.NoError(t, err)

	dms, err := st.FetchDerivedMetrics(ctx)
	require.NoError(t, err)
	require.Len(t, dms, 1)
	assert.Nil(t, dms[0].Value)
}

func createDerived(t *testing.T, st *SQLiteStore, value string, sourceIDs ...string) model.DerivedMetric {
	t.Helper()
	_, err := st.UpsertDerivedMetrics(context.Background(), []model.DerivedMetric{derivedMetric(value, sourceIDs...)})
	require.NoError(t, err)
	dms, err := st.FetchDerivedMetrics(context.Background())
	require.NoError(t, err)
	for _, dm := range dms {
		if len(dm.SourceIDs) == len(sourceIDs) && dm.SourceIDs[len(dm.SourceIDs)-1] == sourceIDs[len(sourceIDs)-1] {
			return dm
		}
	}
	t.Fatalf("derived metric with sources %v not found", sourceIDs)
	return model.DerivedMetric{}
}

func TestSQLiteQuestionLifecycle(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()

	dm := createDerived(t, st, "30", "a", "b")

	exists, err := st.ActiveQuestionExists(ctx, dm.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	q := model.LiveQuestion{
		DerivedMetricID: dm.ID,
		Text:            "Why did Revenue increase by 30% growth vs prior period?",
		Weight:          decimal.RequireFromString("0.5"),
		Scorecard: model.Scorecard{
			Magnitude: decimal.RequireFromString("30"),
			Weight:    decimal.RequireFromString("0.5"),
			Score:     decimal.RequireFromString("15"),
			Direction: model.DirectionIncrease,
		},
		RankScore: decimal.RequireFromString("15"),
	}
	require.NoError(t, st.CreateQuestion(ctx, &q, "Generated from Revenue Growth vs Prior Period (increase)"))
	assert.NotEmpty(t, q.ID)
	assert.Equal(t, model.QuestionActive, q.Status)

	exists, err = st.ActiveQuestionExists(ctx, dm.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	// Creation is logged atomically with the insert.
	counts, err := st.TableCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["live_questions"])
	assert.Equal(t, int64(1), counts["question_logs"])

	questions, err := st.FetchActiveQuestions(ctx)
	require.NoError(t, err)
	require.Len(t, questions, 1)
	fetched := questions[0]
	assert.Equal(t, q.Text, fetched.Text)
	assert.True(t, fetched.RankScore.Equal(decimal.RequireFromString("15")))
	assert.Equal(t, model.DirectionIncrease, fetched.Scorecard.Direction)
	assert.Nil(t, fetched.RankPosition)

	require.NoError(t, st.UpdateQuestionPosition(ctx, q.ID, nil, 1))

	questions, err = st.FetchActiveQuestions(ctx)
	require.NoError(t, err)
	require.NotNil(t, questions[0].RankPosition)
	assert.Equal(t, 1, *questions[0].RankPosition)

	counts, err = st.TableCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["question_logs"])
}

func TestSQLiteFetchActiveQuestionsOrdering(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()

	low := createDerived(t, st, "5", "a", "b")
	high := createDerived(t, st, "40", "a", "c")

	for _, c := range []struct {
		dm    model.DerivedMetric
		score string
	}{
		{low, "2.5"},
		{high, "20"},
	} {
		q := model.LiveQuestion{
			DerivedMetricID: c.dm.ID,
			Text:            "placeholder",
			Weight:          decimal.RequireFromString("0.5"),
			RankScore:       decimal.RequireFromString(c.score),
		}
		require.NoError(t, st.CreateQuestion(ctx, &q, "note"))
	}

	questions, err := st.FetchActiveQuestions(ctx)
	require.NoError(t, err)
	require.Len(t, questions, 2)
	assert.Equal(t, high.ID, questions[0].DerivedMetricID)
	assert.Equal(t, low.ID, questions[1].DerivedMetricID)
}

func TestSQLiteFetchActiveQuestionsTieBreak(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()

	first := createDerived(t, st, "10", "a", "b")
	second := createDerived(t, st, "10", "a", "c")

	for _, dm := range []model.DerivedMetric{second, first} {
		q := model.LiveQuestion{
			DerivedMetricID: dm.ID,
			Text:            "placeholder",
			Weight:          decimal.RequireFromString("0.5"),
			RankScore:       decimal.RequireFromString("5"),
		}
		require.NoError(t, st.CreateQuestion(ctx, &q, "note"))
	}

	questions, err := st.FetchActiveQuestions(ctx)
	require.NoError(t, err)
	require.Len(t, questions, 2)
	// Equal scores fall back to derived metric id order.
	assert.Less(t, questions[0].DerivedMetricID, questions[1].DerivedMetricID)
}

func TestSQLiteOneActiveQuestionPerDerivedMetric(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()

	dm := createDerived(t, st, "30", "a", "b")

	q1 := model.LiveQuestion{
		DerivedMetricID: dm.ID,
		Text:            "first",
		Weight:          decimal.RequireFromString("0.5"),
		RankScore:       decimal.RequireFromString("15"),
	}
	require.NoError(t, st.CreateQuestion(ctx, &q1, "note"))

	q2 := model.LiveQuestion{
		DerivedMetricID: dm.ID,
		Text:            "second",
		Weight:          decimal.RequireFromString("0.5"),
		RankScore:       decimal.RequireFromString("15"),
	}
	err := st.CreateQuestion(ctx, &q2, "note")
	require.Error(t, err, "partial unique index allows one active question per derived metric")
}

func TestSQLiteUpdateQuestionPositionMissing(t *testing.T) {
	st := newSQLiteStore(t)

	err := st.UpdateQuestionPosition(context.Background(), "nope", nil, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "question not found")
}

func TestSQLiteSeedAndFetchWeights(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SeedMetricWeights(ctx, []model.MetricWeight{
		{Metric: "Revenue", Weight: decimal.RequireFromString("1")},
		{Metric: "EBITDA", Weight: decimal.RequireFromString("0.9")},
	}))

	weights, err := st.FetchMetricWeights(ctx)
	require.NoError(t, err)
	require.Len(t, weights, 2)
	assert.True(t, weights["Revenue"].Equal(decimal.RequireFromString("1")))

	// Reseeding updates in place.
	require.NoError(t, st.SeedMetricWeights(ctx, []model.MetricWeight{
		{Metric: "Revenue", Weight: decimal.RequireFromString("0.7")},
	}))
	weights, err = st.FetchMetricWeights(ctx)
	require.NoError(t, err)
	require.Len(t, weights, 2)
	assert.True(t, weights["Revenue"].Equal(decimal.RequireFromString("0.7")))
}

func TestSQLiteAddSourceRef(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.AddSourceRef(ctx, model.SourceRef{
		Fingerprint: "abc",
		SourceFile:  "audit.xlsx",
		SourcePage:  4,
	}))

	counts, err := st.TableCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["datapoint_sources"])
}
