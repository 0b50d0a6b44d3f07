// Package store provides persistence for datapoints, derived metrics and
// live questions, with Postgres and SQLite drivers.
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/sells-group/finreview-cli/internal/model"
)

// Store defines the persistence interface consumed by the review pipeline.
// All mutations within one method are atomic; the pipeline performs no
// cross-method transactions and no retries.
type Store interface {
	// Datapoints
	FindDatapointID(ctx context.Context, key model.NaturalKey) (string, error)
	InsertDatapoint(ctx context.Context, dp model.Datapoint) (*model.Datapoint, error)
	AddSourceRef(ctx context.Context, ref model.SourceRef) error
	FetchDatapoints(ctx context.Context, metrics []string) ([]model.Datapoint, error)

	// Derived metrics. Upsert is keyed on the derivation key so pipeline
	// reruns over unchanged data are no-ops.
	UpsertDerivedMetrics(ctx context.Context, dms []model.DerivedMetric) (int64, error)
	FetchDerivedMetrics(ctx context.Context) ([]model.DerivedMetric, error)

	// Weights
	FetchMetricWeights(ctx context.Context) (map[string]decimal.Decimal, error)
	SeedMetricWeights(ctx context.Context, weights []model.MetricWeight) error

	// Questions. CreateQuestion inserts the question and its
	// question_created log entry in one transaction; UpdateQuestionPosition
	// does the same for rank changes.
	ActiveQuestionExists(ctx context.Context, derivedMetricID string) (bool, error)
	CreateQuestion(ctx context.Context, q *model.LiveQuestion, note string) error
	FetchActiveQuestions(ctx context.Context) ([]model.LiveQuestion, error)
	UpdateQuestionPosition(ctx context.Context, questionID string, oldPos *int, newPos int) error

	// Status
	TableCounts(ctx context.Context) (map[string]int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
