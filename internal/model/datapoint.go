// Package model defines the domain types shared across the review pipeline.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ValueType distinguishes observed actuals from budgeted figures.
type ValueType string

const (
	ValueActual ValueType = "actual"
	ValueBudget ValueType = "budget"
)

// Frequency is the reporting cadence of a datapoint.
type Frequency string

const (
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyAnnual    Frequency = "annual"
)

// Core P&L metrics tracked by default. The metric column itself is free
// text so new metrics can be whitelisted through configuration.
const (
	MetricRevenue     = "Revenue"
	MetricGrossProfit = "Gross Profit"
	MetricEBITDA      = "EBITDA"
)

// DefaultMetrics returns the standard metric whitelist.
func DefaultMetrics() []string {
	return []string{MetricRevenue, MetricGrossProfit, MetricEBITDA}
}

// NaturalKey identifies one observed fact. Two observations with the same
// key describe the same figure regardless of which document they came from.
type NaturalKey struct {
	CompanyID int64     `json:"company_id"`
	PeriodID  int64     `json:"period_id"`
	Metric    string    `json:"metric"`
	ValueType ValueType `json:"value_type"`
	Frequency Frequency `json:"frequency"`
}

// String renders the key in the canonical form used for fingerprinting.
func (k NaturalKey) String() string {
	return fmt.Sprintf("%d-%d-%s-%s-%s", k.CompanyID, k.PeriodID, k.Metric, k.ValueType, k.Frequency)
}

// Datapoint is one raw observed financial value. Rows are immutable after
// insert; repeat observations of the same key append a SourceRef instead.
type Datapoint struct {
	ID              string          `json:"id"`
	CompanyID       int64           `json:"company_id"`
	PeriodID        int64           `json:"period_id"`
	Metric          string          `json:"metric"`
	ValueType       ValueType       `json:"value_type"`
	Frequency       Frequency       `json:"frequency"`
	Value           decimal.Decimal `json:"value"`
	Currency        string          `json:"currency"`
	SourceFile      string          `json:"source_file"`
	SourcePage      int             `json:"source_page"`
	CellReference   string          `json:"cell_reference,omitempty"`
	SourceType      string          `json:"source_type,omitempty"`
	CalculationNote string          `json:"calculation_note,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Key returns the natural dedup key for the datapoint.
func (d Datapoint) Key() NaturalKey {
	return NaturalKey{
		CompanyID: d.CompanyID,
		PeriodID:  d.PeriodID,
		Metric:    d.Metric,
		ValueType: d.ValueType,
		Frequency: d.Frequency,
	}
}

// SourceRef records one corroborating observation of an already-known
// datapoint. The canonical value is never touched by corroboration.
type SourceRef struct {
	ID          int64     `json:"id,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	SourceFile  string    `json:"source_file"`
	SourcePage  int       `json:"source_page"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// MetricWeight is the per-metric multiplier used to turn a variance
// magnitude into a priority score.
type MetricWeight struct {
	Metric string          `json:"metric" yaml:"metric"`
	Weight decimal.Decimal `json:"weight" yaml:"weight"`
}
