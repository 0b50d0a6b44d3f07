package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CalculationType names the comparison a derived metric represents.
type CalculationType string

const (
	CalcGrowthVsPrior    CalculationType = "Growth vs Prior Period"
	CalcVarianceVsBudget CalculationType = "Variance vs Budget"
)

// CorroborationPending is the initial corroboration status of every
// derived metric; review workflows move it forward out of band.
const CorroborationPending = "pending"

// DerivedMetric is one computed comparison between two datapoints.
// Value is nil when the denominator was exactly zero: a percentage
// variance against zero is undefined, not infinite.
type DerivedMetric struct {
	ID                  string           `json:"id"`
	BaseMetric          string           `json:"base_metric"`
	CalculationType     CalculationType  `json:"calculation_type"`
	Frequency           Frequency        `json:"frequency"`
	CompanyID           int64            `json:"company_id"`
	PeriodID            int64            `json:"period_id"`
	Value               *decimal.Decimal `json:"value"`
	Unit                string           `json:"unit"`
	SourceIDs           []string         `json:"source_ids"`
	Note                string           `json:"note"`
	CorroborationStatus string           `json:"corroboration_status"`
	CreatedAt           time.Time        `json:"created_at"`
}
