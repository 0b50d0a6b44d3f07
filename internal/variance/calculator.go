// Package variance computes period-over-period and budget variance
// records from raw datapoints.
package variance

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/finreview-cli/internal/model"
)

var hundred = decimal.NewFromInt(100)

// Calculator derives comparison records from an ordered datapoint series.
// It is pure computation; persistence belongs to the caller.
type Calculator struct {
	log *zap.Logger
}

// NewCalculator creates a Calculator.
func NewCalculator() *Calculator {
	return &Calculator{log: zap.L().With(zap.String("component", "variance"))}
}

type groupKey struct {
	companyID int64
	metric    string
	frequency model.Frequency
}

// Derive computes all derived metrics for the given datapoints. Within
// each (company, metric, frequency) group ordered by period:
//   - every adjacent actual/actual pair yields a growth record tagged to
//     the later period;
//   - every same-period actual/budget pair yields a budget variance
//     record. Duplicate rows that survived dedup produce the full cross
//     product on purpose.
func (c *Calculator) Derive(dps []model.Datapoint) []model.DerivedMetric {
	groups := make(map[groupKey][]model.Datapoint)
	var order []groupKey
	for _, dp := range dps {
		k := groupKey{companyID: dp.CompanyID, metric: dp.Metric, frequency: dp.Frequency}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], dp)
	}

	var out []model.DerivedMetric
	for _, k := range order {
		entries := groups[k]
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].PeriodID < entries[j].PeriodID
		})

		out = append(out, c.growth(k, entries)...)
		out = append(out, c.budgetVariance(k, entries)...)
	}

	c.log.Debug("derivation complete",
		zap.Int("datapoints", len(dps)),
		zap.Int("derived", len(out)),
	)
	return out
}

// growth emits one record per adjacent pair in the actual-only series.
// Budget rows never participate in growth, they only shadow periods.
func (c *Calculator) growth(k groupKey, entries []model.Datapoint) []model.DerivedMetric {
	var actuals []model.Datapoint
	for _, e := range entries {
		if e.ValueType == model.ValueActual {
			actuals = append(actuals, e)
		}
	}

	var out []model.DerivedMetric
	for i := 1; i < len(actuals); i++ {
		out = append(out, derive(k, model.CalcGrowthVsPrior, actuals[i], actuals[i-1]))
	}
	return out
}

// budgetVariance emits one record per same-period actual/budget pair.
func (c *Calculator) budgetVariance(k groupKey, entries []model.Datapoint) []model.DerivedMetric {
	var out []model.DerivedMetric
	for _, actual := range entries {
		if actual.ValueType != model.ValueActual {
			continue
		}
		for _, budget := range entries {
			if budget.ValueType != model.ValueBudget || budget.PeriodID != actual.PeriodID {
				continue
			}
			out = append(out, derive(k, model.CalcVarianceVsBudget, actual, budget))
		}
	}
	return out
}

func derive(k groupKey, calcType model.CalculationType, current, previous model.Datapoint) model.DerivedMetric {
	return model.DerivedMetric{
		BaseMetric:          k.metric,
		CalculationType:     calcType,
		Frequency:           k.frequency,
		CompanyID:           k.companyID,
		PeriodID:            current.PeriodID,
		Value:               Percentage(current.Value, previous.Value),
		Unit:                "%",
		SourceIDs:           []string{current.ID, previous.ID},
		Note:                fmt.Sprintf("%s: (%s - %s) / %s", calcType, current.Value, previous.Value, previous.Value),
		CorroborationStatus: model.CorroborationPending,
	}
}

// Percentage returns (current - previous) / previous * 100, or nil when
// the denominator is exactly zero: the variance is undefined there, not
// infinite, and a nil value disables downstream scoring.
func Percentage(current, previous decimal.Decimal) *decimal.Decimal {
	if previous.IsZero() {
		return nil
	}
	pct := current.Sub(previous).Div(previous).Mul(hundred)
	return &pct
}
