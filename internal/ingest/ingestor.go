package ingest

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/finreview-cli/internal/model"
	"github.com/sells-group/finreview-cli/internal/store"
)

// Result summarizes one ingestion pass.
type Result struct {
	Inserted     int `json:"inserted"`
	Corroborated int `json:"corroborated"`
}

// Ingestor resolves incoming datapoints against the store: a row whose
// natural key is already present is recorded as a corroborating source,
// everything else becomes a new canonical row. Values are never
// reconciled; disagreeing sources simply accumulate on the same key.
type Ingestor struct {
	store store.Store
	log   *zap.Logger
}

// New creates an Ingestor backed by the given store.
func New(st store.Store) *Ingestor {
	return &Ingestor{
		store: st,
		log:   zap.L().With(zap.String("component", "ingest")),
	}
}

// IngestRows runs each row through the dedup path in order. A malformed
// row fails the whole pass; duplicate keys are the corroboration path and
// always succeed.
func (i *Ingestor) IngestRows(ctx context.Context, rows []model.Datapoint) (Result, error) {
	var res Result
	for idx, row := range rows {
		if err := validateRow(row); err != nil {
			return res, eris.Wrapf(err, "ingest: row %d", idx)
		}

		fp := Fingerprint(row.Key())

		existingID, err := i.store.FindDatapointID(ctx, row.Key())
		if err != nil {
			return res, eris.Wrapf(err, "ingest: resolve row %d", idx)
		}

		if existingID != "" {
			if err := i.store.AddSourceRef(ctx, model.SourceRef{
				Fingerprint: fp,
				SourceFile:  row.SourceFile,
				SourcePage:  row.SourcePage,
			}); err != nil {
				return res, eris.Wrapf(err, "ingest: corroborate row %d", idx)
			}
			i.log.Debug("corroborated datapoint",
				zap.String("fingerprint", fp),
				zap.String("source_file", row.SourceFile),
			)
			res.Corroborated++
			continue
		}

		if _, err := i.store.InsertDatapoint(ctx, row); err != nil {
			return res, eris.Wrapf(err, "ingest: insert row %d", idx)
		}
		i.log.Debug("inserted datapoint",
			zap.String("fingerprint", fp),
			zap.String("metric", row.Metric),
			zap.Int64("company_id", row.CompanyID),
			zap.Int64("period_id", row.PeriodID),
		)
		res.Inserted++
	}
	return res, nil
}

// validateRow rejects rows that cannot be keyed or valued. Malformed rows
// are hard failures, never partial inserts.
func validateRow(row model.Datapoint) error {
	if row.CompanyID <= 0 {
		return eris.New("missing company_id")
	}
	if row.PeriodID <= 0 {
		return eris.New("missing period_id")
	}
	if row.Metric == "" {
		return eris.New("missing metric")
	}
	switch row.ValueType {
	case model.ValueActual, model.ValueBudget:
	default:
		return eris.Errorf("invalid value_type %q", row.ValueType)
	}
	switch row.Frequency {
	case model.FrequencyMonthly, model.FrequencyQuarterly, model.FrequencyAnnual:
	default:
		return eris.Errorf("invalid frequency %q", row.Frequency)
	}
	return nil
}
