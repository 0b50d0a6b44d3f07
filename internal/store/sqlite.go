package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/sells-group/finreview-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Decimal values
// are persisted as canonical strings and cast for ordering.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS financial_datapoints (
	id               TEXT PRIMARY KEY,
	company_id       INTEGER NOT NULL,
	period_id        INTEGER NOT NULL,
	metric           TEXT NOT NULL,
	value_type       TEXT NOT NULL,
	frequency        TEXT NOT NULL,
	value            TEXT NOT NULL,
	currency         TEXT NOT NULL DEFAULT '',
	source_file      TEXT NOT NULL DEFAULT '',
	source_page      INTEGER NOT NULL DEFAULT 0,
	cell_reference   TEXT NOT NULL DEFAULT '',
	source_type      TEXT NOT NULL DEFAULT '',
	calculation_note TEXT NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_datapoints_natural_key
	ON financial_datapoints(company_id, period_id, metric, value_type, frequency);

CREATE TABLE IF NOT EXISTS datapoint_sources (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	fingerprint TEXT NOT NULL,
	source_file TEXT NOT NULL,
	source_page INTEGER NOT NULL DEFAULT 0,
	recorded_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_datapoint_sources_fingerprint ON datapoint_sources(fingerprint);

CREATE TABLE IF NOT EXISTS derived_metrics (
	id                   TEXT PRIMARY KEY,
	base_metric          TEXT NOT NULL,
	calculation_type     TEXT NOT NULL,
	frequency            TEXT NOT NULL,
	company_id           INTEGER NOT NULL,
	period_id            INTEGER NOT NULL,
	value                TEXT,
	unit                 TEXT NOT NULL DEFAULT '%',
	source_ids           TEXT NOT NULL,
	note                 TEXT NOT NULL DEFAULT '',
	corroboration_status TEXT NOT NULL DEFAULT 'pending',
	created_at           DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_derived_metrics_derivation_key
	ON derived_metrics(base_metric, calculation_type, frequency, company_id, period_id, source_ids);

CREATE TABLE IF NOT EXISTS metric_weights (
	metric TEXT PRIMARY KEY,
	weight TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS live_questions (
	id                TEXT PRIMARY KEY,
	derived_metric_id TEXT NOT NULL REFERENCES derived_metrics(id),
	text              TEXT NOT NULL,
	weight            TEXT NOT NULL,
	scorecard         TEXT NOT NULL,
	rank_score        TEXT,
	rank_position     INTEGER,
	status            TEXT NOT NULL DEFAULT 'active',
	last_updated      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_live_questions_one_active
	ON live_questions(derived_metric_id) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_live_questions_status ON live_questions(status);

CREATE TABLE IF NOT EXISTS question_logs (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	live_question_id TEXT NOT NULL REFERENCES live_questions(id),
	change_type      TEXT NOT NULL,
	changed_by       TEXT NOT NULL DEFAULT 'system',
	old_value        TEXT,
	new_value        TEXT,
	note             TEXT,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_question_logs_question ON question_logs(live_question_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) FindDatapointID(ctx context.Context, key model.NaturalKey) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM financial_datapoints
		 WHERE company_id = ? AND period_id = ? AND metric = ? AND value_type = ? AND frequency = ?`,
		key.CompanyID, key.PeriodID, key.Metric, string(key.ValueType), string(key.Frequency),
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", eris.Wrap(err, "sqlite: find datapoint")
	}
	return id, nil
}

func (s *SQLiteStore) InsertDatapoint(ctx context.Context, dp model.Datapoint) (*model.Datapoint, error) {
	dp.ID = uuid.New().String()
	dp.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO financial_datapoints (
			id, company_id, period_id, metric, value_type, frequency,
			value, currency, source_file, source_page, cell_reference,
			source_type, calculation_note, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		dp.ID, dp.CompanyID, dp.PeriodID, dp.Metric, string(dp.ValueType), string(dp.Frequency),
		dp.Value.String(), dp.Currency, dp.SourceFile, dp.SourcePage, dp.CellReference,
		dp.SourceType, dp.CalculationNote, dp.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert datapoint %s", dp.Key())
	}
	return &dp, nil
}

func (s *SQLiteStore) AddSourceRef(ctx context.Context, ref model.SourceRef) error {
	if ref.RecordedAt.IsZero() {
		ref.RecordedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO datapoint_sources (fingerprint, source_file, source_page, recorded_at) VALUES (?, ?, ?, ?)`,
		ref.Fingerprint, ref.SourceFile, ref.SourcePage, ref.RecordedAt,
	)
	return eris.Wrap(err, "sqlite: add source ref")
}

func (s *SQLiteStore) FetchDatapoints(ctx context.Context, metrics []string) ([]model.Datapoint, error) {
	if len(metrics) == 0 {
		return nil, nil
	}
	query := `SELECT id, company_id, period_id, metric, value_type, frequency,
	                 value, currency, source_file, source_page, cell_reference,
	                 source_type, calculation_note, created_at
	          FROM financial_datapoints
	          WHERE metric IN (` + placeholders(len(metrics)) + `)
	          ORDER BY company_id, metric, frequency, period_id`

	args := make([]any, len(metrics))
	for i, m := range metrics {
		args[i] = m
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: fetch datapoints")
	}
	defer rows.Close()

	var dps []model.Datapoint
	for rows.Next() {
		var dp model.Datapoint
		var valueType, frequency, value string
		if err := rows.Scan(&dp.ID, &dp.CompanyID, &dp.PeriodID, &dp.Metric, &valueType, &frequency,
			&value, &dp.Currency, &dp.SourceFile, &dp.SourcePage, &dp.CellReference,
			&dp.SourceType, &dp.CalculationNote, &dp.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan datapoint")
		}
		dp.ValueType = model.ValueType(valueType)
		dp.Frequency = model.Frequency(frequency)
		if dp.Value, err = decimal.NewFromString(value); err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse datapoint value %q", value)
		}
		dps = append(dps, dp)
	}
	return dps, eris.Wrap(rows.Err(), "sqlite: fetch datapoints iterate")
}

func (s *SQLiteStore) UpsertDerivedMetrics(ctx context.Context, dms []model.DerivedMetric) (int64, error) {
	if len(dms) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert derived begin")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var total int64
	for _, dm := range dms {
		id := dm.ID
		if id == "" {
			id = uuid.New().String()
		}
		var value any
		if dm.Value != nil {
			value = dm.Value.String()
		}
		sourceIDs, err := json.Marshal(dm.SourceIDs)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal source ids")
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO derived_metrics (
				id, base_metric, calculation_type, frequency, company_id, period_id,
				value, unit, source_ids, note, corroboration_status, created_at
			 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (base_metric, calculation_type, frequency, company_id, period_id, source_ids)
			 DO UPDATE SET value = excluded.value, unit = excluded.unit, note = excluded.note`,
			id, dm.BaseMetric, string(dm.CalculationType), string(dm.Frequency),
			dm.CompanyID, dm.PeriodID, value, dm.Unit, string(sourceIDs), dm.Note,
			dm.CorroborationStatus, now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert derived metric %s/%s", dm.BaseMetric, dm.CalculationType)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	return total, eris.Wrap(tx.Commit(), "sqlite: upsert derived commit")
}

func (s *SQLiteStore) FetchDerivedMetrics(ctx context.Context) ([]model.DerivedMetric, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, base_metric, calculation_type, frequency, company_id, period_id,
		        value, unit, source_ids, note, corroboration_status, created_at
		 FROM derived_metrics
		 ORDER BY company_id, base_metric, period_id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: fetch derived metrics")
	}
	defer rows.Close()

	var dms []model.DerivedMetric
	for rows.Next() {
		var dm model.DerivedMetric
		var calcType, frequency, sourceIDs string
		var value *string
		if err := rows.Scan(&dm.ID, &dm.BaseMetric, &calcType, &frequency, &dm.CompanyID, &dm.PeriodID,
			&value, &dm.Unit, &sourceIDs, &dm.Note, &dm.CorroborationStatus, &dm.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan derived metric")
		}
		dm.CalculationType = model.CalculationType(calcType)
		dm.Frequency = model.Frequency(frequency)
		if value != nil {
			d, err := decimal.NewFromString(*value)
			if err != nil {
				return nil, eris.Wrapf(err, "sqlite: parse derived value %q", *value)
			}
			dm.Value = &d
		}
		if err := json.Unmarshal([]byte(sourceIDs), &dm.SourceIDs); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal source ids")
		}
		dms = append(dms, dm)
	}
	return dms, eris.Wrap(rows.Err(), "sqlite: fetch derived metrics iterate")
}

func (s *SQLiteStore) FetchMetricWeights(ctx context.Context) (map[string]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT metric, weight FROM metric_weights`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: fetch metric weights")
	}
	defer rows.Close()

	weights := make(map[string]decimal.Decimal)
	for rows.Next() {
		var metric, weight string
		if err := rows.Scan(&metric, &weight); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan metric weight")
		}
		w, err := decimal.NewFromString(weight)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse weight %q", weight)
		}
		weights[metric] = w
	}
	return weights, eris.Wrap(rows.Err(), "sqlite: fetch metric weights iterate")
}

func (s *SQLiteStore) SeedMetricWeights(ctx context.Context, weights []model.MetricWeight) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: seed weights begin")
	}
	defer tx.Rollback()

	for _, mw := range weights {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO metric_weights (metric, weight) VALUES (?, ?)
			 ON CONFLICT (metric) DO UPDATE SET weight = excluded.weight`,
			mw.Metric, mw.Weight.String(),
		); err != nil {
			return eris.Wrapf(err, "sqlite: seed weight %s", mw.Metric)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: seed weights commit")
}

func (s *SQLiteStore) ActiveQuestionExists(ctx context.Context, derivedMetricID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		 SELECT 1 FROM live_questions WHERE derived_metric_id = ? AND status = 'active')`,
		derivedMetricID,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: active question exists")
	}
	return exists, nil
}

func (s *SQLiteStore) CreateQuestion(ctx context.Context, q *model.LiveQuestion, note string) error {
	q.ID = uuid.New().String()
	q.Status = model.QuestionActive
	q.LastUpdated = time.Now().UTC()

	scorecardJSON, err := json.Marshal(q.Scorecard)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal scorecard")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: create question begin")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO live_questions (
			id, derived_metric_id, text, weight, scorecard,
			rank_score, rank_position, status, last_updated
		 ) VALUES (?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
		q.ID, q.DerivedMetricID, q.Text, q.Weight.String(), string(scorecardJSON),
		q.RankScore.String(), string(q.Status), q.LastUpdated,
	); err != nil {
		return eris.Wrapf(err, "sqlite: insert question for %s", q.DerivedMetricID)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO question_logs (live_question_id, change_type, changed_by, old_value, new_value, note)
		 VALUES (?, ?, 'system', NULL, ?, ?)`,
		q.ID, model.ChangeQuestionCreated, string(scorecardJSON), note,
	); err != nil {
		return eris.Wrap(err, "sqlite: log question creation")
	}

	return eris.Wrap(tx.Commit(), "sqlite: create question commit")
}

func (s *SQLiteStore) FetchActiveQuestions(ctx context.Context) ([]model.LiveQuestion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, derived_metric_id, text, weight, scorecard,
		        rank_score, rank_position, status, last_updated
		 FROM live_questions
		 WHERE status = 'active'
		 ORDER BY CAST(rank_score AS REAL) DESC NULLS LAST, derived_metric_id ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: fetch active questions")
	}
	defer rows.Close()

	var questions []model.LiveQuestion
	for rows.Next() {
		var q model.LiveQuestion
		var weight, rankScore, status, scorecardJSON string
		if err := rows.Scan(&q.ID, &q.DerivedMetricID, &q.Text, &weight, &scorecardJSON,
			&rankScore, &q.RankPosition, &status, &q.LastUpdated); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan question")
		}
		q.Status = model.QuestionStatus(status)
		if q.Weight, err = decimal.NewFromString(weight); err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse question weight %q", weight)
		}
		if q.RankScore, err = decimal.NewFromString(rankScore); err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse rank score %q", rankScore)
		}
		if err := json.Unmarshal([]byte(scorecardJSON), &q.Scorecard); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal scorecard")
		}
		questions = append(questions, q)
	}
	return questions, eris.Wrap(rows.Err(), "sqlite: fetch active questions iterate")
}

func (s *SQLiteStore) UpdateQuestionPosition(ctx context.Context, questionID string, oldPos *int, newPos int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: update position begin")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE live_questions SET rank_position = ?, last_updated = ? WHERE id = ?`,
		newPos, time.Now().UTC(), questionID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update position %s", questionID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("question not found: %s", questionID)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO question_logs (live_question_id, change_type, changed_by, old_value, new_value, note)
		 VALUES (?, ?, 'system', ?, ?, ?)`,
		questionID, model.ChangeRankUpdated, formatPos(oldPos), formatPosInt(newPos), rankNote(oldPos, newPos),
	); err != nil {
		return eris.Wrap(err, "sqlite: log rank update")
	}

	return eris.Wrap(tx.Commit(), "sqlite: update position commit")
}

func (s *SQLiteStore) TableCounts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(countedTables))
	for _, table := range countedTables {
		var n int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, eris.Wrapf(err, "sqlite: count %s", table)
		}
		counts[table] = n
	}
	return counts, nil
}

// placeholders returns n comma-separated SQL placeholders.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	out := "?"
	for i := 1; i < n; i++ {
		out += ", ?"
	}
	return out
}
