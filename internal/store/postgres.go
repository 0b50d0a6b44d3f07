package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/finreview-cli/internal/db"
	"github.com/sells-group/finreview-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot dedup and ranking paths.
var preparedStatements = map[string]string{
	"find_datapoint_id": `SELECT id FROM financial_datapoints
		 WHERE company_id = $1 AND period_id = $2 AND metric = $3 AND value_type = $4 AND frequency = $5`,
	"insert_source_ref": `INSERT INTO datapoint_sources (fingerprint, source_file, source_page, recorded_at) VALUES ($1, $2, $3, $4)`,
	"active_question_exists": `SELECT EXISTS (
		 SELECT 1 FROM live_questions WHERE derived_metric_id = $1 AND status = 'active')`,
	"update_question_position": `UPDATE live_questions SET rank_position = $1, last_updated = $2 WHERE id = $3`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS financial_datapoints (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	company_id       BIGINT NOT NULL,
	period_id        BIGINT NOT NULL,
	metric           TEXT NOT NULL,
	value_type       TEXT NOT NULL,
	frequency        TEXT NOT NULL,
	value            NUMERIC NOT NULL,
	currency         TEXT NOT NULL DEFAULT '',
	source_file      TEXT NOT NULL DEFAULT '',
	source_page      INTEGER NOT NULL DEFAULT 0,
	cell_reference   TEXT NOT NULL DEFAULT '',
	source_type      TEXT NOT NULL DEFAULT '',
	calculation_note TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_datapoints_natural_key
	ON financial_datapoints(company_id, period_id, metric, value_type, frequency);

CREATE TABLE IF NOT EXISTS datapoint_sources (
	id          BIGSERIAL PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	source_file TEXT NOT NULL,
	source_page INTEGER NOT NULL DEFAULT 0,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_datapoint_sources_fingerprint ON datapoint_sources(fingerprint);

CREATE TABLE IF NOT EXISTS derived_metrics (
	id                   TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	base_metric          TEXT NOT NULL,
	calculation_type     TEXT NOT NULL,
	frequency            TEXT NOT NULL,
	company_id           BIGINT NOT NULL,
	period_id            BIGINT NOT NULL,
	value                NUMERIC,
	unit                 TEXT NOT NULL DEFAULT '%',
	source_ids           TEXT[] NOT NULL,
	note                 TEXT NOT NULL DEFAULT '',
	corroboration_status TEXT NOT NULL DEFAULT 'pending',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_derived_metrics_derivation_key
	ON derived_metrics(base_metric, calculation_type, frequency, company_id, period_id, source_ids);

CREATE TABLE IF NOT EXISTS metric_weights (
	metric TEXT PRIMARY KEY,
	weight NUMERIC NOT NULL
);

CREATE TABLE IF NOT EXISTS live_questions (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	derived_metric_id TEXT NOT NULL REFERENCES derived_metrics(id),
	text              TEXT NOT NULL,
	weight            NUMERIC NOT NULL,
	scorecard         JSONB NOT NULL,
	rank_score        NUMERIC,
	rank_position     INTEGER,
	status            TEXT NOT NULL DEFAULT 'active',
	last_updated      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_live_questions_one_active
	ON live_questions(derived_metric_id) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_live_questions_status ON live_questions(status);

CREATE TABLE IF NOT EXISTS question_logs (
	id               BIGSERIAL PRIMARY KEY,
	live_question_id TEXT NOT NULL REFERENCES live_questions(id),
	change_type      TEXT NOT NULL,
	changed_by       TEXT NOT NULL DEFAULT 'system',
	old_value        TEXT,
	new_value        TEXT,
	note             TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_question_logs_question ON question_logs(live_question_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) FindDatapointID(ctx context.Context, key model.NaturalKey) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM financial_datapoints
		 WHERE company_id = $1 AND period_id = $2 AND metric = $3 AND value_type = $4 AND frequency = $5`,
		key.CompanyID, key.PeriodID, key.Metric, string(key.ValueType), string(key.Frequency),
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", eris.Wrap(err, "postgres: find datapoint")
	}
	return id, nil
}

func (s *PostgresStore) InsertDatapoint(ctx context.Context, dp model.Datapoint) (*model.Datapoint, error) {
	dp.ID = uuid.New().String()
	dp.CreatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO financial_datapoints (
			id, company_id, period_id, metric, value_type, frequency,
			value, currency, source_file, source_page, cell_reference,
			source_type, calculation_note, created_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		dp.ID, dp.CompanyID, dp.PeriodID, dp.Metric, string(dp.ValueType), string(dp.Frequency),
		dp.Value.String(), dp.Currency, dp.SourceFile, dp.SourcePage, dp.CellReference,
		dp.SourceType, dp.CalculationNote, dp.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert datapoint %s", dp.Key())
	}
	return &dp, nil
}

func (s *PostgresStore) AddSourceRef(ctx context.Context, ref model.SourceRef) error {
	if ref.RecordedAt.IsZero() {
		ref.RecordedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO datapoint_sources (fingerprint, source_file, source_page, recorded_at) VALUES ($1, $2, $3, $4)`,
		ref.Fingerprint, ref.SourceFile, ref.SourcePage, ref.RecordedAt,
	)
	return eris.Wrap(err, "postgres: add source ref")
}

func (s *PostgresStore) FetchDatapoints(ctx context.Context, metrics []string) ([]model.Datapoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, company_id, period_id, metric, value_type, frequency,
		        value, currency, source_file, source_page, cell_reference,
		        source_type, calculation_note, created_at
		 FROM financial_datapoints
		 WHERE metric = ANY($1)
		 ORDER BY company_id, metric, frequency, period_id`,
		metrics,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: fetch datapoints")
	}
	defer rows.Close()

	var dps []model.Datapoint
	for rows.Next() {
		var dp model.Datapoint
		var valueType, frequency, value string
		if err := rows.Scan(&dp.ID, &dp.CompanyID, &dp.PeriodID, &dp.Metric, &valueType, &frequency,
			&value, &dp.Currency, &dp.SourceFile, &dp.SourcePage, &dp.CellReference,
			&dp.SourceType, &dp.CalculationNote, &dp.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan datapoint")
		}
		dp.ValueType = model.ValueType(valueType)
		dp.Frequency = model.Frequency(frequency)
		dp.Value, err = decimal.NewFromString(value)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: parse datapoint value %q", value)
		}
		dps = append(dps, dp)
	}
	return dps, eris.Wrap(rows.Err(), "postgres: fetch datapoints iterate")
}

func (s *PostgresStore) UpsertDerivedMetrics(ctx context.Context, dms []model.DerivedMetric) (int64, error) {
	if len(dms) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	upsertRows := make([][]any, 0, len(dms))
	for _, dm := range dms {
		id := dm.ID
		if id == "" {
			id = uuid.New().String()
		}
		var value any
		if dm.Value != nil {
			value = dm.Value.String()
		}
		upsertRows = append(upsertRows, []any{
			id, dm.BaseMetric, string(dm.CalculationType), string(dm.Frequency),
			dm.CompanyID, dm.PeriodID, value, dm.Unit, dm.SourceIDs, dm.Note,
			dm.CorroborationStatus, now,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "derived_metrics",
		Columns: []string{
			"id", "base_metric", "calculation_type", "frequency",
			"company_id", "period_id", "value", "unit", "source_ids", "note",
			"corroboration_status", "created_at",
		},
		ConflictKeys: []string{"base_metric", "calculation_type", "frequency", "company_id", "period_id", "source_ids"},
		// Existing ids stay put so live questions keep their reference;
		// corroboration status is owned by the review workflow.
		UpdateCols: []string{"value", "unit", "note"},
	}, upsertRows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert derived metrics")
	}
	return n, nil
}

func (s *PostgresStore) FetchDerivedMetrics(ctx context.Context) ([]model.DerivedMetric, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, base_metric, calculation_type, frequency, company_id, period_id,
		        value, unit, source_ids, note, corroboration_status, created_at
		 FROM derived_metrics
		 ORDER BY company_id, base_metric, period_id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: fetch derived metrics")
	}
	defer rows.Close()

	var dms []model.DerivedMetric
	for rows.Next() {
		var dm model.DerivedMetric
		var calcType, frequency string
		var value *string
		if err := rows.Scan(&dm.ID, &dm.BaseMetric, &calcType, &frequency, &dm.CompanyID, &dm.PeriodID,
			&value, &dm.Unit, &dm.SourceIDs, &dm.Note, &dm.CorroborationStatus, &dm.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan derived metric")
		}
		dm.CalculationType = model.CalculationType(calcType)
		dm.Frequency = model.Frequency(frequency)
		if value != nil {
			d, err := decimal.NewFromString(*value)
			if err != nil {
				return nil, eris.Wrapf(err, "postgres: parse derived value %q", *value)
			}
			dm.Value = &d
		}
		dms = append(dms, dm)
	}
	return dms, eris.Wrap(rows.Err(), "postgres: fetch derived metrics iterate")
}

func (s *PostgresStore) FetchMetricWeights(ctx context.Context) (map[string]decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx, `SELECT metric, weight FROM metric_weights`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: fetch metric weights")
	}
	defer rows.Close()

	weights := make(map[string]decimal.Decimal)
	for rows.Next() {
		var metric, weight string
		if err := rows.Scan(&metric, &weight); err != nil {
			return nil, eris.Wrap(err, "postgres: scan metric weight")
		}
		w, err := decimal.NewFromString(weight)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: parse weight %q", weight)
		}
		weights[metric] = w
	}
	return weights, eris.Wrap(rows.Err(), "postgres: fetch metric weights iterate")
}

func (s *PostgresStore) SeedMetricWeights(ctx context.Context, weights []model.MetricWeight) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: seed weights begin")
	}
	defer tx.Rollback(ctx)

	for _, mw := range weights {
		if _, err := tx.Exec(ctx,
			`INSERT INTO metric_weights (metric, weight) VALUES ($1, $2)
			 ON CONFLICT (metric) DO UPDATE SET weight = $2`,
			mw.Metric, mw.Weight.String(),
		); err != nil {
			return eris.Wrapf(err, "postgres: seed weight %s", mw.Metric)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: seed weights commit")
}

func (s *PostgresStore) ActiveQuestionExists(ctx context.Context, derivedMetricID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		 SELECT 1 FROM live_questions WHERE derived_metric_id = $1 AND status = 'active')`,
		derivedMetricID,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrap(err, "postgres: active question exists")
	}
	return exists, nil
}

func (s *PostgresStore) CreateQuestion(ctx context.Context, q *model.LiveQuestion, note string) error {
	q.ID = uuid.New().String()
	q.Status = model.QuestionActive
	q.LastUpdated = time.Now().UTC()

	scorecardJSON, err := json.Marshal(q.Scorecard)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal scorecard")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: create question begin")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO live_questions (
			id, derived_metric_id, text, weight, scorecard,
			rank_score, rank_position, status, last_updated
		 ) VALUES ($1, $2, $3, $4, $5, $6, NULL, $7, $8)`,
		q.ID, q.DerivedMetricID, q.Text, q.Weight.String(), scorecardJSON,
		q.RankScore.String(), string(q.Status), q.LastUpdated,
	); err != nil {
		return eris.Wrapf(err, "postgres: insert question for %s", q.DerivedMetricID)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO question_logs (live_question_id, change_type, changed_by, old_value, new_value, note)
		 VALUES ($1, $2, 'system', NULL, $3, $4)`,
		q.ID, model.ChangeQuestionCreated, string(scorecardJSON), note,
	); err != nil {
		return eris.Wrap(err, "postgres: log question creation")
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: create question commit")
}

func (s *PostgresStore) FetchActiveQuestions(ctx context.Context) ([]model.LiveQuestion, error) {
	// derived_metric_id breaks score ties so re-ranking is deterministic.
	rows, err := s.pool.Query(ctx,
		`SELECT id, derived_metric_id, text, weight, scorecard,
		        rank_score, rank_position, status, last_updated
		 FROM live_questions
		 WHERE status = 'active'
		 ORDER BY rank_score DESC NULLS LAST, derived_metric_id ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: fetch active questions")
	}
	defer rows.Close()

	var questions []model.LiveQuestion
	for rows.Next() {
		var q model.LiveQuestion
		var weight, rankScore, status string
		var scorecardJSON []byte
		if err := rows.Scan(&q.ID, &q.DerivedMetricID, &q.Text, &weight, &scorecardJSON,
			&rankScore, &q.RankPosition, &status, &q.LastUpdated); err != nil {
			return nil, eris.Wrap(err, "postgres: scan question")
		}
		q.Status = model.QuestionStatus(status)
		if q.Weight, err = decimal.NewFromString(weight); err != nil {
			return nil, eris.Wrapf(err, "postgres: parse question weight %q", weight)
		}
		if q.RankScore, err = decimal.NewFromString(rankScore); err != nil {
			return nil, eris.Wrapf(err, "postgres: parse rank score %q", rankScore)
		}
		if err := json.Unmarshal(scorecardJSON, &q.Scorecard); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal scorecard")
		}
		questions = append(questions, q)
	}
	return questions, eris.Wrap(rows.Err(), "postgres: fetch active questions iterate")
}

func (s *PostgresStore) UpdateQuestionPosition(ctx context.Context, questionID string, oldPos *int, newPos int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: update position begin")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE live_questions SET rank_position = $1, last_updated = $2 WHERE id = $3`,
		newPos, time.Now().UTC(), questionID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update position %s", questionID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("question not found: %s", questionID)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO question_logs (live_question_id, change_type, changed_by, old_value, new_value, note)
		 VALUES ($1, $2, 'system', $3, $4, $5)`,
		questionID, model.ChangeRankUpdated, formatPos(oldPos), formatPosInt(newPos), rankNote(oldPos, newPos),
	); err != nil {
		return eris.Wrap(err, "postgres: log rank update")
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: update position commit")
}

func (s *PostgresStore) TableCounts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(countedTables))
	for _, table := range countedTables {
		var n int64
		if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, eris.Wrapf(err, "postgres: count %s", table)
		}
		counts[table] = n
	}
	return counts, nil
}
