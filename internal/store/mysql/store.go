package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"circflow/internal/store"
)

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the MySQL-backed FactStore. Schema provisioning (tables,
// indexes, dimension seeding) is an external concern; Store assumes the
// warehouse schema already exists.
type Store struct {
	db     *sql.DB
	q      querier
	logger *slog.Logger
}

// Open connects to the warehouse with the given DSN and verifies the
// connection.
func Open(dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping warehouse: %w", err)
	}
	return &Store{
		db:     db,
		q:      db,
		logger: logger.With(slog.String("component", "store.mysql")),
	}, nil
}

// Ping verifies the warehouse connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Component returns the component dimension row for code.
func (s *Store) Component(ctx context.Context, code string) (store.Component, error) {
	var c store.Component
	err := s.q.QueryRowContext(ctx,
		`SELECT component_code, component_name FROM dim_component WHERE component_code = ?`,
		code,
	).Scan(&c.Code, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Component{}, fmt.Errorf("component %q: %w", code, store.ErrNotFound)
	}
	if err != nil {
		return store.Component{}, fmt.Errorf("query component %q: %w", code, err)
	}
	return c, nil
}

// Components returns all component dimension rows in canonical order.
func (s *Store) Components(ctx context.Context) ([]store.Component, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT component_code, component_name FROM dim_component
		 ORDER BY FIELD(component_code, 'S', 'T', 'M', 'I', 'G', 'X')`)
	if err != nil {
		return nil, fmt.Errorf("query components: %w", err)
	}
	defer rows.Close()

	var out []store.Component
	for rows.Next() {
		var c store.Component
		if err := rows.Scan(&c.Code, &c.Name); err != nil {
			return nil, fmt.Errorf("scan component: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PeriodByDate returns the time-dimension entry for the given date and
// granularity.
func (s *Store) PeriodByDate(ctx context.Context, date time.Time, g store.Granularity) (store.TimePeriod, error) {
	var (
		p       store.TimePeriod
		dateStr string
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT date_value, year, quarter, granularity FROM dim_time
		 WHERE date_value = ? AND granularity = ?`,
		store.NormalizeDate(date).Format(store.DateKeyFormat), string(g),
	).Scan(&dateStr, &p.Year, &p.Quarter, &p.Granularity)
	if errors.Is(err, sql.ErrNoRows) {
		return store.TimePeriod{}, fmt.Errorf("period %s (%s): %w",
			store.NormalizeDate(date).Format(store.DateKeyFormat), g, store.ErrNotFound)
	}
	if err != nil {
		return store.TimePeriod{}, fmt.Errorf("query period: %w", err)
	}
	p.Date, err = time.Parse(store.DateKeyFormat, dateStr)
	if err != nil {
		return store.TimePeriod{}, fmt.Errorf("parse period date %q: %w", dateStr, err)
	}
	return p, nil
}

// Source returns the data-source dimension row for code.
func (s *Store) Source(ctx context.Context, code string) (store.DataSource, error) {
	var src store.DataSource
	err := s.q.QueryRowContext(ctx,
		`SELECT source_code, provider, description, category, frequency, is_preferred
		 FROM dim_data_source WHERE source_code = ?`,
		code,
	).Scan(&src.Code, &src.Provider, &src.Description, &src.Category, &src.Frequency, &src.IsPreferred)
	if errors.Is(err, sql.ErrNoRows) {
		return store.DataSource{}, fmt.Errorf("source %q: %w", code, store.ErrNotFound)
	}
	if err != nil {
		return store.DataSource{}, fmt.Errorf("query source %q: %w", code, err)
	}
	return src, nil
}

// EnsureSource returns the source for src.Code, creating it when absent.
func (s *Store) EnsureSource(ctx context.Context, src store.DataSource) (store.DataSource, error) {
	existing, err := s.Source(ctx, src.Code)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.DataSource{}, err
	}

	_, err = s.q.ExecContext(ctx,
		`INSERT INTO dim_data_source (source_code, provider, description, category, frequency, is_preferred)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE source_code = source_code`,
		src.Code, src.Provider, src.Description, string(src.Category), string(src.Frequency), src.IsPreferred)
	if err != nil {
		return store.DataSource{}, fmt.Errorf("insert source %q: %w", src.Code, err)
	}
	return s.Source(ctx, src.Code)
}

// GovernmentLevels returns the government-level classification dimension.
func (s *Store) GovernmentLevels(ctx context.Context) ([]store.GovernmentLevel, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT level_name, COALESCE(level_code, '') FROM dim_government_level ORDER BY level_name`)
	if err != nil {
		return nil, fmt.Errorf("query government levels: %w", err)
	}
	defer rows.Close()

	var out []store.GovernmentLevel
	for rows.Next() {
		var l store.GovernmentLevel
		if err := rows.Scan(&l.Name, &l.Code); err != nil {
			return nil, fmt.Errorf("scan government level: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// SetGovernmentLevelCode upserts the canonical code for the named level
// and reports whether the row changed.
func (s *Store) SetGovernmentLevelCode(ctx context.Context, name, code string) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO dim_government_level (level_name, level_code) VALUES (?, ?)
		 ON DUPLICATE KEY UPDATE level_code = VALUES(level_code)`,
		name, code)
	if err != nil {
		return false, fmt.Errorf("upsert government level %q: %w", name, err)
	}
	// MySQL reports 1 for insert, 2 for update, 0 when unchanged.
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Facts returns fact records matching the filter, ordered by
// (period date, component, source, series).
func (s *Store) Facts(ctx context.Context, filter store.FactFilter) ([]store.FactRecord, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		conds = append(conds, cond)
		args = append(args, arg)
	}
	if filter.ComponentCode != "" {
		add("component_code = ?", filter.ComponentCode)
	}
	if filter.SourceCode != "" {
		add("source_code = ?", filter.SourceCode)
	}
	if filter.SeriesID != "" {
		add("series_id = ?", filter.SeriesID)
	}
	if filter.Frequency != "" {
		add("frequency = ?", string(filter.Frequency))
	}
	if filter.IsPrimary != nil {
		add("is_primary = ?", *filter.IsPrimary)
	}
	if filter.IsMonthlyAggregate != nil {
		add("is_monthly_aggregate = ?", *filter.IsMonthlyAggregate)
	}
	if filter.Quality != "" {
		add("data_quality_flag = ?", string(filter.Quality))
	}
	if !filter.From.IsZero() {
		add("period_date >= ?", filter.From.Format(store.DateKeyFormat))
	}
	if !filter.To.IsZero() {
		add("period_date < ?", filter.To.Format(store.DateKeyFormat))
	}

	query := `SELECT period_date, component_code, source_code, measurement_id, series_id,
		value, frequency, is_primary, data_quality_flag, is_quarter_end,
		is_monthly_aggregate, is_total, aggregation_method, updated_at
		FROM fact_circular_flow`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY period_date, component_code, source_code, series_id"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	var out []store.FactRecord
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func scanFact(rows *sql.Rows) (store.FactRecord, error) {
	var (
		f        store.FactRecord
		dateStr  string
		valueStr string
	)
	err := rows.Scan(&dateStr, &f.ComponentCode, &f.SourceCode, &f.MeasurementID, &f.SeriesID,
		&valueStr, &f.Frequency, &f.IsPrimary, &f.Quality, &f.IsQuarterEnd,
		&f.IsMonthlyAggregate, &f.IsTotal, &f.Method, &f.UpdatedAt)
	if err != nil {
		return store.FactRecord{}, fmt.Errorf("scan fact: %w", err)
	}
	f.PeriodDate, err = time.Parse(store.DateKeyFormat, dateStr)
	if err != nil {
		return store.FactRecord{}, fmt.Errorf("parse fact date %q: %w", dateStr, err)
	}
	f.Value, err = decimal.NewFromString(valueStr)
	if err != nil {
		return store.FactRecord{}, fmt.Errorf("parse fact value %q: %w", valueStr, err)
	}
	return f, nil
}

// UpsertFact writes the record under its natural key using the
// warehouse's unique (period, component, source, measurement, series)
// index for atomic conflict resolution.
func (s *Store) UpsertFact(ctx context.Context, fact store.FactRecord) (store.UpsertOutcome, error) {
	fact.PeriodDate = store.NormalizeDate(fact.PeriodDate)
	if fact.Quality == store.QualityCalculated && fact.IsPrimary {
		return "", fmt.Errorf("calculated fact %s flagged primary: %w", fact.SeriesID, store.ErrInvariant)
	}
	if fact.Frequency == store.GranularityQuarterly && !fact.IsMonthlyAggregate && !store.IsQuarterEnd(fact.PeriodDate) {
		return "", fmt.Errorf("quarterly fact %s dated %s is not quarter-end: %w",
			fact.SeriesID, fact.PeriodDate.Format(store.DateKeyFormat), store.ErrInvariant)
	}

	res, err := s.q.ExecContext(ctx,
		`INSERT INTO fact_circular_flow
			(period_date, component_code, source_code, measurement_id, series_id,
			 value, frequency, is_primary, data_quality_flag, is_quarter_end,
			 is_monthly_aggregate, is_total, aggregation_method, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON DUPLICATE KEY UPDATE
			value              = IF(is_primary AND NOT VALUES(is_primary), value, VALUES(value)),
			data_quality_flag  = IF(is_primary AND NOT VALUES(is_primary), data_quality_flag, VALUES(data_quality_flag)),
			aggregation_method = IF(is_primary AND NOT VALUES(is_primary), aggregation_method, VALUES(aggregation_method)),
			is_primary         = IF(is_primary AND NOT VALUES(is_primary), is_primary, VALUES(is_primary)),
			updated_at         = IF(is_primary AND NOT VALUES(is_primary), updated_at, CURRENT_TIMESTAMP)`,
		fact.PeriodDate.Format(store.DateKeyFormat), fact.ComponentCode, fact.SourceCode,
		fact.MeasurementID, fact.SeriesID, fact.Value.String(), string(fact.Frequency),
		fact.IsPrimary, string(fact.Quality), fact.IsQuarterEnd,
		fact.IsMonthlyAggregate, fact.IsTotal, string(fact.Method))
	if err != nil {
		return "", fmt.Errorf("upsert fact %s/%s/%s: %w", fact.ComponentCode, fact.SeriesID,
			fact.PeriodDate.Format(store.DateKeyFormat), err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("rows affected: %w", err)
	}
	switch affected {
	case 1:
		return store.UpsertCreated, nil
	case 2:
		return store.UpsertUpdated, nil
	default:
		// Either byte-identical or guarded by the primary-preference rule;
		// both leave the row untouched.
		if !fact.IsPrimary {
			existing, err := s.Facts(ctx, store.FactFilter{
				ComponentCode: fact.ComponentCode,
				SourceCode:    fact.SourceCode,
				SeriesID:      fact.SeriesID,
				From:          fact.PeriodDate,
				To:            fact.PeriodDate.AddDate(0, 0, 1),
			})
			if err == nil && len(existing) > 0 && existing[0].IsPrimary {
				return store.UpsertSkipped, nil
			}
		}
		return store.UpsertUnchanged, nil
	}
}

// InTx runs fn against a transaction-scoped view of the store. The
// transaction is one stage invocation: it fully commits or rolls back.
func (s *Store) InTx(ctx context.Context, fn func(store.FactStore) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin stage transaction: %w", err)
	}
	// Rollback after Commit is a no-op. The deferred call covers a
	// panic inside fn, so the connection is released instead of
	// holding an open transaction.
	defer func() { _ = tx.Rollback() }()

	txStore := &Store{db: s.db, q: tx, logger: s.logger}
	if err := fn(txStore); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit stage transaction: %w", err)
	}
	return nil
}
