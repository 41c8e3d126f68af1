package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by FactStore implementations.
var (
	// ErrNotFound indicates a dimension lookup (period, component, source,
	// measurement) matched nothing.
	ErrNotFound = errors.New("store: not found")

	// ErrInvariant indicates a write violated a fact-store invariant, such
	// as a CALCULATED record flagged primary.
	ErrInvariant = errors.New("store: invariant violation")
)

// UpsertOutcome describes what an upsert did with the offered record.
type UpsertOutcome string

const (
	// UpsertCreated means no record existed for the natural key.
	UpsertCreated UpsertOutcome = "created"
	// UpsertUpdated means an existing record's value or quality was revised.
	UpsertUpdated UpsertOutcome = "updated"
	// UpsertUnchanged means the existing record already held the offered state.
	UpsertUnchanged UpsertOutcome = "unchanged"
	// UpsertSkipped means the existing record is strictly preferred over the
	// offered one (a primary observation is never overwritten by a derived
	// estimate).
	UpsertSkipped UpsertOutcome = "skipped"
)

// FactFilter narrows a fact query. Zero-valued fields are ignored.
type FactFilter struct {
	ComponentCode      string
	SourceCode         string
	SeriesID           string
	Frequency          Granularity
	IsPrimary          *bool
	IsMonthlyAggregate *bool
	Quality            QualityFlag
	From               time.Time // inclusive
	To                 time.Time // exclusive
}

// FactStore is the query and mutation surface shared by all
// reconciliation stages. Implementations must make UpsertFact atomic on
// the natural key so concurrent writers of the same key serialize.
type FactStore interface {
	// Component returns the component dimension row for code.
	Component(ctx context.Context, code string) (Component, error)

	// Components returns all component dimension rows in canonical order.
	Components(ctx context.Context) ([]Component, error)

	// PeriodByDate returns the time-dimension entry for the given date and
	// granularity, or ErrNotFound when the dimension lacks the entry.
	PeriodByDate(ctx context.Context, date time.Time, g Granularity) (TimePeriod, error)

	// Source returns the data-source dimension row for code.
	Source(ctx context.Context, code string) (DataSource, error)

	// EnsureSource returns the source for src.Code, creating it when absent.
	EnsureSource(ctx context.Context, src DataSource) (DataSource, error)

	// GovernmentLevels returns the government-level classification dimension.
	GovernmentLevels(ctx context.Context) ([]GovernmentLevel, error)

	// SetGovernmentLevelCode upserts the canonical code for the named level
	// and reports whether the row changed.
	SetGovernmentLevelCode(ctx context.Context, name, code string) (bool, error)

	// Facts returns fact records matching the filter, ordered by
	// (period date, component, source, series).
	Facts(ctx context.Context, filter FactFilter) ([]FactRecord, error)

	// UpsertFact writes the record under its natural key. Stale records are
	// revised in place; nothing is ever physically deleted.
	UpsertFact(ctx context.Context, fact FactRecord) (UpsertOutcome, error)

	// InTx runs fn against a transactional view of the store. All writes
	// performed by fn commit together or not at all.
	InTx(ctx context.Context, fn func(FactStore) error) error
}
