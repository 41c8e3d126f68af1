package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory FactStore. It is the fixture store for
// engine tests and doubles as a scratch store for dry-run passes; the
// MySQL store is the production implementation.
type MemoryStore struct {
	mu         sync.RWMutex
	components map[string]Component
	periods    map[string]TimePeriod // keyed by dateKey|granularity
	sources    map[string]DataSource
	levels     map[string]GovernmentLevel // keyed by level name
	facts      map[FactKey]FactRecord
}

// NewMemoryStore creates an empty in-memory store pre-seeded with the six
// circular-flow components.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		components: make(map[string]Component),
		periods:    make(map[string]TimePeriod),
		sources:    make(map[string]DataSource),
		levels:     make(map[string]GovernmentLevel),
		facts:      make(map[FactKey]FactRecord),
	}
	names := map[string]string{
		ComponentSavings:    "Savings",
		ComponentTaxation:   "Taxation",
		ComponentImports:    "Imports",
		ComponentInvestment: "Investment",
		ComponentGovernment: "Government Spending",
		ComponentExports:    "Exports",
	}
	for _, code := range ComponentCodes {
		s.components[code] = Component{Code: code, Name: names[code]}
	}
	return s
}

func periodKey(date time.Time, g Granularity) string {
	return NormalizeDate(date).Format(DateKeyFormat) + "|" + string(g)
}

// AddPeriod registers a time-dimension entry.
func (s *MemoryStore) AddPeriod(p TimePeriod) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Date = NormalizeDate(p.Date)
	s.periods[periodKey(p.Date, p.Granularity)] = p
}

// AddQuarterlyPeriods registers quarter-end periods for every quarter in
// [fromYear, toYear], a convenience for fixtures and provisioning checks.
func (s *MemoryStore) AddQuarterlyPeriods(fromYear, toYear int) {
	for year := fromYear; year <= toYear; year++ {
		for q := 1; q <= 4; q++ {
			end := QuarterEnd(time.Date(year, time.Month(q*3), 1, 0, 0, 0, 0, time.UTC))
			s.AddPeriod(TimePeriod{Date: end, Year: year, Quarter: q, Granularity: GranularityQuarterly})
		}
	}
}

// AddGovernmentLevel registers a classification dimension row.
func (s *MemoryStore) AddGovernmentLevel(l GovernmentLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels[l.Name] = l
}

// Component returns the component dimension row for code.
func (s *MemoryStore) Component(_ context.Context, code string) (Component, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.components[code]
	if !ok {
		return Component{}, fmt.Errorf("component %q: %w", code, ErrNotFound)
	}
	return c, nil
}

// Components returns all component rows in canonical order.
func (s *MemoryStore) Components(_ context.Context) ([]Component, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Component, 0, len(ComponentCodes))
	for _, code := range ComponentCodes {
		if c, ok := s.components[code]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// PeriodByDate returns the time-dimension entry for date and granularity.
func (s *MemoryStore) PeriodByDate(_ context.Context, date time.Time, g Granularity) (TimePeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.periods[periodKey(date, g)]
	if !ok {
		return TimePeriod{}, fmt.Errorf("period %s (%s): %w", NormalizeDate(date).Format(DateKeyFormat), g, ErrNotFound)
	}
	return p, nil
}

// Source returns the data-source row for code.
func (s *MemoryStore) Source(_ context.Context, code string) (DataSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[code]
	if !ok {
		return DataSource{}, fmt.Errorf("source %q: %w", code, ErrNotFound)
	}
	return src, nil
}

// EnsureSource returns the source for src.Code, creating it when absent.
func (s *MemoryStore) EnsureSource(_ context.Context, src DataSource) (DataSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sources[src.Code]; ok {
		return existing, nil
	}
	s.sources[src.Code] = src
	return src, nil
}

// GovernmentLevels returns the classification dimension sorted by name.
func (s *MemoryStore) GovernmentLevels(_ context.Context) ([]GovernmentLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]GovernmentLevel, 0, len(s.levels))
	for _, l := range s.levels {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SetGovernmentLevelCode upserts the canonical code for the named level.
func (s *MemoryStore) SetGovernmentLevelCode(_ context.Context, name, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.levels[name]
	if ok && existing.Code == code {
		return false, nil
	}
	s.levels[name] = GovernmentLevel{Name: name, Code: code}
	return true, nil
}

// Facts returns fact records matching the filter, ordered by
// (period date, component, source, series).
func (s *MemoryStore) Facts(_ context.Context, filter FactFilter) ([]FactRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []FactRecord
	for _, f := range s.facts {
		if matches(f, filter) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.PeriodDate.Equal(b.PeriodDate) {
			return a.PeriodDate.Before(b.PeriodDate)
		}
		if a.ComponentCode != b.ComponentCode {
			return a.ComponentCode < b.ComponentCode
		}
		if a.SourceCode != b.SourceCode {
			return a.SourceCode < b.SourceCode
		}
		return a.SeriesID < b.SeriesID
	})
	return out, nil
}

func matches(f FactRecord, filter FactFilter) bool {
	if filter.ComponentCode != "" && f.ComponentCode != filter.ComponentCode {
		return false
	}
	if filter.SourceCode != "" && f.SourceCode != filter.SourceCode {
		return false
	}
	if filter.SeriesID != "" && f.SeriesID != filter.SeriesID {
		return false
	}
	if filter.Frequency != "" && f.Frequency != filter.Frequency {
		return false
	}
	if filter.IsPrimary != nil && f.IsPrimary != *filter.IsPrimary {
		return false
	}
	if filter.IsMonthlyAggregate != nil && f.IsMonthlyAggregate != *filter.IsMonthlyAggregate {
		return false
	}
	if filter.Quality != "" && f.Quality != filter.Quality {
		return false
	}
	if !filter.From.IsZero() && f.PeriodDate.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && !f.PeriodDate.Before(filter.To) {
		return false
	}
	return true
}

// UpsertFact writes the record under its natural key.
func (s *MemoryStore) UpsertFact(_ context.Context, fact FactRecord) (UpsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(fact)
}

func (s *MemoryStore) upsertLocked(fact FactRecord) (UpsertOutcome, error) {
	fact.PeriodDate = NormalizeDate(fact.PeriodDate)
	if err := validateFact(fact); err != nil {
		return "", err
	}

	key := fact.Key()
	existing, ok := s.facts[key]
	if !ok {
		fact.UpdatedAt = time.Now().UTC()
		s.facts[key] = fact
		return UpsertCreated, nil
	}

	// A primary observation is strictly preferred over any derived revision
	// of the same key.
	if existing.IsPrimary && !fact.IsPrimary {
		return UpsertSkipped, nil
	}
	if existing.Value.Equal(fact.Value) && existing.Quality == fact.Quality && existing.IsPrimary == fact.IsPrimary {
		return UpsertUnchanged, nil
	}

	existing.Value = fact.Value
	existing.Quality = fact.Quality
	existing.IsPrimary = fact.IsPrimary
	existing.Method = fact.Method
	existing.UpdatedAt = time.Now().UTC()
	s.facts[key] = existing
	return UpsertUpdated, nil
}

func validateFact(fact FactRecord) error {
	if fact.Quality == QualityCalculated && fact.IsPrimary {
		return fmt.Errorf("calculated fact %s flagged primary: %w", fact.SeriesID, ErrInvariant)
	}
	if fact.Frequency == GranularityQuarterly && !fact.IsMonthlyAggregate && !IsQuarterEnd(fact.PeriodDate) {
		return fmt.Errorf("quarterly fact %s dated %s is not quarter-end: %w",
			fact.SeriesID, fact.PeriodDate.Format(DateKeyFormat), ErrInvariant)
	}
	return nil
}

// InTx runs fn against a copy of the store and swaps the copy in when fn
// succeeds, so a failed stage leaves no partial writes behind.
func (s *MemoryStore) InTx(_ context.Context, fn func(FactStore) error) error {
	s.mu.RLock()
	scratch := s.clone()
	s.mu.RUnlock()

	if err := fn(scratch); err != nil {
		return err
	}

	s.mu.Lock()
	s.components = scratch.components
	s.periods = scratch.periods
	s.sources = scratch.sources
	s.levels = scratch.levels
	s.facts = scratch.facts
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) clone() *MemoryStore {
	c := &MemoryStore{
		components: make(map[string]Component, len(s.components)),
		periods:    make(map[string]TimePeriod, len(s.periods)),
		sources:    make(map[string]DataSource, len(s.sources)),
		levels:     make(map[string]GovernmentLevel, len(s.levels)),
		facts:      make(map[FactKey]FactRecord, len(s.facts)),
	}
	for k, v := range s.components {
		c.components[k] = v
	}
	for k, v := range s.periods {
		c.periods[k] = v
	}
	for k, v := range s.sources {
		c.sources[k] = v
	}
	for k, v := range s.levels {
		c.levels[k] = v
	}
	for k, v := range s.facts {
		c.facts[k] = v
	}
	return c
}

// FactCount returns the number of fact records held, a test convenience.
func (s *MemoryStore) FactCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.facts)
}
