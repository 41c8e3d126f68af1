package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// Granularity is the observation frequency of a time period or fact.
type Granularity string

const (
	GranularityMonthly   Granularity = "Monthly"
	GranularityQuarterly Granularity = "Quarterly"
)

// QualityFlag describes the provenance quality of a fact value.
type QualityFlag string

const (
	QualityFinal        QualityFlag = "FINAL"
	QualityRevised      QualityFlag = "REVISED"
	QualityPreliminary  QualityFlag = "PRELIMINARY"
	QualityInterpolated QualityFlag = "INTERPOLATED"
	QualityCalculated   QualityFlag = "CALCULATED"
	QualityAggregated   QualityFlag = "AGGREGATED"
)

// AggregationMethod records how a derived fact was produced.
type AggregationMethod string

const (
	AggregationNone     AggregationMethod = "NONE"
	AggregationAverage  AggregationMethod = "AVERAGE"
	AggregationSum      AggregationMethod = "SUM"
	AggregationIdentity AggregationMethod = "IDENTITY"
)

// SourceCategory distinguishes observed agency feeds from synthetic sources.
type SourceCategory string

const (
	SourceObserved SourceCategory = "Observed"
	SourceDerived  SourceCategory = "Derived"
)

// Circular-flow component codes. Immutable reference data: the six
// quantities of the identity S + T + M = I + G + X.
const (
	ComponentSavings    = "S"
	ComponentTaxation   = "T"
	ComponentImports    = "M"
	ComponentInvestment = "I"
	ComponentGovernment = "G"
	ComponentExports    = "X"
)

// ComponentCodes lists all six identity components in canonical order.
var ComponentCodes = []string{
	ComponentSavings,
	ComponentTaxation,
	ComponentImports,
	ComponentInvestment,
	ComponentGovernment,
	ComponentExports,
}

// DateKeyFormat is the canonical date key layout used for natural keys.
const DateKeyFormat = "2006-01-02"

// TimePeriod is a calendar period in the time dimension. A Quarterly
// period's Date is always the last day of its quarter.
type TimePeriod struct {
	Date        time.Time   `json:"date"`
	Year        int         `json:"year"`
	Quarter     int         `json:"quarter"`
	Granularity Granularity `json:"granularity"`
}

// IsQuarterEnd reports whether the period's date is the last calendar
// day of its quarter.
func (p TimePeriod) IsQuarterEnd() bool {
	return IsQuarterEnd(p.Date)
}

// Component is one of the six circular-flow quantities.
type Component struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// DataSource is an originating agency feed or a synthetic source such as
// the identity solver.
type DataSource struct {
	Code        string         `json:"code"`
	Provider    string         `json:"provider"`
	Description string         `json:"description"`
	Category    SourceCategory `json:"category"`
	Frequency   Granularity    `json:"frequency"`
	IsPreferred bool           `json:"is_preferred"`
}

// Measurement is the unit of value for a fact: currency, scale, price
// basis and seasonal adjustment.
type Measurement struct {
	ID         string `json:"id"`
	Unit       string `json:"unit"`
	PriceBasis string `json:"price_basis"`
	Adjustment string `json:"adjustment"`
}

// GovernmentLevel is one row of the government-level classification
// dimension. Name is the agency-specific label; Code is the canonical
// short code assigned by the classification normalizer.
type GovernmentLevel struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// FactKey is the composite natural key of a fact record. Re-processing
// the same logical observation must update, not duplicate, the record
// holding this key.
type FactKey struct {
	DateKey       string `json:"date"`
	ComponentCode string `json:"component"`
	SourceCode    string `json:"source"`
	MeasurementID string `json:"measurement"`
	SeriesID      string `json:"series_id"`
}

// FactRecord is a single numeric observation in the fact store.
type FactRecord struct {
	PeriodDate         time.Time         `json:"period_date"`
	ComponentCode      string            `json:"component_code"`
	SourceCode         string            `json:"source_code"`
	MeasurementID      string            `json:"measurement_id"`
	SeriesID           string            `json:"series_id"`
	Value              decimal.Decimal   `json:"value"`
	Frequency          Granularity       `json:"frequency"`
	IsPrimary          bool              `json:"is_primary"`
	Quality            QualityFlag       `json:"data_quality_flag"`
	IsQuarterEnd       bool              `json:"is_quarter_end"`
	IsMonthlyAggregate bool              `json:"is_monthly_aggregate"`
	IsTotal            bool              `json:"is_total"`
	Method             AggregationMethod `json:"aggregation_method"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// Key returns the composite natural key for the record.
func (f FactRecord) Key() FactKey {
	return FactKey{
		DateKey:       f.PeriodDate.Format(DateKeyFormat),
		ComponentCode: f.ComponentCode,
		SourceCode:    f.SourceCode,
		MeasurementID: f.MeasurementID,
		SeriesID:      f.SeriesID,
	}
}

// IsQuarterEnd reports whether date is the last calendar day of its quarter.
func IsQuarterEnd(date time.Time) bool {
	return date.Equal(QuarterEnd(date))
}

// QuarterEnd returns the last calendar day of the quarter containing date.
func QuarterEnd(date time.Time) time.Time {
	q := (int(date.Month()) - 1) / 3
	firstOfNext := time.Date(date.Year(), time.Month(q*3+4), 1, 0, 0, 0, 0, time.UTC)
	return firstOfNext.AddDate(0, 0, -1)
}

// QuarterOf returns the quarter number (1-4) containing date.
func QuarterOf(date time.Time) int {
	return (int(date.Month())-1)/3 + 1
}

// NormalizeDate strips any time-of-day and timezone so dates compare and
// key consistently across sources.
func NormalizeDate(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
}
