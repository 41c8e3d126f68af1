// Package mysql implements store.FactStore on the MySQL warehouse used
// in production.
//
// The DSN must enable parseTime (e.g. "user:pw@tcp(host:3306)/circflow?parseTime=true")
// so timestamp columns scan into time.Time. Each reconciliation stage
// runs inside one InTx call, so a stage's upserts commit as a unit and a
// failed stage leaves no partially-applied state behind.
//
// Schema provisioning is external: the package expects dim_component,
// dim_time, dim_data_source, dim_government_level and fact_circular_flow
// with a unique index on the fact natural key
// (period_date, component_code, source_code, measurement_id, series_id).
package mysql
