// Package http exposes the reconciliation engine over a REST surface:
// pass lifecycle under /api/operations, quality reports under
// /api/reports, and liveness/readiness probes.
//
// Handlers are thin. They bind and validate requests with go-chi/render,
// delegate to the operations manager or the read-only equilibrium
// scorer, and map internal errors through the errors package so clients
// see stable machine-readable codes.
package http
