// Package http exposes the scheduler engine over HTTP.
//
// The router serves the following endpoints:
//   - GET /calendar?site_id=&assignee_id=&from=&to=&status=: projects the
//     calendar and returns the overdue, today, upcoming and completed buckets
//     plus the weekly and monthly groupings. from and to accept RFC 3339 or
//     YYYY-MM-DD; status may be repeated or comma separated.
//   - POST /tasks/{ref}/status: applies a status change to a task reference
//     (execution id or virtual slot). Body: {"status","comment","photos","reason"}.
//     The acting user is taken from the X-Actor-ID header supplied by the
//     upstream gateway.
//   - GET /healthz: storage liveness.
//   - GET /metrics: Prometheus exposition.
//
// Request/response DTOs live alongside their respective handlers so tests and
// documentation share the same ground truth.
package http
