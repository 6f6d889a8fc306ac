// Package api defines the wire types of the CrewFlow HTTP API.
//
// # API Overview
//
// The server exposes:
//   - Pending human-input interrupts and resume/cancel of suspended instances
//   - Read and delete access to persisted flow state
//   - A read-only WebSocket stream of bus events
//   - Kickoff and status of declarative crews
//   - Health, readiness, version and Prometheus metrics
//
// # Authentication
//
// When auth is enabled, /v1 endpoints require an HS256 bearer token:
//
//	Authorization: Bearer <jwt>
//
// WebSocket clients may pass the token as ?access_token= on /v1/events.
//
// Every response body is wrapped as {success, data, error, timestamp}.
package api
