/*
Package httpserver implements an in-memory stub of the exposure key server.

The stub serves the four key server endpoints with the validation rules and
error codes of the production server so that the clients and load runs can
be tested end to end without a deployed environment.

# Endpoints

  - POST /new-key-claim - issues a 10-digit one-time code to a bearer of a
    configured token
  - POST /claim-key - exchanges a one-time code and app public key for a
    fresh server public key
  - POST /upload - opens an encrypted upload, validates its keys and stores
    them in the batch of the current UTC day
  - GET /retrieve/{region}/{period}/{auth} - serves a day's keys as a zip
    archive holding export.bin

# Single Use

One-time codes, app public keys and server keys are single use: a code is
consumed by the first successful claim, an app key can claim once, and a
server key accepts one successful upload.

# Health and Diagnostics

  - /livez, /readyz - liveness and readiness probes
  - /drain, /undrain - toggle readiness for orchestrated shutdown
  - /debug/pprof - profiling, when enabled
  - /metrics - Prometheus metrics on the separate metrics listener

All state lives in process memory and is lost on restart.
*/
package httpserver
