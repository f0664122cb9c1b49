// Package main (cmd/httpserver) runs the stub exposure key server.
//
// The stub implements new-key-claim, claim-key, upload and retrieve in
// memory, with the same validation and error codes as the production
// server, so that the client library and load runs can be exercised without
// a deployed environment. Keys uploaded during the current UTC day are
// served by the retrieval endpoint for that day.
//
// Credentials come from --hmac-key and --bearer-token, then from QA_HMAC and
// QA_BEARER_TOKEN, then from Vault when --vault-addr is set.
//
// Example usage:
//
//	QA_HMAC=$(openssl rand -hex 32) QA_BEARER_TOKEN=local \
//	  keyserver-stub --listen-addr 127.0.0.1:8080 --region 302
//
// The server exposes /livez, /readyz, /drain and /undrain for orchestration
// and serves Prometheus metrics on --metrics-addr.
package main
