// Package main (cmd/client) is the command line client of the exposure key
// server.
//
// Commands:
//
//   - sign: print the retrieval signature {period, hour, signature} for a timestamp
//   - retrieve: fetch the batch of a day and print a summary of its keys
//   - submit: perform submission runs, optionally concurrently, followed by
//     an optional retrieval sweep
//
// Credentials are resolved from --hmac-key and --bearer-token, then from the
// QA_HMAC and QA_BEARER_TOKEN environment variables, then from Vault when
// --vault-addr is set. Retrieved batches and submitted envelopes are
// archived when one or more --storage locations are given.
//
// Example usage:
//
//	keyserver-client --server-url https://retrieval.example.com retrieve
//	keyserver-client --server-url https://submission.example.com \
//	  --storage file:///var/lib/qa/archive submit --runs 100 --concurrency 8
package main
