// Package loadtest drives the key server with synthetic traffic.
//
// A Submitter performs one complete submission run per call: it creates a
// fresh Curve25519 key pair, claims a server key with a one-time code
// obtained through the bearer token, generates synthetic temporary exposure
// keys, encrypts them and uploads the envelope. Runs never share claim
// state and a failed run is not retried.
//
// A Runner executes many submission runs on a bounded worker pool and
// aggregates their outcomes by error class:
//
//	submitter := loadtest.NewSubmitter(loadtest.SubmitterConfig{
//	    ServerURL:   "https://submission.example.com",
//	    BearerToken: creds.BearerToken,
//	    Log:         logger,
//	})
//	summary := loadtest.NewRunner(submitter, 8).Run(ctx, 100)
//
// A RetrievalSweep fetches the batch of the current day signed for the
// current hour and both neighbouring hours.
package loadtest
