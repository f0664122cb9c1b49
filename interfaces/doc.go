// Package interfaces defines the types, errors and interfaces shared by the
// key server clients, the stub server and the load tooling, separating
// definitions from implementations.
//
// # Domain Types
//
//   - TemporaryExposureKey: a synthetic daily key with its rolling start
//     interval, rolling period and transmission risk level
//   - PublicKey, PrivateKey, KeyPair: Curve25519 keys for NaCl box
//   - Nonce: a 24-byte XSalsa20-Poly1305 nonce
//   - UploadEnvelope: the encrypted form of an Upload
//   - ClaimToken: a one-time code redeemable for a server key
//   - RetrievalSignature: the period, hour and HMAC of a retrieval request
//
// IntervalNumber, DateNumber and HourNumber derive the 10 minute interval,
// the retrieval period and the signing hour from a time. All three floor
// towards negative infinity.
//
// # Errors
//
// Every failure surfaced by the clients wraps one of the sentinel errors
// declared in errors.go. Failures derived from an HTTP response are wrapped
// in *RequestError, which carries the status code. ErrorKind maps an error
// to a short label for logs and metrics.
//
// # Storage Interfaces
//
// StorageBackend provides content-addressed storage for archived batches
// and envelopes. StorageBackendLocation parses the file:// and s3://
// location URIs backends are created from.
package interfaces
