/*
Package api defines the wire contract of the exposure key server.

The key server is split into a submission side and a retrieval side:

1. Submission - a bearer of an operator token obtains a one-time code
(POST /new-key-claim), exchanges it together with an app public key for a
server public key (POST /claim-key), and uploads an encrypted batch of
temporary exposure keys (POST /upload).

2. Retrieval - anyone holding the shared HMAC key fetches the keys of one
day as a zip archive (GET /retrieve/{region}/{period}/{signature}).

# Messages

Request and response bodies are protocol buffers. The messages are few and
small, so they are encoded field by field with protowire rather than with
generated code; field numbers follow the server's schema:

  - KeyClaimRequest / KeyClaimResponse
  - EncryptedUploadRequest / EncryptedUploadResponse
  - Upload and TemporaryExposureKey, the plaintext sealed inside an upload
  - KeyExport, the export.bin entry of a retrieved batch

Unknown fields are skipped on decode. Every decode failure wraps
interfaces.ErrDecode.

# Error Codes

KeyClaimErrorCode and UploadErrorCode mirror the server enums. The clients
in api/clients map them onto the error classes of the interfaces package.

See api/clients for the client implementations.
*/
package api
