/*
Package clients implements the HTTP clients of the exposure key server.

# Client Types

  - KeyClaimClient - claims a server public key with a one-time code
  - UploadClient - posts encrypted upload envelopes
  - RetrievalClient - fetches signed key batches, optionally archiving them

# Claim State

A KeyClaimClient belongs to one submission run and moves through three
states:

	Unclaimed --RequestClaimToken--> TokenIssued --ClaimKey--> Claimed

Calls out of order fail with interfaces.ErrProtocolState. A token can be
redeemed once: presenting it again after a successful claim fails with
interfaces.ErrTokenAlreadyUsed without contacting the server. A failed call
leaves the state unchanged and is never retried.

# Errors

Every error returned by the clients is classified with one of the sentinel
errors of the interfaces package and can be tested with errors.Is. Errors
derived from an HTTP response are wrapped in *interfaces.RequestError,
which carries the status code.

# Example Usage

	claim := clients.NewKeyClaimClient(serverURL, httpClient, logger)
	token, err := claim.RequestClaimToken(ctx, bearer)
	if err != nil {
	    return err
	}
	serverKey, err := claim.ClaimKey(ctx, token, appKeys.Public.Bytes())
	if err != nil {
	    return err
	}

	env, err := encryptor.EncryptAndBuild(serverKey.Bytes(), appKeys, keys, time.Now())
	if err != nil {
	    return err
	}
	err = clients.NewUploadClient(serverURL, httpClient, logger).Upload(ctx, env)

The http.Client passed to the constructors is safe to share between
clients and goroutines.
*/
package clients
