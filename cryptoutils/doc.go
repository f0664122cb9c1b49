// Package cryptoutils implements the two cryptographic operations of the key
// server protocol.
//
// # Retrieval Signatures
//
// Retrieval requests are authenticated with HMAC-SHA256 under a shared key:
//
//	message   = "{region}:{period}:{hour}"
//	period    = floor(timestamp / 86400)
//	hour      = floor(timestamp / 3600)
//	signature = lowercase hex of HMAC-SHA256(key, message)
//
// RetrievalSigner.Sign produces the signature for a timestamp. Verify accepts
// the current hour and both neighbouring hours, as the server does.
//
// # Upload Encryption
//
// Uploads are sealed with NaCl box (Curve25519, XSalsa20, Poly1305) between
// an app key pair generated per submission run and the server public key
// obtained from claim-key:
//
//	kp, _ := cryptoutils.GenerateKeyPair(nil)
//	env, err := (&cryptoutils.Encryptor{}).EncryptAndBuild(serverKey, kp, keys, time.Now())
//
// The payload is the ciphertext followed by the 16-byte authenticator; the
// 24-byte random nonce travels beside it in the envelope. A
// SharedSecretContext seals exactly once, so a nonce is never reused under
// the same shared key.
//
// OpenEnvelope performs the server side of the exchange and is used by the
// stub key server.
package cryptoutils
