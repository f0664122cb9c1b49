package cryptoutils

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ruteri/exposure-keyserver-client/api"
	"github.com/ruteri/exposure-keyserver-client/interfaces"
	"golang.org/x/crypto/nacl/box"
)

// GenerateKeyPair creates an ephemeral Curve25519 key pair for one
// submission run. A nil reader selects crypto/rand.
func GenerateKeyPair(r io.Reader) (*interfaces.KeyPair, error) {
	if r == nil {
		r = rand.Reader
	}

	pub, priv, err := box.GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to generate key pair: %v", interfaces.ErrEncryption, err)
	}

	return &interfaces.KeyPair{
		Public:  interfaces.PublicKey(*pub),
		Private: interfaces.PrivateKey(*priv),
	}, nil
}

// SharedSecretContext holds the precomputed box key between an app key pair
// and a server public key. It seals exactly one payload.
type SharedSecretContext struct {
	mu        sync.Mutex
	shared    [32]byte
	serverPub interfaces.PublicKey
	appPub    interfaces.PublicKey
	rand      io.Reader
	sealed    bool
}

// NewSharedSecretContext derives the shared secret via Curve25519 and
// HSalsa20. Nonces are drawn from r, or crypto/rand when r is nil.
func NewSharedSecretContext(serverPublicKey []byte, kp *interfaces.KeyPair, r io.Reader) (*SharedSecretContext, error) {
	if kp == nil {
		return nil, fmt.Errorf("%w: missing app key pair", interfaces.ErrEncryption)
	}

	serverPub, err := interfaces.NewPublicKeyFromBytes(serverPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrEncryption, err)
	}

	if r == nil {
		r = rand.Reader
	}

	c := &SharedSecretContext{
		serverPub: serverPub,
		appPub:    kp.Public,
		rand:      r,
	}
	priv := [32]byte(kp.Private)
	box.Precompute(&c.shared, (*[32]byte)(&serverPub), &priv)
	return c, nil
}

// Seal encrypts plaintext under a fresh random nonce and returns the
// envelope. A second call fails with ErrEncryption.
func (c *SharedSecretContext) Seal(plaintext []byte) (*interfaces.UploadEnvelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sealed {
		return nil, fmt.Errorf("%w: shared secret context already used", interfaces.ErrEncryption)
	}

	var nonce [interfaces.NonceLength]byte
	if _, err := io.ReadFull(c.rand, nonce[:]); err != nil {
		return nil, fmt.Errorf("%w: failed to generate nonce: %v", interfaces.ErrEncryption, err)
	}
	c.sealed = true

	return &interfaces.UploadEnvelope{
		ServerPublicKey: c.serverPub,
		AppPublicKey:    c.appPub,
		Nonce:           nonce,
		Payload:         box.SealAfterPrecomputation(nil, plaintext, &nonce, &c.shared),
	}, nil
}

// Encryptor builds encrypted upload envelopes. The zero value uses crypto/rand.
type Encryptor struct {
	// Rand supplies nonces. Tests may inject a deterministic reader.
	Rand io.Reader
}

// EncryptAndBuild serializes keys stamped with now, and seals them for the
// server under a fresh shared secret context.
func (e *Encryptor) EncryptAndBuild(serverPublicKey []byte, kp *interfaces.KeyPair, keys []interfaces.TemporaryExposureKey, now time.Time) (*interfaces.UploadEnvelope, error) {
	ctx, err := NewSharedSecretContext(serverPublicKey, kp, e.Rand)
	if err != nil {
		return nil, err
	}

	plaintext, err := api.MarshalUpload(&interfaces.Upload{Timestamp: now, Keys: keys})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrEncryption, err)
	}

	return ctx.Seal(plaintext)
}

// OpenEnvelopeBytes authenticates and decrypts the payload of env with the
// server's private key.
func OpenEnvelopeBytes(env *interfaces.UploadEnvelope, serverPrivateKey interfaces.PrivateKey) ([]byte, error) {
	appPub := [32]byte(env.AppPublicKey)
	priv := [32]byte(serverPrivateKey)
	nonce := [interfaces.NonceLength]byte(env.Nonce)

	plaintext, ok := box.Open(nil, env.Payload, &nonce, &appPub, &priv)
	if !ok {
		return nil, fmt.Errorf("%w: decryption failed", interfaces.ErrEncryption)
	}
	return plaintext, nil
}

// OpenEnvelope decrypts env and parses the upload it carries.
func OpenEnvelope(env *interfaces.UploadEnvelope, serverPrivateKey interfaces.PrivateKey) (*interfaces.Upload, error) {
	plaintext, err := OpenEnvelopeBytes(env, serverPrivateKey)
	if err != nil {
		return nil, err
	}
	return api.UnmarshalUpload(plaintext)
}
