package clients

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/ruteri/exposure-keyserver-client/api"
	"github.com/ruteri/exposure-keyserver-client/interfaces"
)

// ClaimState is the position of a KeyClaimClient in the claim protocol.
type ClaimState int

const (
	// StateUnclaimed is the initial state.
	StateUnclaimed ClaimState = iota
	// StateTokenIssued is reached once the server handed out a one-time code.
	StateTokenIssued
	// StateClaimed is reached once the code was exchanged for a server public key.
	StateClaimed
)

func (s ClaimState) String() string {
	switch s {
	case StateUnclaimed:
		return "unclaimed"
	case StateTokenIssued:
		return "token-issued"
	case StateClaimed:
		return "claimed"
	default:
		return fmt.Sprintf("ClaimState(%d)", int(s))
	}
}

// KeyClaimClient drives the claim protocol for a single submission run:
// Unclaimed -> TokenIssued -> Claimed. Calls made out of order fail with
// ErrProtocolState and failed calls leave the state unchanged. A client is
// not reused across runs.
//
// The lock is not held during network calls, so State and ServerPublicKey
// answer while a request is in flight. A second request started meanwhile
// fails with ErrProtocolState.
type KeyClaimClient struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger

	mu        sync.Mutex
	inFlight  bool
	state     ClaimState
	token     interfaces.ClaimToken
	serverKey interfaces.PublicKey
}

// NewKeyClaimClient creates a claim client for the key server at baseURL.
// A nil httpClient selects a client with DefaultTimeout.
func NewKeyClaimClient(baseURL string, httpClient *http.Client, log *slog.Logger) *KeyClaimClient {
	if httpClient == nil {
		httpClient = NewHTTPClient(0)
	}
	if log == nil {
		log = slog.Default()
	}
	return &KeyClaimClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		log:        log,
	}
}

// State returns the current protocol state.
func (c *KeyClaimClient) State() ClaimState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ServerPublicKey returns the key obtained by a successful ClaimKey.
func (c *KeyClaimClient) ServerPublicKey() (interfaces.PublicKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverKey, c.state == StateClaimed
}

// RequestClaimToken asks the server for a one-time code, authenticating
// with the bearer credential.
func (c *KeyClaimClient) RequestClaimToken(ctx context.Context, bearer string) (interfaces.ClaimToken, error) {
	if err := c.checkRequest(); err != nil {
		return "", err
	}
	defer c.finish()

	header := http.Header{}
	header.Set(api.AuthorizationHeader, "Bearer "+bearer)

	resp, err := do(ctx, c.httpClient, http.MethodPost, joinURL(c.baseURL, api.NewKeyClaimPath), nil, header)
	if err != nil {
		return "", err
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", statusError(resp, interfaces.ErrAuthentication)
	default:
		return "", statusError(resp, interfaces.ErrTransport)
	}

	token := interfaces.ClaimToken(strings.TrimSpace(string(resp.Body)))
	if token == "" {
		return "", &interfaces.RequestError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w: empty claim token", interfaces.ErrDecode),
		}
	}

	c.mu.Lock()
	c.token = token
	c.state = StateTokenIssued
	c.mu.Unlock()
	c.log.Debug("claim token issued")
	return token, nil
}

// ClaimKey exchanges the one-time code and the app public key for the
// server's public key. Presenting a token that was already consumed fails
// with ErrTokenAlreadyUsed without contacting the server.
func (c *KeyClaimClient) ClaimKey(ctx context.Context, token interfaces.ClaimToken, appPublicKey []byte) (interfaces.PublicKey, error) {
	if err := c.checkClaim(token, appPublicKey); err != nil {
		return interfaces.PublicKey{}, err
	}
	defer c.finish()

	body := (&api.KeyClaimRequest{OneTimeCode: string(token), AppPublicKey: appPublicKey}).Marshal()

	header := http.Header{}
	header.Set("Content-Type", api.ProtobufContentType)

	resp, err := do(ctx, c.httpClient, http.MethodPost, joinURL(c.baseURL, api.ClaimKeyPath), body, header)
	if err != nil {
		return interfaces.PublicKey{}, err
	}

	serverKey, err := claimResult(resp)
	if err != nil {
		return interfaces.PublicKey{}, err
	}

	c.mu.Lock()
	c.serverKey = serverKey
	c.state = StateClaimed
	c.mu.Unlock()
	c.log.Debug("server key claimed", "serverKey", serverKey.String())
	return serverKey, nil
}

func (c *KeyClaimClient) checkRequest() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.begin(); err != nil {
		return err
	}
	if c.state != StateUnclaimed {
		c.end()
		return fmt.Errorf("%w: claim token requested in state %s", interfaces.ErrProtocolState, c.state)
	}
	return nil
}

// checkClaim validates a claim against the current state and marks a request
// in flight when it may proceed.
func (c *KeyClaimClient) checkClaim(token interfaces.ClaimToken, appPublicKey []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.begin(); err != nil {
		return err
	}

	var err error
	switch {
	case c.state == StateClaimed && token == c.token:
		err = fmt.Errorf("%w: token was consumed by a previous claim", interfaces.ErrTokenAlreadyUsed)
	case c.state != StateTokenIssued:
		err = fmt.Errorf("%w: key claimed in state %s", interfaces.ErrProtocolState, c.state)
	case token != c.token:
		err = fmt.Errorf("%w: token was not issued to this client", interfaces.ErrProtocolState)
	case len(appPublicKey) != interfaces.KeyLength:
		err = fmt.Errorf("%w: app public key must be %d bytes, got %d", interfaces.ErrInvalidKey, interfaces.KeyLength, len(appPublicKey))
	}
	if err != nil {
		c.end()
	}
	return err
}

// begin and end must be called with mu held.
func (c *KeyClaimClient) begin() error {
	if c.inFlight {
		return fmt.Errorf("%w: another request is in flight", interfaces.ErrProtocolState)
	}
	c.inFlight = true
	return nil
}

func (c *KeyClaimClient) end() {
	c.inFlight = false
}

func (c *KeyClaimClient) finish() {
	c.mu.Lock()
	c.end()
	c.mu.Unlock()
}

// claimResult maps a claim-key response onto the server key or an error.
func claimResult(resp *response) (interfaces.PublicKey, error) {
	if resp.StatusCode >= http.StatusInternalServerError {
		return interfaces.PublicKey{}, statusError(resp, interfaces.ErrTransport)
	}

	kcr, err := api.UnmarshalKeyClaimResponse(resp.Body)
	if err != nil {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return interfaces.PublicKey{}, statusError(resp, interfaces.ErrAuthentication)
		}
		return interfaces.PublicKey{}, &interfaces.RequestError{StatusCode: resp.StatusCode, Err: err}
	}

	var kind error
	switch kcr.Error {
	case api.KeyClaimNone:
		if resp.StatusCode != http.StatusOK {
			return interfaces.PublicKey{}, statusError(resp, interfaces.ErrTransport)
		}
		key, err := interfaces.NewPublicKeyFromBytes(kcr.ServerPublicKey)
		if err != nil {
			return interfaces.PublicKey{}, &interfaces.RequestError{
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("%w: server %v", interfaces.ErrDecode, err),
			}
		}
		return key, nil
	case api.KeyClaimInvalidOneTimeCode:
		kind = interfaces.ErrTokenAlreadyUsed
	case api.KeyClaimInvalidKey:
		kind = interfaces.ErrInvalidKey
	case api.KeyClaimTemporaryBan:
		kind = interfaces.ErrAuthentication
	default:
		kind = interfaces.ErrTransport
	}

	return interfaces.PublicKey{}, &interfaces.RequestError{
		StatusCode: resp.StatusCode,
		Err: fmt.Errorf("%w: server answered %s (tries remaining %d, ban %s)",
			kind, kcr.Error, kcr.TriesRemaining, kcr.RemainingBanDuration),
	}
}
