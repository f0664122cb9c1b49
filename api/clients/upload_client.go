package clients

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ruteri/exposure-keyserver-client/api"
	"github.com/ruteri/exposure-keyserver-client/interfaces"
)

// UploadRejectedError carries the error code of a refused upload.
type UploadRejectedError struct {
	Code api.UploadErrorCode
}

func (e *UploadRejectedError) Error() string {
	return fmt.Sprintf("%v: %s", interfaces.ErrUploadRejected, e.Code)
}

// Unwrap exposes ErrUploadRejected to errors.Is.
func (e *UploadRejectedError) Unwrap() error {
	return interfaces.ErrUploadRejected
}

// UploadClient posts encrypted envelopes to the key server. It holds no
// per-run state and is safe for concurrent use.
type UploadClient struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

// NewUploadClient creates an upload client for the key server at baseURL.
func NewUploadClient(baseURL string, httpClient *http.Client, log *slog.Logger) *UploadClient {
	if httpClient == nil {
		httpClient = NewHTTPClient(0)
	}
	if log == nil {
		log = slog.Default()
	}
	return &UploadClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		log:        log,
	}
}

// Upload sends env to the server. A response carrying an error code other
// than NONE yields an *UploadRejectedError wrapped in a RequestError.
func (c *UploadClient) Upload(ctx context.Context, env *interfaces.UploadEnvelope) error {
	body := api.NewEncryptedUploadRequest(env).Marshal()

	header := http.Header{}
	header.Set("Content-Type", api.ProtobufContentType)

	resp, err := do(ctx, c.httpClient, http.MethodPost, joinURL(c.baseURL, api.UploadPath), body, header)
	if err != nil {
		return err
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return statusError(resp, interfaces.ErrTransport)
	}

	eur, err := api.UnmarshalEncryptedUploadResponse(resp.Body)
	if err != nil {
		return &interfaces.RequestError{StatusCode: resp.StatusCode, Err: err}
	}

	if eur.Error != api.UploadNone {
		return &interfaces.RequestError{
			StatusCode: resp.StatusCode,
			Err:        &UploadRejectedError{Code: eur.Error},
		}
	}
	if resp.StatusCode != http.StatusOK {
		return statusError(resp, interfaces.ErrTransport)
	}

	c.log.Debug("upload accepted", "appKey", env.AppPublicKey.String(), "payloadSize", len(env.Payload))
	return nil
}
