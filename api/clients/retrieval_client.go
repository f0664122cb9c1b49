package clients

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ruteri/exposure-keyserver-client/api"
	"github.com/ruteri/exposure-keyserver-client/interfaces"
)

// Signer produces retrieval signatures. It is satisfied by
// cryptoutils.RetrievalSigner.
type Signer interface {
	Sign(timestamp float64, region string) (interfaces.RetrievalSignature, error)
}

// RetrievedBatch is one day's key batch as served by the key server.
type RetrievedBatch struct {
	Region    string
	Signature interfaces.RetrievalSignature

	// Data is the zip archive returned by the server.
	Data []byte

	// ContentID is set when the batch was archived.
	ContentID *interfaces.ContentID
}

// Export parses the key export carried by the batch.
func (b *RetrievedBatch) Export() (*api.KeyExport, error) {
	return api.ParseBatch(b.Data)
}

// RetrievalClient fetches signed key batches and optionally archives them.
// It is safe for concurrent use.
type RetrievalClient struct {
	baseURL    string
	httpClient *http.Client
	signer     Signer
	archive    interfaces.StorageBackend
	log        *slog.Logger
}

// NewRetrievalClient creates a retrieval client. archive may be nil.
func NewRetrievalClient(baseURL string, signer Signer, archive interfaces.StorageBackend, httpClient *http.Client, log *slog.Logger) *RetrievalClient {
	if httpClient == nil {
		httpClient = NewHTTPClient(0)
	}
	if log == nil {
		log = slog.Default()
	}
	return &RetrievalClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		signer:     signer,
		archive:    archive,
		log:        log,
	}
}

// Retrieve signs the window containing timestamp and fetches its batch.
func (c *RetrievalClient) Retrieve(ctx context.Context, region string, timestamp float64) (*RetrievedBatch, error) {
	sig, err := c.signer.Sign(timestamp, region)
	if err != nil {
		return nil, err
	}

	url := joinURL(c.baseURL, api.RetrievePath(region, sig.Period, sig.Signature))
	resp, err := do(ctx, c.httpClient, http.MethodGet, url, nil, nil)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, statusError(resp, interfaces.ErrAuthentication)
	default:
		return nil, statusError(resp, interfaces.ErrTransport)
	}

	batch := &RetrievedBatch{
		Region:    region,
		Signature: sig,
		Data:      resp.Body,
	}

	if c.archive != nil {
		id, err := c.archive.Store(ctx, resp.Body, interfaces.BatchType)
		if err != nil {
			return nil, fmt.Errorf("failed to archive batch for period %d: %w", sig.Period, err)
		}
		batch.ContentID = &id
		c.log.Debug("archived batch", "period", sig.Period, "contentID", id.String(), "backend", c.archive.Name())
	}

	c.log.Debug("retrieved batch", "region", region, "period", sig.Period, "hour", sig.Hour, "size", len(resp.Body))
	return batch, nil
}
