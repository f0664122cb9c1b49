package clients

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ruteri/exposure-keyserver-client/interfaces"
)

// DefaultTimeout bounds every request made by the clients in this package.
const DefaultTimeout = 30 * time.Second

// maxResponseSize bounds the bodies read from the key server.
const maxResponseSize = 32 << 20

// NewHTTPClient returns an http.Client with the given timeout, or
// DefaultTimeout when timeout is zero. The client is safe for concurrent use
// and is meant to be shared between runs.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

type response struct {
	StatusCode int
	Body       []byte
}

// do sends a request to the key server and reads the whole response.
// Network failures, timeouts and unreadable bodies are reported as ErrTransport.
func do(ctx context.Context, client *http.Client, method, url string, body []byte, header http.Header) (*response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: could not create request: %v", interfaces.ErrTransport, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", interfaces.ErrTransport, method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &interfaces.RequestError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w: could not read response body: %v", interfaces.ErrTransport, err),
		}
	}

	return &response{StatusCode: resp.StatusCode, Body: data}, nil
}

// statusError wraps kind with the status code and a short excerpt of the body.
func statusError(resp *response, kind error) error {
	excerpt := strings.TrimSpace(string(resp.Body))
	if len(excerpt) > 128 {
		excerpt = excerpt[:128]
	}
	return &interfaces.RequestError{
		StatusCode: resp.StatusCode,
		Err:        fmt.Errorf("%w: unexpected status %d: %q", kind, resp.StatusCode, excerpt),
	}
}

func joinURL(baseURL, path string) string {
	return strings.TrimRight(baseURL, "/") + path
}
