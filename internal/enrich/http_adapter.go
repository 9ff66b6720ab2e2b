package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPAdapter calls an enrichment provider over HTTP: the lead context is
// POSTed as JSON and the provider's JSON body is returned untouched. Provider
// internals stay opaque to the engine.
type HTTPAdapter struct {
	name    string
	service string
	url     string
	timeout time.Duration
	client  *http.Client
}

var _ Adapter = (*HTTPAdapter)(nil)

func NewHTTPAdapter(name, service, url string, timeout time.Duration) *HTTPAdapter {
	return &HTTPAdapter{
		name:    name,
		service: service,
		url:     url,
		timeout: timeout,
		client:  &http.Client{},
	}
}

func (a *HTTPAdapter) Name() string {
	return a.name
}

func (a *HTTPAdapter) ServiceName() string {
	return a.service
}

func (a *HTTPAdapter) Timeout() time.Duration {
	return a.timeout
}

func (a *HTTPAdapter) Invoke(ctx context.Context, input Input) (json.RawMessage, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider %s returned status %d", a.name, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("provider %s returned malformed JSON", a.name)
	}
	return json.RawMessage(data), nil
}
