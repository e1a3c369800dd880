package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"devserve/internal/domain"
)

const (
	InfoPath     = "/__devserver"
	ShutdownPath = "/__devserver_shutdown"
	TokenHeader  = "X-Dev-Server-Token"

	// maxBody caps how much of a peer's answer is read.
	maxBody = 4 << 10
)

// HTTPClient talks to other dev server instances over loopback HTTP.
// Keep-alives are off so every call dials afresh: a probe must observe
// whether the port still accepts connections, not reuse an old one.
type HTTPClient struct {
	client *http.Client
}

// NewHTTPClient creates a peer client. Timeouts come from the caller's context.
func NewHTTPClient() *HTTPClient {
	return &HTTPClient{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:             nil,
				DisableKeepAlives: true,
			},
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// RequestShutdown asks the instance at addr to shut down, passing token both
// as a query parameter and as a header.
func (c *HTTPClient) RequestShutdown(ctx context.Context, addr, token string) (domain.ShutdownReply, error) {
	u := url.URL{
		Scheme:   "http",
		Host:     addr,
		Path:     ShutdownPath,
		RawQuery: url.Values{"token": {token}}.Encode(),
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return domain.ShutdownReply{}, fmt.Errorf("build shutdown request: %w", err)
	}
	req.Header.Set(TokenHeader, token)

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.ShutdownReply{}, fmt.Errorf("shutdown request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	return domain.ShutdownReply{Status: resp.StatusCode, Body: string(body)}, nil
}

// Probe reports whether any HTTP response came back from addr.
func (c *HTTPClient) Probe(ctx context.Context, addr string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+InfoPath, nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
	resp.Body.Close()
	return true
}

// Info fetches and decodes the info payload of the instance at addr.
func (c *HTTPClient) Info(ctx context.Context, addr string) (domain.InstanceInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+InfoPath, nil)
	if err != nil {
		return domain.InstanceInfo{}, fmt.Errorf("build info request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return domain.InstanceInfo{}, fmt.Errorf("info request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.InstanceInfo{}, fmt.Errorf("info request: HTTP %d", resp.StatusCode)
	}
	var info domain.InstanceInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&info); err != nil {
		return domain.InstanceInfo{}, fmt.Errorf("info request: invalid response: %w", err)
	}
	return info, nil
}
