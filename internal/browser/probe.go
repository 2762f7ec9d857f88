package browser

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const DefaultEndpoint = "http://127.0.0.1:9222"

// VersionInfo is the browser's answer on /json/version.
type VersionInfo struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	UserAgent            string `json:"User-Agent"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// NormalizeEndpoint turns "host:port", "http://host:port" or a browser
// websocket URL into the http base URL of the debugging endpoint.
func NormalizeEndpoint(endpoint string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", fmt.Errorf("endpoint required")
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	scheme := u.Scheme
	switch scheme {
	case "http", "https":
	case "ws":
		scheme = "http"
	case "wss":
		scheme = "https"
	default:
		return "", fmt.Errorf("invalid endpoint %q: unsupported scheme %s", endpoint, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid endpoint %q: missing host", endpoint)
	}
	if _, _, err := net.SplitHostPort(u.Host); err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	return scheme + "://" + u.Host, nil
}

// Probe checks that a browser is listening on endpoint. It is the only
// branch taken before attaching: an unreachable endpoint wraps ErrUnreachable.
func Probe(ctx context.Context, endpoint string, timeout time.Duration) (VersionInfo, error) {
	base, err := NormalizeEndpoint(endpoint)
	if err != nil {
		return VersionInfo{}, err
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().SetTimeout(timeout)
	var info VersionInfo
	resp, err := client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetResult(&info).
		ForceContentType("application/json").
		Get(base + "/json/version")
	if err != nil {
		return VersionInfo{}, fmt.Errorf("%w: %s: %v", ErrUnreachable, base, err)
	}
	if resp.IsError() {
		return VersionInfo{}, fmt.Errorf("%w: %s: status %d", ErrUnreachable, base, resp.StatusCode())
	}
	if info.WebSocketDebuggerURL == "" {
		return VersionInfo{}, fmt.Errorf("%w: %s: no webSocketDebuggerUrl in response", ErrUnreachable, base)
	}
	return info, nil
}
