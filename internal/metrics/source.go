package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/setevik/vllmscope/internal/remote"
)

// Source returns the raw exposition text of the metrics endpoint.
type Source interface {
	Fetch(ctx context.Context) (string, error)
}

// RemoteSource runs curl against the endpoint from inside the target, so
// the port does not need to be published.
type RemoteSource struct {
	exec remote.Executor
	port int
}

// NewRemoteSource creates a source that queries localhost:port on exec's
// target.
func NewRemoteSource(exec remote.Executor, port int) *RemoteSource {
	return &RemoteSource{exec: exec, port: port}
}

func (s *RemoteSource) Fetch(ctx context.Context) (string, error) {
	url := fmt.Sprintf("http://localhost:%d/metrics", s.port)
	res, err := s.exec.RunBuffered(ctx, []string{"curl", "-s", url})
	if err != nil {
		return "", fmt.Errorf("fetching %s on %s: %w", url, s.exec.Target(), err)
	}
	if res.ExitCode != 0 {
		return "", &remote.ExitError{Code: res.ExitCode, Stderr: string(res.Stderr)}
	}
	text := string(res.Stdout)
	if strings.TrimSpace(text) == "" {
		return "", errors.New("empty metrics response")
	}
	return text, nil
}

// HTTPSource fetches the endpoint directly.
type HTTPSource struct {
	url    string
	client *http.Client
}

// NewHTTPSource creates a source for the given metrics URL.
func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSource) Fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetching %s: status %d", s.url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", s.url, err)
	}
	if strings.TrimSpace(string(body)) == "" {
		return "", errors.New("empty metrics response")
	}
	return string(body), nil
}
