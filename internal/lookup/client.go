package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PaolaCartala/compliance-local-ai/internal/agents"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

const maxResponseBytes = 1 << 20

// ErrProviderUnavailable wraps every failure to reach a provider. The
// pipeline retries jobs that hit it.
var ErrProviderUnavailable = errors.New("lookup provider unavailable")

// Provider reads client data from one external system.
type Provider interface {
	Tool() agents.Tool
	// Fetch returns the client's record, or nil when the provider has none.
	Fetch(ctx context.Context, clientID string) (json.RawMessage, error)
}

// HTTPProvider reads records from a read-only JSON API. pathFormat holds a
// single %s for the escaped client id.
type HTTPProvider struct {
	tool       agents.Tool
	baseURL    string
	pathFormat string
	client     *http.Client
	cache      *expirable.LRU[string, json.RawMessage]
}

func NewCRMProvider(baseURL string, timeout time.Duration, cacheSize int, ttl time.Duration) *HTTPProvider {
	return newHTTPProvider(agents.ToolCRM, baseURL, "/clients/%s", timeout, cacheSize, ttl)
}

func NewPortfolioProvider(baseURL string, timeout time.Duration, cacheSize int, ttl time.Duration) *HTTPProvider {
	return newHTTPProvider(agents.ToolPortfolio, baseURL, "/clients/%s/holdings", timeout, cacheSize, ttl)
}

func newHTTPProvider(tool agents.Tool, baseURL, pathFormat string, timeout time.Duration, cacheSize int, ttl time.Duration) *HTTPProvider {
	return &HTTPProvider{
		tool:       tool,
		baseURL:    strings.TrimRight(baseURL, "/"),
		pathFormat: pathFormat,
		client:     &http.Client{Timeout: timeout},
		cache:      expirable.NewLRU[string, json.RawMessage](cacheSize, nil, ttl),
	}
}

func (p *HTTPProvider) Tool() agents.Tool {
	return p.tool
}

func (p *HTTPProvider) Fetch(ctx context.Context, clientID string) (json.RawMessage, error) {
	if record, ok := p.cache.Get(clientID); ok {
		return record, nil
	}

	u := p.baseURL + fmt.Sprintf(p.pathFormat, url.PathEscape(clientID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", p.tool, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, p.tool, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: %s answered %d", ErrProviderUnavailable, p.tool, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: reading response: %v", ErrProviderUnavailable, p.tool, err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: %s returned invalid JSON", ErrProviderUnavailable, p.tool)
	}

	record := json.RawMessage(body)
	p.cache.Add(clientID, record)
	zap.S().Named("lookup").Debugw("client record fetched", "tool", p.tool, "client_id", clientID, "bytes", len(body))
	return record, nil
}

// Service resolves the supplements for a job from the providers its agent
// may use.
type Service struct {
	providers map[agents.Tool]Provider
}

func NewService(providers ...Provider) *Service {
	s := &Service{providers: make(map[agents.Tool]Provider, len(providers))}
	for _, p := range providers {
		s.providers[p.Tool()] = p
	}
	return s
}

// Supplements returns one text block per allowed provider that has data for
// the client. Jobs without a client id get none.
func (s *Service) Supplements(ctx context.Context, agent agents.Config, clientID *string) ([]string, error) {
	if clientID == nil || *clientID == "" {
		return nil, nil
	}

	var supplements []string
	for _, tool := range agent.Tools {
		p, ok := s.providers[tool]
		if !ok {
			continue
		}
		record, err := p.Fetch(ctx, *clientID)
		if err != nil {
			return nil, err
		}
		if record == nil {
			continue
		}
		supplements = append(supplements, fmt.Sprintf("%s: %s", tool, record))
	}
	return supplements, nil
}
