// Package providers holds the HTTP adapters the discovery engine talks to:
// the suggestion generator and the place validation service.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/tidwall/gjson"

	domain "github.com/roamly/discovery/internal/app/domain/discovery"
	"github.com/roamly/discovery/internal/app/services/discovery"
	"github.com/roamly/discovery/pkg/logger"
)

// DefaultResultPath locates the candidate array in a generator response.
const DefaultResultPath = "$.candidates"

const maxResponseBytes = 1 << 20

var _ discovery.SuggestionSource = (*HTTPSuggestionSource)(nil)

// HTTPSuggestionSource asks a remote generator for candidates. The generator
// receives the city, kind and exclusion list and answers with a JSON document
// whose candidate array is found at ResultPath. Entries may be bare strings
// or objects carrying name, category and rationale.
type HTTPSuggestionSource struct {
	client     *http.Client
	endpoint   string
	apiKey     string
	resultPath string
	log        *logger.Logger
}

// NewHTTPSuggestionSource validates the endpoint and builds the source.
func NewHTTPSuggestionSource(client *http.Client, endpoint, apiKey, resultPath string, timeout time.Duration, log *logger.Logger) (*HTTPSuggestionSource, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("suggestion endpoint is required")
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	if strings.TrimSpace(resultPath) == "" {
		resultPath = DefaultResultPath
	}
	if log == nil {
		log = logger.NewDefault("discovery-suggestions")
	}
	return &HTTPSuggestionSource{
		client:     client,
		endpoint:   endpoint,
		apiKey:     apiKey,
		resultPath: resultPath,
		log:        log,
	}, nil
}

type suggestionPayload struct {
	City    string   `json:"city"`
	Region  string   `json:"region,omitempty"`
	Kind    string   `json:"kind"`
	Exclude []string `json:"exclude"`
	Limit   int      `json:"limit,omitempty"`
}

func (s *HTTPSuggestionSource) GenerateSuggestions(ctx context.Context, req discovery.SuggestionRequest) ([]domain.RawCandidate, error) {
	exclude := req.ExcludeNames
	if exclude == nil {
		exclude = []string{}
	}
	body, err := json.Marshal(suggestionPayload{
		City:    req.City,
		Region:  req.Region,
		Kind:    string(req.Kind),
		Exclude: exclude,
		Limit:   req.Limit,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("suggestion request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read suggestion response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("suggestion service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	out, err := ParseCandidates(raw, s.resultPath)
	if err != nil {
		return nil, err
	}
	s.log.WithField("city", req.City).WithField("kind", string(req.Kind)).Debugf("generator returned %d candidates", len(out))
	return out, nil
}

// ParseCandidates extracts candidates from a generator response. Generators
// that wrap their JSON in markdown fences are tolerated.
func ParseCandidates(raw []byte, resultPath string) ([]domain.RawCandidate, error) {
	raw = stripFences(raw)

	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode suggestion response: %w", err)
	}
	found, err := jsonpath.Get(resultPath, doc)
	if err != nil {
		return nil, fmt.Errorf("locate candidates at %s: %w", resultPath, err)
	}
	list, ok := found.([]interface{})
	if !ok {
		return nil, fmt.Errorf("candidates at %s are %T, not an array", resultPath, found)
	}

	out := make([]domain.RawCandidate, 0, len(list))
	for _, entry := range list {
		if name, ok := entry.(string); ok {
			if name = strings.TrimSpace(name); name != "" {
				out = append(out, domain.RawCandidate{Name: name})
			}
			continue
		}
		encoded, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		obj := gjson.ParseBytes(encoded)
		name := strings.TrimSpace(obj.Get("name").String())
		if name == "" {
			continue
		}
		rationale := obj.Get("rationale").String()
		if rationale == "" {
			rationale = obj.Get("description").String()
		}
		out = append(out, domain.RawCandidate{
			Name:      name,
			Category:  strings.TrimSpace(obj.Get("category").String()),
			Rationale: strings.TrimSpace(rationale),
		})
	}
	return out, nil
}

func stripFences(raw []byte) []byte {
	trimmed := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(trimmed, []byte("```")) {
		return trimmed
	}
	if nl := bytes.IndexByte(trimmed, '\n'); nl >= 0 {
		trimmed = trimmed[nl+1:]
	}
	trimmed = bytes.TrimSuffix(bytes.TrimSpace(trimmed), []byte("```"))
	return bytes.TrimSpace(trimmed)
}
