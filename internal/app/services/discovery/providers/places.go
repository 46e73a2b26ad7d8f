package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	domain "github.com/roamly/discovery/internal/app/domain/discovery"
	"github.com/roamly/discovery/internal/app/services/discovery"
	"github.com/roamly/discovery/pkg/logger"
)

// ErrPlaceNotFound means the places service had no match for the candidate.
var ErrPlaceNotFound = errors.New("place not found")

var _ discovery.ValidationProvider = (*HTTPValidationProvider)(nil)

// HTTPValidationProvider confirms a candidate with a text-search places API
// and maps the first result to an enrichment bundle. Calls share one rate
// limiter and each is bounded by the configured timeout.
type HTTPValidationProvider struct {
	client   *http.Client
	endpoint string
	apiKey   string
	timeout  time.Duration
	limiter  *rate.Limiter
	log      *logger.Logger
}

// PlacesOptions configures the places adapter.
type PlacesOptions struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	RPS      float64
	Burst    int
}

// NewHTTPValidationProvider builds the adapter. A non-positive RPS disables
// rate limiting.
func NewHTTPValidationProvider(client *http.Client, opts PlacesOptions, log *logger.Logger) (*HTTPValidationProvider, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("places endpoint is required")
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("places endpoint: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logger.NewDefault("discovery-places")
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	return &HTTPValidationProvider{
		client:   client,
		endpoint: endpoint,
		apiKey:   opts.APIKey,
		timeout:  opts.Timeout,
		limiter:  limiter,
		log:      log,
	}, nil
}

func (p *HTTPValidationProvider) ValidateCandidate(ctx context.Context, name, city string) (domain.Enrichment, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return domain.Enrichment{}, fmt.Errorf("places rate limit: %w", err)
	}

	query := strings.TrimSpace(name)
	if city = strings.TrimSpace(city); city != "" {
		query += ", " + city
	}
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return domain.Enrichment{}, err
	}
	q := u.Query()
	q.Set("query", query)
	if p.apiKey != "" {
		q.Set("key", p.apiKey)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return domain.Enrichment{}, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return domain.Enrichment{}, fmt.Errorf("places request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.Enrichment{}, fmt.Errorf("read places response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.Enrichment{}, fmt.Errorf("places service returned %d", resp.StatusCode)
	}
	return ParsePlace(body)
}

// ParsePlace maps the first result of a text-search response. Responses
// with status ZERO_RESULTS or an empty result list yield ErrPlaceNotFound.
func ParsePlace(body []byte) (domain.Enrichment, error) {
	if !gjson.ValidBytes(body) {
		return domain.Enrichment{}, fmt.Errorf("places response is not valid JSON")
	}
	doc := gjson.ParseBytes(body)
	switch status := doc.Get("status").String(); status {
	case "", "OK":
	case "ZERO_RESULTS":
		return domain.Enrichment{}, ErrPlaceNotFound
	default:
		msg := doc.Get("error_message").String()
		return domain.Enrichment{}, fmt.Errorf("places status %s %s", status, msg)
	}

	first := doc.Get("results.0")
	if !first.Exists() {
		return domain.Enrichment{}, ErrPlaceNotFound
	}

	enr := domain.Enrichment{
		PlaceID: first.Get("place_id").String(),
		Address: first.Get("formatted_address").String(),
		Website: first.Get("website").String(),
	}
	if r := first.Get("rating"); r.Exists() {
		v := r.Float()
		enr.Rating = &v
	}
	if p := first.Get("price_level"); p.Exists() {
		v := int(p.Int())
		enr.PriceTier = &v
	}
	if o := first.Get("opening_hours.open_now"); o.Exists() {
		v := o.Bool()
		enr.OpenNow = &v
	}
	if lat := first.Get("geometry.location.lat"); lat.Exists() {
		v := lat.Float()
		enr.Latitude = &v
	}
	if lng := first.Get("geometry.location.lng"); lng.Exists() {
		v := lng.Float()
		enr.Longitude = &v
	}
	first.Get("photos.#.url").ForEach(func(_, value gjson.Result) bool {
		if u := value.String(); u != "" {
			enr.PhotoURLs = append(enr.PhotoURLs, u)
		}
		return true
	})
	if summary := first.Get("editorial_summary.overview"); summary.Exists() {
		enr.Summary = summary.String()
	}
	return enr, nil
}
