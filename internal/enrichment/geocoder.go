// Package enrichment implements the geo enrichment stage of the pipeline.
//
// Enrichment resolves state names to geographic coordinates through an
// external lookup service. The service is treated as unreliable: lookups can
// time out or miss, and neither outcome ever fails a batch. Coordinates are
// best-effort supplementary data.
package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/starforge-io/starforge/internal/config"
	"github.com/starforge-io/starforge/internal/dataset"
)

// Sentinel errors for geocoding operations.
var (
	// ErrStateNotFound is returned when the lookup service has no entry for a state.
	ErrStateNotFound = errors.New("state not found by geocoding service")

	// ErrGeocoderUnavailable is returned for transport-level lookup failures.
	ErrGeocoderUnavailable = errors.New("geocoding service unavailable")

	// ErrBaseURLEmpty is returned when the geocoder is configured without a base URL.
	ErrBaseURLEmpty = errors.New("geocoder base URL cannot be empty")
)

const (
	defaultLookupTimeout  = 5 * time.Second
	defaultLookupRPS      = 2
	defaultLookupBurst    = 1
	defaultMaxConcurrency = 4

	userAgent = "starforge-geocoder/1.0"
)

type (
	// Geocoder resolves a state name to geographic coordinates.
	//
	// Implementations must treat not-found and transport failure as distinct
	// conditions: ErrStateNotFound is a data property worth caching, while
	// other errors are transient service failures.
	Geocoder interface {
		Resolve(ctx context.Context, state string) (dataset.Coordinates, error)
	}

	// GeocoderConfig holds external lookup service configuration.
	GeocoderConfig struct {
		BaseURL        string
		Timeout        time.Duration
		LookupRPS      int
		LookupBurst    int
		MaxConcurrency int
	}

	// HTTPGeocoder implements Geocoder against a keyed HTTP lookup service.
	//
	// Requests are rate limited with a token bucket so a large distinct key
	// set cannot hammer the external service. The per-request timeout bounds
	// tail latency; a timed-out lookup degrades to a counted failure upstream.
	HTTPGeocoder struct {
		baseURL string
		client  *http.Client
		limiter *rate.Limiter
	}

	// geocodeResponse is the lookup service's wire format.
	geocodeResponse struct {
		Latitude  float64 `json:"lat"`
		Longitude float64 `json:"lon"`
	}
)

// LoadGeocoderConfig loads geocoder configuration from environment variables
// with fallback to defaults.
func LoadGeocoderConfig() *GeocoderConfig {
	return &GeocoderConfig{
		BaseURL:        config.GetEnvStr("GEOCODER_BASE_URL", ""),
		Timeout:        config.GetEnvDuration("GEOCODER_TIMEOUT", defaultLookupTimeout),
		LookupRPS:      config.GetEnvInt("GEOCODER_LOOKUP_RPS", defaultLookupRPS),
		LookupBurst:    config.GetEnvInt("GEOCODER_LOOKUP_BURST", defaultLookupBurst),
		MaxConcurrency: config.GetEnvInt("GEOCODER_MAX_CONCURRENCY", defaultMaxConcurrency),
	}
}

// Validate checks if the geocoder configuration is valid.
func (c *GeocoderConfig) Validate() error {
	if c.BaseURL == "" {
		return ErrBaseURLEmpty
	}

	return nil
}

// NewHTTPGeocoder creates a rate-limited HTTP geocoder from config.
func NewHTTPGeocoder(cfg *GeocoderConfig) (*HTTPGeocoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rps := cfg.LookupRPS
	if rps <= 0 {
		rps = defaultLookupRPS
	}

	burst := cfg.LookupBurst
	if burst <= 0 {
		burst = defaultLookupBurst
	}

	return &HTTPGeocoder{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}, nil
}

// Resolve looks up coordinates for a state name.
//
// Wire contract: GET {base}?state={name} returning {"lat": ..., "lon": ...}
// with 200, or 404 when the service has no entry for the state.
//
// Returns ErrStateNotFound on 404 and ErrGeocoderUnavailable (wrapped) on
// transport errors, timeouts, and non-2xx statuses.
func (g *HTTPGeocoder) Resolve(ctx context.Context, state string) (dataset.Coordinates, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return dataset.Coordinates{}, fmt.Errorf("%w: %w", ErrGeocoderUnavailable, err)
	}

	reqURL := g.baseURL + "?state=" + url.QueryEscape(state)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return dataset.Coordinates{}, fmt.Errorf("%w: %w", ErrGeocoderUnavailable, err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return dataset.Coordinates{}, fmt.Errorf("%w: %w", ErrGeocoderUnavailable, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		return dataset.Coordinates{}, fmt.Errorf("%w: %q", ErrStateNotFound, state)
	}

	if resp.StatusCode != http.StatusOK {
		return dataset.Coordinates{}, fmt.Errorf("%w: unexpected status %d", ErrGeocoderUnavailable, resp.StatusCode)
	}

	var body geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return dataset.Coordinates{}, fmt.Errorf("%w: malformed response: %w", ErrGeocoderUnavailable, err)
	}

	return dataset.Coordinates{Latitude: body.Latitude, Longitude: body.Longitude}, nil
}
