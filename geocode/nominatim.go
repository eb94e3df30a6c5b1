// Package geocode turns coordinates into human readable place names.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"photo-map/metrics"
	"photo-map/model"
)

const (
	DefaultServer    = "https://nominatim.openstreetmap.org"
	DefaultUserAgent = "PhotoMapApp/1.0"
	DefaultHome      = "United States"

	// zoom 14 resolves to suburb/town level.
	reverseZoom = 14
)

// Resolver maps a coordinate pair to a place name. Implementations never
// fail: model.LocationNotFound is returned when nothing can be resolved.
type Resolver interface {
	Resolve(ctx context.Context, lat, lon float64) string
}

// Address holds the subset of Nominatim address fields used for naming.
type Address struct {
	City    string `json:"city"`
	Town    string `json:"town"`
	Village string `json:"village"`
	Hamlet  string `json:"hamlet"`
	County  string `json:"county"`
	State   string `json:"state"`
	Country string `json:"country"`
}

type reverseResponse struct {
	Address *Address `json:"address"`
}

// Options configures a NominatimResolver.
type Options struct {
	Server      string
	UserAgent   string
	HomeCountry string
	Timeout     time.Duration
	// RequestsPerSecond throttles outbound lookups. Zero disables throttling.
	RequestsPerSecond float64
}

// NominatimResolver resolves place names with the Nominatim reverse API.
type NominatimResolver struct {
	server      string
	userAgent   string
	homeCountry string
	client      *http.Client
	limiter     *rate.Limiter
	cb          *gobreaker.CircuitBreaker[*Address]
	log         *zap.Logger
}

var _ Resolver = (*NominatimResolver)(nil)

// NewNominatimResolver builds a resolver; empty options take defaults.
func NewNominatimResolver(opts Options, logger *zap.Logger) *NominatimResolver {
	if opts.Server == "" {
		opts.Server = DefaultServer
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.HomeCountry == "" {
		opts.HomeCountry = DefaultHome
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	r := &NominatimResolver{
		server:      strings.TrimRight(opts.Server, "/"),
		userAgent:   opts.UserAgent,
		homeCountry: opts.HomeCountry,
		client:      &http.Client{Timeout: opts.Timeout},
		limiter:     limiter,
		log:         logger,
	}

	cbName := "nominatim"
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)
	r.cb = gobreaker.NewCircuitBreaker[*Address](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// a caller giving up says nothing about the server's health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("geocode circuit breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})

	return r
}

// Resolve returns the place name for the coordinates, or
// model.LocationNotFound on any failure.
func (r *NominatimResolver) Resolve(ctx context.Context, lat, lon float64) string {
	logger := r.log.With(zap.Float64("lat", lat), zap.Float64("lon", lon))

	addr, err := r.cb.Execute(func() (*Address, error) {
		return r.reverse(ctx, lat, lon)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.GeocodeRequests.WithLabelValues("rejected").Inc()
		} else {
			metrics.GeocodeRequests.WithLabelValues("failure").Inc()
		}
		logger.Warn("reverse geocoding failed", zap.Error(err))
		return model.LocationNotFound
	}
	if addr == nil {
		metrics.GeocodeRequests.WithLabelValues("empty").Inc()
		return model.LocationNotFound
	}

	name := FormatAddress(*addr, r.homeCountry)
	if name == "" {
		metrics.GeocodeRequests.WithLabelValues("empty").Inc()
		return model.LocationNotFound
	}
	metrics.GeocodeRequests.WithLabelValues("resolved").Inc()
	return name
}

func (r *NominatimResolver) reverse(ctx context.Context, lat, lon float64) (*Address, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	q := url.Values{}
	q.Set("format", "json")
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("zoom", strconv.Itoa(reverseZoom))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.server+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("nominatim returned %s", resp.Status)
	}

	var body reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding nominatim response: %w", err)
	}
	return body.Address, nil
}

// FormatAddress joins the locality, county, state and country (unless it
// is homeCountry) with ", ". It returns "" when no field is present.
func FormatAddress(addr Address, homeCountry string) string {
	var parts []string
	for _, locality := range []string{addr.City, addr.Town, addr.Village, addr.Hamlet} {
		if locality != "" {
			parts = append(parts, locality)
			break
		}
	}
	if addr.County != "" {
		parts = append(parts, addr.County)
	}
	if addr.State != "" {
		parts = append(parts, addr.State)
	}
	if addr.Country != "" && addr.Country != homeCountry {
		parts = append(parts, addr.Country)
	}
	return strings.Join(parts, ", ")
}
