// Package geocode resolves free-text addresses to WGS84 coordinates through a
// persistent cache and an ordered list of external providers.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNoMatch means the provider answered but found nothing for the query
	ErrNoMatch = errors.New("no geocode match")
	// ErrTransient marks provider failures worth retrying
	ErrTransient = errors.New("transient geocode failure")
)

// Point is a WGS84 coordinate
type Point struct {
	Lon float64
	Lat float64
}

// Provider is one external geocoding endpoint
type Provider interface {
	Name() string
	Public() bool
	Search(ctx context.Context, query string) (Point, error)
}

// StatusError is returned for non-success HTTP responses. 429 and 5xx unwrap
// to ErrTransient.
type StatusError struct {
	Provider   string
	Status     int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: http %d", e.Provider, e.Status)
}

func (e *StatusError) Unwrap() error {
	if e.Status == http.StatusTooManyRequests || e.Status >= 500 {
		return ErrTransient
	}
	return nil
}

// HTTPOptions configures the HTTP providers
type HTTPOptions struct {
	Name      string
	BaseURL   string
	Public    bool
	UserAgent string
	Client    *http.Client
}

type httpProvider struct {
	opt HTTPOptions
}

func newHTTPProvider(opt HTTPOptions) httpProvider {
	if opt.Client == nil {
		opt.Client = &http.Client{Timeout: 20 * time.Second}
	}
	opt.BaseURL = strings.TrimRight(opt.BaseURL, "/")
	return httpProvider{opt: opt}
}

func (p httpProvider) Name() string { return p.opt.Name }
func (p httpProvider) Public() bool { return p.opt.Public }

// get performs the request and decodes a JSON body into out
func (p httpProvider) get(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if p.opt.UserAgent != "" {
		req.Header.Set("User-Agent", p.opt.UserAgent)
	}

	resp, err := p.opt.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w: %v", p.opt.Name, ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{Provider: p.opt.Name, Status: resp.StatusCode, RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", p.opt.Name, err)
	}
	return nil
}

func retryAfter(v string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// NominatimProvider queries an OpenStreetMap Nominatim search endpoint
type NominatimProvider struct {
	httpProvider
}

// NewNominatim builds a Nominatim provider
func NewNominatim(opt HTTPOptions) *NominatimProvider {
	return &NominatimProvider{newHTTPProvider(opt)}
}

// Search returns the best hit for a free-text query
func (p *NominatimProvider) Search(ctx context.Context, query string) (Point, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "jsonv2")
	q.Set("limit", "1")
	q.Set("countrycodes", "us")

	var hits []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := p.get(ctx, p.opt.BaseURL+"/search?"+q.Encode(), &hits); err != nil {
		return Point{}, err
	}
	if len(hits) == 0 {
		return Point{}, ErrNoMatch
	}
	lat, err1 := strconv.ParseFloat(hits[0].Lat, 64)
	lon, err2 := strconv.ParseFloat(hits[0].Lon, 64)
	if err1 != nil || err2 != nil {
		return Point{}, fmt.Errorf("%s: bad coordinate %q,%q", p.opt.Name, hits[0].Lat, hits[0].Lon)
	}
	return Point{Lon: lon, Lat: lat}, nil
}

// CensusProvider queries the US Census Bureau one-line address geocoder
type CensusProvider struct {
	httpProvider
}

// NewCensus builds a Census geocoder provider
func NewCensus(opt HTTPOptions) *CensusProvider {
	return &CensusProvider{newHTTPProvider(opt)}
}

// Search returns the first address match for a free-text query
func (p *CensusProvider) Search(ctx context.Context, query string) (Point, error) {
	q := url.Values{}
	q.Set("address", query)
	q.Set("benchmark", "Public_AR_Current")
	q.Set("format", "json")

	var body struct {
		Result struct {
			AddressMatches []struct {
				Coordinates struct {
					X float64 `json:"x"`
					Y float64 `json:"y"`
				} `json:"coordinates"`
			} `json:"addressMatches"`
		} `json:"result"`
	}
	if err := p.get(ctx, p.opt.BaseURL+"/geocoder/locations/onelineaddress?"+q.Encode(), &body); err != nil {
		return Point{}, err
	}
	if len(body.Result.AddressMatches) == 0 {
		return Point{}, ErrNoMatch
	}
	c := body.Result.AddressMatches[0].Coordinates
	return Point{Lon: c.X, Lat: c.Y}, nil
}
