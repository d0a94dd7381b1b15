package geocode

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/parcel-linkage/internal/cache"
	"github.com/parcel-linkage/internal/config"
	"github.com/parcel-linkage/internal/metrics"
	"github.com/parcel-linkage/internal/normalize"
)

var (
	// ErrGeocodeTransient means every provider failed for a reason other than
	// "not found". The address is not cached and may be retried next run.
	ErrGeocodeTransient = errors.New("geocode failed for this run")
	// ErrNoAddress is returned for blank input
	ErrNoAddress = errors.New("no address to geocode")
)

// Result is a cached geocode outcome. NotFound results are terminal and
// cached like successes.
type Result struct {
	Lon      float64 `json:"lon,omitempty"`
	Lat      float64 `json:"lat,omitempty"`
	NotFound bool    `json:"not_found,omitempty"`
	Provider string  `json:"provider,omitempty"`
	Query    string  `json:"query,omitempty"`
}

// CacheKey is the key an address is cached under: its normalized form scoped
// to the municipality
func CacheKey(address, municipality string) string {
	return normalize.Address(address) + "|" + strings.ToUpper(strings.TrimSpace(municipality))
}

// Endpoint pairs a provider with its request pacing
type Endpoint struct {
	Provider Provider
	MinDelay time.Duration
}

type endpoint struct {
	Endpoint
	limiter *rate.Limiter
	serial  sync.Mutex
}

// Options configures a Geocoder
type Options struct {
	Region       string
	ShortenWords int
	Workers      int
	Retry        config.RetryPolicy
	Logger       zerolog.Logger
	Metrics      *metrics.Metrics
}

// Geocoder resolves addresses through the cache and then each provider in
// order. Safe for concurrent use; requests to a public provider are
// serialized and spaced by its minimum delay.
type Geocoder struct {
	endpoints []*endpoint
	cache     *cache.Store[Result]
	opt       Options
}

// New builds a Geocoder over the given endpoints, tried in order
func New(endpoints []Endpoint, c *cache.Store[Result], opt Options) *Geocoder {
	if c == nil {
		c = cache.Memory[Result]()
	}
	if opt.ShortenWords <= 0 {
		opt.ShortenWords = 4
	}
	if opt.Workers <= 0 {
		opt.Workers = 1
	}
	g := &Geocoder{cache: c, opt: opt}
	for _, e := range endpoints {
		lim := rate.NewLimiter(rate.Inf, 1)
		if e.MinDelay > 0 {
			lim = rate.NewLimiter(rate.Every(e.MinDelay), 1)
		}
		g.endpoints = append(g.endpoints, &endpoint{Endpoint: e, limiter: lim})
	}
	return g
}

// NewFromConfig builds the providers described by cfg
func NewFromConfig(cfg config.GeocoderConfig, c *cache.Store[Result], log zerolog.Logger, m *metrics.Metrics) *Geocoder {
	var eps []Endpoint
	for _, pc := range cfg.Providers {
		opt := HTTPOptions{
			Name:      pc.Name,
			BaseURL:   pc.URL,
			Public:    pc.Public,
			UserAgent: pc.UserAgent,
		}
		if pc.Timeout > 0 {
			opt.Client = &http.Client{Timeout: pc.Timeout}
		}
		var p Provider = NewNominatim(opt)
		if pc.Kind == "census" {
			p = NewCensus(opt)
		}
		eps = append(eps, Endpoint{Provider: p, MinDelay: pc.MinDelay})
	}
	return New(eps, c, Options{
		Region:       cfg.Region,
		ShortenWords: cfg.ShortenWords,
		Workers:      cfg.Workers,
		Retry:        cfg.Retry,
		Logger:       log,
		Metrics:      m,
	})
}

// Concurrency is how many addresses may be geocoded at once: one when any
// public provider is configured, otherwise the configured worker count
func (g *Geocoder) Concurrency() int {
	for _, e := range g.endpoints {
		if e.Provider.Public() {
			return 1
		}
	}
	return g.opt.Workers
}

// Cache exposes the backing cache for flushing and stats
func (g *Geocoder) Cache() *cache.Store[Result] { return g.cache }

// Geocode resolves address within municipality. A cached entry, including a
// cached NotFound, is returned without any provider call. Otherwise every
// query form is tried against each provider in turn; the first hit is cached
// under the original address key. When every attempt is a clean miss the
// NotFound result is cached. Provider failures that survive the retry policy
// yield ErrGeocodeTransient and nothing is cached.
func (g *Geocoder) Geocode(ctx context.Context, address, municipality string) (Result, error) {
	if normalize.Address(address) == "" {
		return Result{}, ErrNoAddress
	}
	key := CacheKey(address, municipality)
	if r, ok := g.cache.Get(key); ok {
		g.opt.Metrics.GeocodeCacheResult(true)
		return r, nil
	}
	g.opt.Metrics.GeocodeCacheResult(false)

	forms := QueryForms(address, municipality, g.opt.Region, g.opt.ShortenWords)

	var failure error
	for _, ep := range g.endpoints {
	next:
		for _, q := range forms {
			pt, err := g.search(ctx, ep, q)
			switch {
			case err == nil:
				res := Result{Lon: pt.Lon, Lat: pt.Lat, Provider: ep.Provider.Name(), Query: q}
				if err := g.cache.Put(key, res); err != nil {
					g.opt.Logger.Warn().Err(err).Msg("geocode cache flush failed")
				}
				return res, nil
			case errors.Is(err, ErrNoMatch):
				continue
			case ctx.Err() != nil:
				return Result{}, ctx.Err()
			default:
				failure = err
				g.opt.Logger.Warn().Err(err).Str("provider", ep.Provider.Name()).Str("address", address).
					Msg("provider failed, trying next")
				break next
			}
		}
	}

	if failure != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrGeocodeTransient, address, failure)
	}
	res := Result{NotFound: true}
	if err := g.cache.Put(key, res); err != nil {
		g.opt.Logger.Warn().Err(err).Msg("geocode cache flush failed")
	}
	return res, nil
}

// search sends one query to one endpoint, retrying transient failures with
// exponential backoff up to the policy ceiling
func (g *Geocoder) search(ctx context.Context, ep *endpoint, query string) (Point, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.opt.Retry.InitialDelay
	b.MaxInterval = g.opt.Retry.MaxDelay
	if g.opt.Retry.Multiplier >= 1 {
		b.Multiplier = g.opt.Retry.Multiplier
	}
	b.MaxElapsedTime = 0
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Second
	}
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(g.opt.Retry.MaxRetries)), ctx)

	var pt Point
	op := func() error {
		var err error
		pt, err = g.call(ctx, ep, query)
		switch {
		case err == nil:
			g.opt.Metrics.Geocode(ep.Provider.Name(), "ok")
			return nil
		case errors.Is(err, ErrNoMatch):
			g.opt.Metrics.Geocode(ep.Provider.Name(), "no_match")
			return backoff.Permanent(err)
		case errors.Is(err, ErrTransient):
			g.opt.Metrics.Geocode(ep.Provider.Name(), "transient")
			var se *StatusError
			if errors.As(err, &se) && se.RetryAfter > 0 {
				wait := se.RetryAfter
				if g.opt.Retry.MaxDelay > 0 && wait > g.opt.Retry.MaxDelay {
					wait = g.opt.Retry.MaxDelay
				}
				select {
				case <-ctx.Done():
					return backoff.Permanent(ctx.Err())
				case <-time.After(wait):
				}
			}
			return err
		default:
			g.opt.Metrics.Geocode(ep.Provider.Name(), "error")
			return backoff.Permanent(err)
		}
	}
	notify := func(err error, d time.Duration) {
		g.opt.Logger.Debug().Err(err).Dur("backoff", d).Str("provider", ep.Provider.Name()).Msg("retrying geocode")
	}
	err := backoff.RetryNotify(op, policy, notify)
	return pt, err
}

// call waits for the endpoint's pacing and sends the request. Public
// endpoints hold a lock across the wait and the request.
func (g *Geocoder) call(ctx context.Context, ep *endpoint, query string) (Point, error) {
	if ep.Provider.Public() {
		ep.serial.Lock()
		defer ep.serial.Unlock()
	}
	if err := ep.limiter.Wait(ctx); err != nil {
		return Point{}, err
	}
	return ep.Provider.Search(ctx, query)
}
