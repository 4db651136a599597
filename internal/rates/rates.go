package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	log "github.com/sirupsen/logrus"
	"github.com/xtrntr/cryptop2p/internal/models"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultBaseURL  = "https://api.coingecko.com/api/v3"
	DefaultTTL      = 60 * time.Second
	DefaultTimeout  = 10 * time.Second
	DefaultCurrency = "usd"

	cacheSize = 32
)

// DefaultAssets are the provider ids quoted by default.
var DefaultAssets = []string{"bitcoin", "ethereum", "binancecoin", "tether", "tron", "litecoin", "toncoin"}

var currencyPattern = regexp.MustCompile(`^[a-z]{3,10}$`)

// Quotes maps asset id to currency to price, as returned by the provider.
type Quotes map[string]map[string]float64

type entry struct {
	quotes    Quotes
	fetchedAt time.Time
}

// Service serves price quotes from an upstream provider, caching each
// quote currency for a fixed TTL.
type Service struct {
	baseURL string
	assets  string
	ttl     time.Duration
	client  *http.Client
	cache   *lru.Cache
	group   singleflight.Group
	now     func() time.Time
}

// NewService returns a Service against baseURL. Zero ttl or timeout use the
// package defaults.
func NewService(baseURL string, ttl, timeout time.Duration) (*Service, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Service{
		baseURL: strings.TrimRight(baseURL, "/"),
		assets:  strings.Join(DefaultAssets, ","),
		ttl:     ttl,
		client:  &http.Client{Timeout: timeout},
		cache:   cache,
		now:     time.Now,
	}, nil
}

// Get returns quotes in currency, fetching them when the cached copy is
// missing or older than the TTL. Concurrent misses share one upstream call.
func (s *Service) Get(ctx context.Context, currency string) (Quotes, error) {
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	if !currencyPattern.MatchString(currency) {
		return nil, fmt.Errorf("%w: unsupported quote currency %q", models.ErrInvalidArgument, currency)
	}

	if v, ok := s.cache.Get(currency); ok {
		e := v.(entry)
		if s.now().Sub(e.fetchedAt) < s.ttl {
			return e.quotes, nil
		}
	}

	// The flight is shared, so one caller going away must not fail the others.
	// The client timeout still bounds the fetch.
	fetchCtx := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do(currency, func() (interface{}, error) {
		quotes, err := s.fetch(fetchCtx, currency)
		if err != nil {
			return nil, err
		}
		s.cache.Add(currency, entry{quotes: quotes, fetchedAt: s.now()})
		return quotes, nil
	})
	if err != nil {
		log.WithError(err).WithField("currency", currency).Warn("rates fetch failed")
		return nil, err
	}
	return v.(Quotes), nil
}

func (s *Service) fetch(ctx context.Context, currency string) (Quotes, error) {
	q := url.Values{}
	q.Set("ids", s.assets)
	q.Set("vs_currencies", currency)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/simple/price?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: rates provider: %v", models.ErrGateway, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("%w: rates provider returned %d: %s", models.ErrGateway, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var quotes Quotes
	if err := json.NewDecoder(resp.Body).Decode(&quotes); err != nil {
		return nil, fmt.Errorf("%w: rates provider: invalid response: %v", models.ErrGateway, err)
	}
	return quotes, nil
}
