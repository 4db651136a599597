package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xtrntr/cryptop2p/internal/metrics"
	"github.com/xtrntr/cryptop2p/internal/models"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"go.uber.org/ratelimit"
)

const (
	DefaultTimeout = 20 * time.Second

	maxErrorBody = 512
)

var (
	// MaxNumOfFailingRequests is the number of requests after which the
	// breaker may open.
	MaxNumOfFailingRequests = 10
	// FailingRatio is the failure ratio that opens the breaker.
	FailingRatio = 0.6
)

// Tatum talks to the Tatum REST API.
type Tatum struct {
	baseURL string
	apiKey  string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker
	limiter ratelimit.Limiter
	metrics *metrics.Metrics
}

// Option customizes a Tatum gateway.
type Option func(*Tatum)

// WithTimeout bounds every provider call.
func WithTimeout(d time.Duration) Option {
	return func(t *Tatum) { t.client.Timeout = d }
}

// WithRateLimit caps outgoing calls per second. Zero or less disables it.
func WithRateLimit(perSecond int) Option {
	return func(t *Tatum) {
		if perSecond > 0 {
			t.limiter = ratelimit.New(perSecond)
		}
	}
}

// WithHTTPClient replaces the HTTP client, keeping the configured timeout
// when the given client has none.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Tatum) {
		cc := *c
		if cc.Timeout == 0 {
			cc.Timeout = t.client.Timeout
		}
		t.client = &cc
	}
}

// WithMetrics records every provider call.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tatum) { t.metrics = m }
}

// NewTatum returns a live gateway against baseURL authenticated with apiKey.
func NewTatum(baseURL, apiKey string, opts ...Option) *Tatum {
	t := &Tatum{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: DefaultTimeout},
		cb:      newCircuitBreaker(),
		limiter: ratelimit.NewUnlimited(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func newCircuitBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "tatum",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return int(counts.Requests) > MaxNumOfFailingRequests && ratio >= FailingRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(log.Fields{"breaker": name, "from": from.String(), "to": to.String()}).
				Warn("gateway circuit breaker state changed")
		},
	})
}

// Submit posts signedTx to /v3/{chain}/broadcast.
func (t *Tatum) Submit(ctx context.Context, network, signedTx string) (string, error) {
	chain, err := ChainFor(network)
	if err != nil {
		return "", err
	}
	body, _ := json.Marshal(map[string]string{"txData": signedTx})

	res, err := t.do(ctx, http.MethodPost, fmt.Sprintf("/v3/%s/broadcast", chain), body)
	if err != nil {
		t.metrics.GatewayCall("broadcast", "error")
		return "", fmt.Errorf("%w: %v", models.ErrGateway, err)
	}
	if res.status >= http.StatusBadRequest {
		t.metrics.GatewayCall("broadcast", "rejected")
		return "", fmt.Errorf("%w: provider returned %d: %s", models.ErrGateway, res.status, res.snippet())
	}

	var payload map[string]any
	if err := json.Unmarshal(res.body, &payload); err != nil {
		t.metrics.GatewayCall("broadcast", "error")
		return "", fmt.Errorf("%w: invalid provider response: %v", models.ErrGateway, err)
	}
	for _, field := range []string{"txId", "txHash", "hash"} {
		if hash, ok := payload[field].(string); ok && hash != "" {
			t.metrics.GatewayCall("broadcast", "ok")
			return hash, nil
		}
	}
	t.metrics.GatewayCall("broadcast", "error")
	return "", fmt.Errorf("%w: no transaction hash in provider response: %s", models.ErrGateway, res.snippet())
}

// Status reads /v3/{chain}/transaction/{hash}. Provider error responses and
// unrecognizable payloads are reported as pending; only transport failures
// are returned as errors.
func (t *Tatum) Status(ctx context.Context, network, hash string) (models.TxStatus, error) {
	chain, err := ChainFor(network)
	if err != nil {
		return "", err
	}

	res, err := t.do(ctx, http.MethodGet, fmt.Sprintf("/v3/%s/transaction/%s", chain, hash), nil)
	if err != nil {
		t.metrics.GatewayCall("status", "error")
		return "", fmt.Errorf("%w: %v", models.ErrGateway, err)
	}
	if res.status >= http.StatusBadRequest {
		t.metrics.GatewayCall("status", "unavailable")
		return models.TxPending, nil
	}

	var payload map[string]any
	if err := json.Unmarshal(res.body, &payload); err != nil {
		t.metrics.GatewayCall("status", "unrecognized")
		return models.TxPending, nil
	}
	t.metrics.GatewayCall("status", "ok")
	return NormalizeStatus(payload), nil
}

type response struct {
	status int
	body   []byte
}

func (r *response) snippet() string {
	s := strings.TrimSpace(string(r.body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}

// errServer marks 5xx responses so they count as breaker failures.
type errServer struct {
	res *response
}

func (e *errServer) Error() string {
	return fmt.Sprintf("provider returned %d", e.res.status)
}

func (t *Tatum) do(ctx context.Context, method, path string, body []byte) (*response, error) {
	out, err := t.cb.Execute(func() (interface{}, error) {
		t.limiter.Take()

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("x-api-key", t.apiKey)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := t.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		res := &response{status: resp.StatusCode, body: data}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, &errServer{res}
		}
		return res, nil
	})
	if err != nil {
		var srvErr *errServer
		if errors.As(err, &srvErr) {
			return srvErr.res, nil
		}
		return nil, err
	}
	return out.(*response), nil
}
