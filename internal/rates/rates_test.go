package rates

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/cryptop2p/internal/models"
)

type fakeProvider struct {
	calls  atomic.Int32
	status atomic.Int32
}

func (p *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.calls.Add(1)
	if status := p.status.Load(); status != 0 {
		w.WriteHeader(int(status))
		return
	}
	if r.URL.Path != "/simple/price" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	vs := r.URL.Query().Get("vs_currencies")
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"bitcoin": {"` + vs + `": 60000.5}, "tether": {"` + vs + `": 1}}`))
}

func newService(t *testing.T, p *fakeProvider) (*Service, *time.Time) {
	t.Helper()
	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)

	s, err := NewService(srv.URL, time.Minute, time.Second)
	require.NoError(t, err)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestService_Get(t *testing.T) {
	p := &fakeProvider{}
	s, _ := newService(t, p)

	quotes, err := s.Get(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 60000.5, quotes["bitcoin"]["usd"])
	assert.Equal(t, 1.0, quotes["tether"]["usd"])

	eur, err := s.Get(context.Background(), "EUR")
	require.NoError(t, err)
	assert.Equal(t, 60000.5, eur["bitcoin"]["eur"])
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestService_GetCachesForTTL(t *testing.T) {
	p := &fakeProvider{}
	s, now := newService(t, p)
	ctx := context.Background()

	_, err := s.Get(ctx, "usd")
	require.NoError(t, err)

	*now = now.Add(59 * time.Second)
	_, err = s.Get(ctx, "usd")
	require.NoError(t, err)
	assert.Equal(t, int32(1), p.calls.Load())

	*now = now.Add(time.Second)
	_, err = s.Get(ctx, "usd")
	require.NoError(t, err)
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestService_GetUpstreamError(t *testing.T) {
	p := &fakeProvider{}
	p.status.Store(http.StatusTooManyRequests)
	s, now := newService(t, p)
	ctx := context.Background()

	_, err := s.Get(ctx, "usd")
	assert.ErrorIs(t, err, models.ErrGateway)

	// failures are not cached
	p.status.Store(0)
	_, err = s.Get(ctx, "usd")
	require.NoError(t, err)

	// an expired entry is refreshed, not served stale, when upstream fails
	p.status.Store(http.StatusInternalServerError)
	*now = now.Add(2 * time.Minute)
	_, err = s.Get(ctx, "usd")
	assert.ErrorIs(t, err, models.ErrGateway)
}

func TestService_GetCancelledCaller(t *testing.T) {
	p := &fakeProvider{}
	s, _ := newService(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	quotes, err := s.Get(ctx, "usd")
	require.NoError(t, err)
	assert.Equal(t, 60000.5, quotes["bitcoin"]["usd"])
	assert.EqualValues(t, 1, p.calls.Load())

	_, err = s.Get(context.Background(), "usd")
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.calls.Load())
}

func TestService_GetInvalidCurrency(t *testing.T) {
	p := &fakeProvider{}
	s, _ := newService(t, p)

	for _, currency := range []string{"us", "usd&ids=x", "1234"} {
		_, err := s.Get(context.Background(), currency)
		assert.ErrorIs(t, err, models.ErrInvalidArgument, currency)
	}
	assert.Zero(t, p.calls.Load())
}

func TestService_GetConcurrent(t *testing.T) {
	p := &fakeProvider{}
	s, _ := newService(t, p)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			quotes, err := s.Get(context.Background(), "usd")
			assert.NoError(t, err)
			assert.Contains(t, quotes, "bitcoin")
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, p.calls.Load(), int32(10))
	assert.GreaterOrEqual(t, p.calls.Load(), int32(1))
}
