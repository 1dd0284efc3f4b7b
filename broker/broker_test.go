package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type scripted struct {
	results []Result
	calls   int
}

func (s *scripted) ExecuteMarket(ctx context.Context, req OrderRequest) (Result, error) {
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	return s.results[i], nil
}

func TestWithRetry(t *testing.T) {
	t.Parallel()

	ok := Accept(Fill{DecisionID: "D1", Units: 10}, "B1")
	busy := Reject(Transient, 503, "busy")
	bad := Reject(Permanent, 400, "bad units")

	tests := []struct {
		name      string
		results   []Result
		attempts  int
		wantCalls int
		wantKind  Kind
	}{
		{"success first", []Result{ok}, 3, 1, Success},
		{"transient then success", []Result{busy, busy, ok}, 3, 3, Success},
		{"transient exhausted", []Result{busy, busy, busy, ok}, 2, 2, Transient},
		{"permanent never retried", []Result{bad, ok}, 5, 1, Permanent},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := &scripted{results: tt.results}
			a := WithRetry(s, RetryPolicy{Attempts: tt.attempts})

			res, err := a.ExecuteMarket(context.Background(), OrderRequest{DecisionID: "D1"})
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, res.Kind)
			assert.Equal(t, tt.wantCalls, s.calls)
			if res.Accepted {
				require.NotNil(t, res.Fill)
			} else {
				assert.Nil(t, res.Fill)
			}
		})
	}
}

func TestWithRetryStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	a := WithRetry(AdapterFunc(func(context.Context, OrderRequest) (Result, error) {
		calls++
		cancel()
		return Reject(Transient, 429, "slow down"), nil
	}), RetryPolicy{Attempts: 5, Backoff: time.Hour})

	res, err := a.ExecuteMarket(ctx, OrderRequest{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, res.Transient())
	assert.Equal(t, 1, calls)
}

func TestWithRetryPropagatesAdapterError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	a := WithRetry(AdapterFunc(func(context.Context, OrderRequest) (Result, error) {
		return Result{}, boom
	}), RetryPolicy{Attempts: 3})

	_, err := a.ExecuteMarket(context.Background(), OrderRequest{})
	assert.ErrorIs(t, err, boom)
}

func TestWithRateLimit(t *testing.T) {
	t.Parallel()

	calls := 0
	inner := AdapterFunc(func(context.Context, OrderRequest) (Result, error) {
		calls++
		return Accept(Fill{}, ""), nil
	})
	_, wrapped := WithRateLimit(inner, nil).(*limited)
	assert.False(t, wrapped, "nil limiter leaves the adapter unwrapped")

	a := WithRateLimit(inner, rate.NewLimiter(rate.Every(time.Hour), 1))
	_, err := a.ExecuteMarket(context.Background(), OrderRequest{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = a.ExecuteMarket(ctx, OrderRequest{})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

type connecting struct {
	AdapterFunc
	connected bool
}

func (c *connecting) Connect(context.Context) error {
	c.connected = true
	return nil
}

func TestConnectThroughDecorators(t *testing.T) {
	t.Parallel()

	c := &connecting{AdapterFunc: func(context.Context, OrderRequest) (Result, error) { return Result{}, nil }}
	a := WithRateLimit(WithRetry(c, RetryPolicy{}), rate.NewLimiter(rate.Inf, 1))
	require.NoError(t, Connect(context.Background(), a))
	assert.True(t, c.connected)

	assert.NoError(t, Connect(context.Background(), AdapterFunc(nil)))
}
