package broker

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RetryPolicy controls WithRetry. Attempts includes the first call.
type RetryPolicy struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
	Logger     log.FieldLogger
}

type retrying struct {
	next   Adapter
	policy RetryPolicy
}

// WithRetry re-sends requests whose result is Transient, doubling the wait
// between attempts. Permanent rejections and successes return immediately.
func WithRetry(next Adapter, p RetryPolicy) Adapter {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Logger == nil {
		p.Logger = log.StandardLogger()
	}
	return &retrying{next: next, policy: p}
}

func (r *retrying) ExecuteMarket(ctx context.Context, req OrderRequest) (Result, error) {
	wait := r.policy.Backoff
	var res Result
	for attempt := 1; ; attempt++ {
		var err error
		res, err = r.next.ExecuteMarket(ctx, req)
		if err != nil {
			return res, err
		}
		if res.Kind != Transient || attempt >= r.policy.Attempts {
			return res, nil
		}

		r.policy.Logger.WithFields(log.Fields{
			"decision_id": req.DecisionID,
			"attempt":     attempt,
			"status_code": res.StatusCode,
			"reason":      res.Reason,
		}).Warn("transient order rejection; retrying")

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return res, ctx.Err()
			case <-timer.C:
			}
			wait *= 2
			if r.policy.MaxBackoff > 0 && wait > r.policy.MaxBackoff {
				wait = r.policy.MaxBackoff
			}
		}
	}
}

// Connect forwards to the wrapped adapter.
func (r *retrying) Connect(ctx context.Context) error { return Connect(ctx, r.next) }

type limited struct {
	next    Adapter
	limiter *rate.Limiter
}

// WithRateLimit blocks each call until the limiter grants a token.
func WithRateLimit(next Adapter, l *rate.Limiter) Adapter {
	if l == nil {
		return next
	}
	return &limited{next: next, limiter: l}
}

func (l *limited) ExecuteMarket(ctx context.Context, req OrderRequest) (Result, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}
	return l.next.ExecuteMarket(ctx, req)
}

func (l *limited) Connect(ctx context.Context) error { return Connect(ctx, l.next) }
