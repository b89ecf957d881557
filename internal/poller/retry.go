package poller

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/artificers/ingest/internal/model"
	"github.com/artificers/ingest/internal/teller"
)

// RetryPolicy bounds the retries of one remote call.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy is three attempts, one second apart, doubling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = p.Multiplier
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.RandomizationFactor = 0
	b.MaxInterval = 24 * time.Hour
	b.MaxElapsedTime = 0
	b.Reset()

	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// retry runs op under the policy. Cancellation and non-retryable errors
// end it at once.
func (p RetryPolicy) retry(ctx context.Context, log zerolog.Logger, what string, op func() error) error {
	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !teller.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", wait).Msg(what + " failed, retrying")
	}
	err := backoff.RetryNotify(wrapped, p.backOff(ctx), notify)
	if err != nil && ctx.Err() == nil {
		log.Error().Err(err).Int("attempts", attempt).Msg(what + " failed")
	}
	return err
}

func (e *Engine) fetchPage(ctx context.Context, log zerolog.Logger, acct model.Account, cursor string) (teller.Page, error) {
	token := e.tokenFor(acct.ExternalID)
	var page teller.Page
	err := e.deps.Retry.retry(ctx, log, "page fetch", func() error {
		p, err := e.deps.API.ListTransactions(ctx, token, acct.ExternalID, cursor)
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	return page, err
}

func (e *Engine) listAccounts(ctx context.Context, log zerolog.Logger, token string) ([]teller.Account, error) {
	var accts []teller.Account
	err := e.deps.Retry.retry(ctx, log, "account listing", func() error {
		a, err := e.deps.API.ListAccounts(ctx, token)
		if err != nil {
			return err
		}
		accts = a
		return nil
	})
	return accts, err
}
