package adapters

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"
)

const (
	defaultFetchAttempts   = 3
	defaultFetchRetryDelay = 200 * time.Millisecond
	maxFetchRetryDelay     = 2 * time.Second
)

// fetchRetry controls how often a GET is retried on transport errors,
// 5xx and 429 responses. Other statuses are returned to the caller.
type fetchRetry struct {
	Attempts  int
	BaseDelay time.Duration
}

func (r fetchRetry) normalized() fetchRetry {
	if r.Attempts <= 0 {
		r.Attempts = defaultFetchAttempts
	}
	if r.BaseDelay <= 0 {
		r.BaseDelay = defaultFetchRetryDelay
	}
	return r
}

func (r fetchRetry) delay(attempt int) time.Duration {
	delay := r.BaseDelay * time.Duration(1<<attempt)
	if delay > maxFetchRetryDelay {
		delay = maxFetchRetryDelay
	}
	jitter := time.Duration(time.Now().UnixNano() % int64(delay/2+1))
	return delay + jitter
}

type basicAuth struct {
	User     string
	Password string
}

func fetchWithRetry(ctx context.Context, client *http.Client, url string, auth basicAuth, retry fetchRetry) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	retry = retry.normalized()
	var lastErr error
	for attempt := 0; attempt < retry.Attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("invalid url %s", url)).
				WithCause(err)
		}
		if auth.User != "" || auth.Password != "" {
			req.SetBasicAuth(auth.User, auth.Password)
		}
		resp, err := client.Do(req)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, errbuilder.New().
					WithCode(errbuilder.CodeInternal).
					WithMsg("request canceled").
					WithCause(ctx.Err())
			}
			lastErr = err
		case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("status=%d", resp.StatusCode)
		default:
			return resp, nil
		}
		if attempt == retry.Attempts-1 {
			break
		}
		wait := retry.delay(attempt)
		log.Ctx(ctx).Debug().Err(lastErr).Str("url", url).Dur("wait", wait).Msg("retrying download")
		select {
		case <-ctx.Done():
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("request canceled").
				WithCause(ctx.Err())
		case <-time.After(wait):
		}
	}
	return nil, errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg(fmt.Sprintf("failed to download %s", url)).
		WithCause(lastErr)
}
