package upstream

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

	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/smartfarm/internal/logger"
)

// defaultMaxBody bounds response bodies; images from the robot camera stay well below it.
const defaultMaxBody = 32 << 20

// ErrBodyTooLarge is returned instead of a truncated response body.
var ErrBodyTooLarge = errors.New("response body exceeds limit")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Name string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s upstream status %d", e.Name, e.Code)
	}
	return fmt.Sprintf("%s upstream status %d: %s", e.Name, e.Code, e.Body)
}

// NewBreaker opens after `fails` consecutive failures and half-opens after `open`.
func NewBreaker(name string, fails uint32, open time.Duration, log *logger.Logger) *gobreaker.CircuitBreaker {
	if fails == 0 {
		fails = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: open,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= fails
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnw("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// Upstream wraps HTTP calls to one service behind a circuit breaker.
type Upstream struct {
	name    string
	base    string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	header  http.Header
	maxBody int64
}

func New(name, base string, timeout time.Duration, breaker *gobreaker.CircuitBreaker) *Upstream {
	return &Upstream{
		name:    name,
		base:    strings.TrimRight(strings.TrimSpace(base), "/"),
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
		header:  http.Header{},
		maxBody: defaultMaxBody,
	}
}

// WithHeader adds a header sent on every request.
func (u *Upstream) WithHeader(key, value string) *Upstream {
	u.header.Set(key, value)
	return u
}

// WithMaxBody overrides the response size limit.
func (u *Upstream) WithMaxBody(n int64) *Upstream {
	if n > 0 {
		u.maxBody = n
	}
	return u
}

func (u *Upstream) Name() string { return u.name }

func (u *Upstream) URL(path string) string {
	if path == "" {
		return u.base
	}
	return u.base + "/" + strings.TrimLeft(path, "/")
}

// Do sends the request and returns the body of a 2xx response.
func (u *Upstream) Do(ctx context.Context, method, path string, body []byte, contentType string) ([]byte, error) {
	call := func() (interface{}, error) {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u.URL(path), rd)
		if err != nil {
			return nil, err
		}
		for k, vv := range u.header {
			for _, v := range vv {
				req.Header.Add(k, v)
			}
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		resp, err := u.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s request error: %w", u.name, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, u.maxBody+1))
		if err != nil {
			return nil, fmt.Errorf("%s read error: %w", u.name, err)
		}
		if int64(len(data)) > u.maxBody && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil, fmt.Errorf("%s %s %s: %w (%d bytes)", u.name, method, path, ErrBodyTooLarge, u.maxBody)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			snippet := string(data)
			if len(snippet) > 256 {
				snippet = snippet[:256]
			}
			return nil, &StatusError{Name: u.name, Code: resp.StatusCode, Body: strings.TrimSpace(snippet)}
		}
		return data, nil
	}

	var (
		out interface{}
		err error
	)
	if u.breaker != nil {
		out, err = u.breaker.Execute(call)
	} else {
		out, err = call()
	}
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%s %s %s: %w", u.name, method, path, err)
		}
		return nil, err
	}
	return out.([]byte), nil
}

// GetJSON performs a GET and decodes the JSON body into out.
func (u *Upstream) GetJSON(ctx context.Context, path string, out any) error {
	data, err := u.Do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s decode error: %w", u.name, err)
	}
	return nil
}

// PostJSON encodes in, posts it and decodes the response into out (if non-nil).
func (u *Upstream) PostJSON(ctx context.Context, path string, in, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s encode error: %w", u.name, err)
		}
		body = b
	}
	data, err := u.Do(ctx, http.MethodPost, path, body, "application/json")
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s decode error: %w", u.name, err)
	}
	return nil
}
