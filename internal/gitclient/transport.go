package gitclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/xela07ax/repogov-platform/internal/resilience"
)

// Response — сырой ответ апстрима. Заголовки нужны пагинации (Link)
// и разбору rate-limit полей.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// transport — нижний слой: один HTTP-вызов + классификация исхода в
// таксономию resilience. Выше него живут retry/breaker/limiter.
type transport struct {
	http  *http.Client
	auth  TokenSource
	agent string
}

func newTransport(timeout time.Duration, auth TokenSource) *transport {
	return &transport{
		http:  &http.Client{Timeout: timeout},
		auth:  auth,
		agent: "repogov-syncer",
	}
}

func (t *transport) roundTrip(ctx context.Context, method, url string, body any) (*Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, &resilience.ValidationError{Field: "body", Reason: "not serializable"}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, &resilience.ValidationError{Field: "url", Reason: err.Error()}
	}

	token, err := t.auth.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve credentials: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", t.agent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.http.Do(req)
	if err != nil {
		// Сетевой сбой/таймаут: ретраебельно
		return nil, &resilience.TransientError{Cause: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, &resilience.TransientError{Cause: err}
	}

	return classify(&Response{
		StatusCode: resp.StatusCode,
		Body:       data,
		Header:     resp.Header,
	})
}

// classify переводит HTTP-статусы в типы ошибок ядра.
func classify(r *Response) (*Response, error) {
	switch {
	case r.StatusCode >= 200 && r.StatusCode < 300:
		return r, nil

	case r.StatusCode == http.StatusTooManyRequests,
		r.StatusCode == http.StatusForbidden && r.Header.Get("X-RateLimit-Remaining") == "0":
		// Primary или secondary rate limit GitHub
		return nil, &resilience.ThrottleError{
			RetryAfter: retryAfter(r.Header),
			Cause:      fmt.Errorf("upstream status %d", r.StatusCode),
		}

	case r.StatusCode >= 500:
		return nil, &resilience.TransientError{
			Cause: fmt.Errorf("upstream status %d", r.StatusCode),
		}

	default:
		return nil, &resilience.RequestError{
			StatusCode: r.StatusCode,
			Body:       string(r.Body),
		}
	}
}

// retryAfter вычитывает задержку из Retry-After (секунды) или
// X-RateLimit-Reset (unix epoch). Нет ни того ни другого — пусть решает бэкофф.
func retryAfter(h http.Header) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			if d := time.Until(time.Unix(epoch, 0)); d > 0 {
				return d
			}
		}
	}
	return 0
}
