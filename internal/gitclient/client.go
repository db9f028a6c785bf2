package gitclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/xela07ax/repogov-platform/internal/infra"
	"github.com/xela07ax/repogov-platform/internal/metrics"
	"github.com/xela07ax/repogov-platform/internal/resilience"
)

// Client — фасад над upstream API (GitHub REST/GraphQL). Каждый вызов
// проходит цепочку: ResponseCache (только GET) → RateLimiter.Acquire →
// Retrier(CircuitBreaker(transport)). Limiter и breaker принадлежат
// этому инстансу и не шарятся между разными удаленными сервисами.
type Client struct {
	baseURL    string
	graphqlURL string

	limiter *resilience.RateLimiter
	breaker *resilience.CircuitBreaker
	retrier *resilience.Retrier
	cache   *resilience.ResponseCache
	tr      *transport

	collector *metrics.Collector
	logger    *zap.Logger
}

// Request — один вызов REST API.
type Request struct {
	Method   string
	Path     string // "/orgs/acme/repos" либо абсолютный URL (пагинация)
	Query    url.Values
	Body     any
	CacheTTL time.Duration // >0 разрешает кэш; только для GET
}

func New(cfg infra.GitHubConfig, rcfg infra.ResilienceConfig, auth TokenSource, collector *metrics.Collector, zl *zap.Logger) *Client {
	logger := zl.With(zap.String("mod", "gitclient"))

	c := &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		graphqlURL: cfg.GraphQLURL,
		limiter:    resilience.NewRateLimiter(rcfg.RateCapacity, rcfg.RateRefillPerS),
		retrier: resilience.NewRetrier(resilience.RetryConfig{
			MaxRetries:  rcfg.MaxRetries,
			BackoffBase: rcfg.BackoffBase,
			MaxJitter:   rcfg.MaxJitter,
		}, logger),
		cache:     resilience.NewResponseCache(rcfg.CacheSize, rcfg.CacheTTL),
		tr:        newTransport(cfg.Timeout, auth),
		collector: collector,
		logger:    logger,
	}

	c.breaker = resilience.NewCircuitBreaker(resilience.BreakerConfig{
		Name:             "github-api",
		FailureThreshold: rcfg.CBFailureThreshold,
		FailureWindow:    rcfg.CBFailureWindow,
		ResetTimeout:     rcfg.CBResetTimeout,
		SuccessThreshold: rcfg.CBSuccessThreshold,
	}, logger, func(name string, from, to gobreaker.State) {
		c.collector.SetGauge("github_breaker_state", breakerStateValue(to),
			map[string]string{"breaker": name})
	})

	return c
}

// Do выполняет запрос через всю цепочку защиты. Ошибки различимы по типам:
// *CircuitOpenError (fail fast), *ThrottleError / *TransientError (бюджет
// ретраев исчерпан), *RequestError (4xx).
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	fullURL := c.buildURL(req)
	op := req.Method + " " + req.Path
	start := time.Now()

	cacheable := req.Method == http.MethodGet && req.CacheTTL > 0
	sig := ""
	if cacheable {
		sig = resilience.Signature(req.Method, fullURL)
		if cached, ok := c.cache.Get(sig); ok {
			c.collector.IncCounter("github_cache_hits_total", map[string]string{"path": req.Path})
			return &Response{StatusCode: http.StatusOK, Body: cached, Header: http.Header{}}, nil
		}
	}

	c.collector.IncCounter("github_requests_total",
		map[string]string{"method": req.Method, "path": req.Path})

	// Backpressure до транспорта: блокируемся на токене
	if err := c.limiter.Acquire(ctx, 1); err != nil {
		c.countErr("rate_limit_wait")
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var resp *Response
	err := c.retrier.Do(ctx, func() error {
		res, err := c.breaker.Do(func() (any, error) {
			return c.tr.roundTrip(ctx, req.Method, fullURL, req.Body)
		})
		if err != nil {
			return err
		}
		resp = res.(*Response)
		return nil
	})

	status := "success"
	if err != nil {
		status = "failed"
		c.countErr(errKind(err))
	}
	c.collector.ObserveHistogram("github_request_duration_seconds",
		time.Since(start).Seconds(),
		map[string]string{"method": req.Method, "status": status})

	if err != nil {
		c.logger.Warn("api call failed",
			zap.String("op", op),
			zap.String("kind", errKind(err)),
			zap.Error(err),
		)
		return nil, err
	}

	if cacheable {
		c.cache.Set(sig, resp.Body, req.CacheTTL)
	}
	return resp, nil
}

// GetJSON — Do + декодирование тела.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, ttl time.Duration, out any) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query, CacheTTL: ttl})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// PurgeCache сбрасывает response cache (после мутаций затронутых ресурсов).
func (c *Client) PurgeCache() { c.cache.Purge() }

func (c *Client) buildURL(req Request) string {
	if strings.HasPrefix(req.Path, "http://") || strings.HasPrefix(req.Path, "https://") {
		return req.Path
	}
	u := c.baseURL + req.Path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}
	return u
}

func (c *Client) countErr(kind string) {
	c.collector.IncCounter("github_errors_total", map[string]string{"type": kind})
}

// errKind — метка типа ошибки для метрик.
func errKind(err error) string {
	var (
		throttle  *resilience.ThrottleError
		transient *resilience.TransientError
		open      *resilience.CircuitOpenError
		request   *resilience.RequestError
	)
	switch {
	case errors.As(err, &open):
		return "circuit_open"
	case errors.As(err, &throttle):
		return "throttled"
	case errors.As(err, &transient):
		return "transient"
	case errors.As(err, &request):
		return "client_request"
	default:
		return "other"
	}
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}
