package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/proxy"

	"linksave/internal/apperr"
)

// ErrHTMLResponse — API вернул HTML вместо JSON (обычно страница ошибки после редиректа).
var ErrHTMLResponse = errors.New("html response where json expected")

const maxBodyBytes = 8 << 20

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// RetryConfig — экспоненциальный backoff для одного HTTP-вызова провайдера.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    30 * time.Second,
	}
}

// Delay — пауза перед попыткой attempt (1 — первая повторная).
func (r RetryConfig) Delay(attempt int) time.Duration {
	d := float64(r.BaseDelay) * math.Pow(r.Multiplier, float64(attempt-1))
	if r.MaxDelay > 0 && d > float64(r.MaxDelay) {
		d = float64(r.MaxDelay)
	}
	return time.Duration(d)
}

type ClientConfig struct {
	Timeout   time.Duration // на одну попытку
	ProxyURL  string
	Retry     RetryConfig
	UserAgent string
}

// Client — HTTP-клиент провайдеров: таймаут на попытку, ретраи, перевод ошибок в apperr.
// Один экземпляр создаётся при старте и передаётся всем провайдерам.
type Client struct {
	http      *http.Client
	retry     RetryConfig
	timeout   time.Duration
	userAgent string
	platform  string
	log       *zap.Logger

	// sleep подменяется в тестах
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg ClientConfig, log *zap.Logger) *Client {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Retry.Multiplier <= 0 {
		cfg.Retry.Multiplier = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if log == nil {
		log = zap.NewNop()
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	if cfg.ProxyURL != "" {
		if err := configureProxy(transport, cfg.ProxyURL); err != nil {
			log.Warn("failed to configure proxy, continuing without it",
				zap.String("proxy", cfg.ProxyURL), zap.Error(err))
		}
	}

	return &Client{
		http:      &http.Client{Transport: transport},
		retry:     cfg.Retry,
		timeout:   cfg.Timeout,
		userAgent: cfg.UserAgent,
		log:       log,
		sleep:     sleepContext,
	}
}

// For возвращает копию клиента, помечающую ошибки платформой.
func (c *Client) For(platform string) *Client {
	cp := *c
	cp.platform = platform
	cp.log = c.log.With(zap.String("platform", platform))
	return &cp
}

// HTTP — нижележащий *http.Client (для библиотек со своим клиентом).
func (c *Client) HTTP() *http.Client {
	return c.http
}

func configureProxy(transport *http.Transport, proxyURL string) error {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("invalid proxy url: %w", err)
	}
	switch parsed.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsed)
	case "socks5", "socks5h":
		var auth *proxy.Auth
		if parsed.User != nil {
			pass, _ := parsed.User.Password()
			auth = &proxy.Auth{User: parsed.User.Username(), Password: pass}
		}
		dialer, err := proxy.SOCKS5("tcp", parsed.Host, auth, proxy.Direct)
		if err != nil {
			return fmt.Errorf("failed to create socks5 dialer: %w", err)
		}
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	default:
		return fmt.Errorf("unsupported proxy scheme: %s", parsed.Scheme)
	}
	return nil
}

// GetJSON выполняет GET и декодирует JSON в out. Числа в map[string]any приходят как json.Number.
func (c *Client) GetJSON(ctx context.Context, rawURL string, headers map[string]string, out any) error {
	body, err := c.Do(ctx, http.MethodGet, rawURL, headers, nil)
	if err != nil {
		return err
	}
	return c.decodeJSON(body, out)
}

// PostJSON отправляет in как JSON и декодирует ответ в out.
func (c *Client) PostJSON(ctx context.Context, rawURL string, headers map[string]string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	h := map[string]string{"Content-Type": "application/json"}
	for k, v := range headers {
		h[k] = v
	}
	body, err := c.Do(ctx, http.MethodPost, rawURL, h, payload)
	if err != nil {
		return err
	}
	return c.decodeJSON(body, out)
}

func (c *Client) decodeJSON(body []byte, out any) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '<' {
		return c.fail(apperr.ReasonParse, ErrHTMLResponse)
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return c.fail(apperr.ReasonParse, fmt.Errorf("decode json: %w", err))
	}
	return nil
}

// Do выполняет запрос с ретраями:
//   - 2xx — успех;
//   - 403 — forbidden, без повторов;
//   - 404/410 — not_found, без повторов;
//   - 429 — пауза по Retry-After, если он есть, иначе по экспоненте; Retry-After больше MaxDelay — сразу rate_limited;
//   - прочие ответы и сетевые ошибки (включая таймаут попытки) — повтор до лимита, затем network.
func (c *Client) Do(ctx context.Context, method, rawURL string, headers map[string]string, payload []byte) ([]byte, error) {
	var lastErr *apperr.ResolutionError
	var wait time.Duration

	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			if wait <= 0 {
				wait = c.retry.Delay(attempt)
			}
			c.log.Debug("retrying request",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt+1),
				zap.Duration("wait", wait),
			)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, c.fail(apperr.ReasonNetwork, err)
			}
			wait = 0
		}

		body, status, header, err := c.once(ctx, method, rawURL, headers, payload)
		if err != nil {
			if ctx.Err() != nil {
				return nil, c.fail(apperr.ReasonNetwork, ctx.Err())
			}
			lastErr = c.fail(apperr.ReasonNetwork, err)
			continue
		}

		switch {
		case status >= 200 && status < 300:
			return body, nil
		case status == http.StatusForbidden:
			lastErr = c.fail(apperr.ReasonForbidden, fmt.Errorf("status %d", status))
		case status == http.StatusNotFound || status == http.StatusGone:
			lastErr = c.fail(apperr.ReasonNotFound, fmt.Errorf("status %d", status))
		case status == http.StatusTooManyRequests:
			wait = parseRetryAfter(header.Get("Retry-After"))
			lastErr = c.fail(apperr.ReasonRateLimited, fmt.Errorf("status %d", status))
			lastErr.RetryAfter = wait
			if c.retry.MaxDelay > 0 && wait > c.retry.MaxDelay {
				c.log.Info("rate limit hint exceeds max delay, giving up",
					zap.String("url", rawURL), zap.Duration("retry_after", wait))
				return nil, lastErr
			}
		default:
			lastErr = c.fail(apperr.ReasonNetwork, fmt.Errorf("status %d", status))
		}
		if !lastErr.Retryable() {
			return nil, lastErr
		}
	}

	if lastErr == nil {
		lastErr = c.fail(apperr.ReasonNetwork, errors.New("no attempts made"))
	}
	if lastErr.Reason == apperr.ReasonRateLimited {
		return nil, lastErr
	}
	lastErr.Err = fmt.Errorf("after %d attempts: %w", c.retry.MaxAttempts, lastErr.Err)
	return nil, lastErr
}

func (c *Client) once(ctx context.Context, method, rawURL string, headers map[string]string, payload []byte) ([]byte, int, http.Header, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, 0, nil, fmt.Errorf("read body: %w", err)
	}
	return data, resp.StatusCode, resp.Header, nil
}

func (c *Client) fail(reason apperr.Reason, err error) *apperr.ResolutionError {
	return apperr.NewResolution(c.platform, reason, err)
}

// parseRetryAfter понимает секунды и HTTP-дату. Ноль — подсказки нет.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
