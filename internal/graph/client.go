package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL      = "https://graph.facebook.com"
	DefaultGraphVersion = "v25.0"
	DefaultRequestDelay = 50 * time.Millisecond
	DefaultHTTPTimeout  = 30 * time.Second
)

type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// Client talks to the Graph API. One client serves one credential; its
// limiter spaces consecutive requests by RequestDelay.
type Client struct {
	BaseURL      string
	HTTP         HTTPClient
	Retry        RetryPolicy
	RequestDelay time.Duration
	Wait         func(context.Context, time.Duration) error
	UserAgent    string

	// OnAttempt, when set, observes every attempt outcome ("ok" or the retry class).
	OnAttempt func(outcome string)
	// OnRetry, when set, observes every scheduled retry.
	OnRetry func(class RetryClass, attempt int, delay time.Duration)

	limiterMu    sync.Mutex
	limiter      *rate.Limiter
	limiterDelay time.Duration
}

type Request struct {
	Method      string
	Path        string
	Version     string
	Query       map[string]string
	Form        map[string]string
	AccessToken string
	AppSecret   string
}

type Response struct {
	StatusCode int
	Body       map[string]any
	Raw        []byte
	Headers    http.Header
	RateLimit  RateLimit
}

type RateLimit struct {
	AppUsage         map[string]any `json:"app_usage,omitempty"`
	AdAccountUsage   map[string]any `json:"ad_account_usage,omitempty"`
	BusinessUseCase  map[string]any `json:"business_use_case_usage,omitempty"`
	InsightsThrottle map[string]any `json:"insights_throttle,omitempty"`
}

func NewClient(httpClient HTTPClient, baseURL string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		BaseURL:      strings.TrimSuffix(baseURL, "/"),
		HTTP:         httpClient,
		Retry:        DefaultRetryPolicy(),
		RequestDelay: DefaultRequestDelay,
		Wait:         SleepContext,
		UserAgent:    "adplan/1.0",
	}
}

func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	if req.Path == "" {
		return nil, errors.New("graph request path is required")
	}
	version := req.Version
	if version == "" {
		version = DefaultGraphVersion
	}
	policy := c.Retry.withDefaults()
	state := attemptState{}

	for {
		state.attempt++
		if err := c.pace(ctx); err != nil {
			return nil, err
		}
		response, err := c.doOnce(ctx, method, version, req)
		if err == nil {
			c.observeAttempt("ok")
			return response, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		class := policy.Classify(err)
		c.observeAttempt(class.String())
		if class == ClassFatal {
			return nil, err
		}
		if state.attempt >= policy.MaxAttempts {
			return nil, &RetryExhaustedError{Attempts: state.attempt, Last: err}
		}

		delay := policy.delay(state, class)
		if c.OnRetry != nil {
			c.OnRetry(class, state.attempt, delay)
		}
		if err := c.wait(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (c *Client) pace(ctx context.Context) error {
	if c.RequestDelay <= 0 {
		return nil
	}
	c.limiterMu.Lock()
	if c.limiter == nil || c.limiterDelay != c.RequestDelay {
		c.limiter = rate.NewLimiter(rate.Every(c.RequestDelay), 1)
		c.limiterDelay = c.RequestDelay
	}
	limiter := c.limiter
	c.limiterMu.Unlock()
	if err := limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		// Wait fails early when the next slot falls after the deadline.
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return nil
}

func (c *Client) wait(ctx context.Context, d time.Duration) error {
	if c.Wait == nil {
		return SleepContext(ctx, d)
	}
	return c.Wait(ctx, d)
}

func (c *Client) observeAttempt(outcome string) {
	if c.OnAttempt != nil {
		c.OnAttempt(outcome)
	}
}

func (c *Client) doOnce(ctx context.Context, method string, version string, req Request) (*Response, error) {
	endpoint, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse graph base url: %w", err)
	}
	endpoint.Path = path.Join(endpoint.Path, version, strings.TrimPrefix(req.Path, "/"))

	query := url.Values{}
	for key, value := range req.Query {
		query.Set(key, value)
	}

	bodyReader := io.Reader(nil)
	if method == http.MethodGet || method == http.MethodDelete {
		if err := signValues(query, req); err != nil {
			return nil, err
		}
	} else {
		form := url.Values{}
		for key, value := range req.Form {
			form.Set(key, value)
		}
		if err := signValues(form, req); err != nil {
			return nil, err
		}
		bodyReader = bytes.NewBufferString(form.Encode())
	}
	endpoint.RawQuery = query.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build graph request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.UserAgent)
	if method != http.MethodGet && method != http.MethodDelete {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	httpRes, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, &TransientError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer httpRes.Body.Close()

	body, err := io.ReadAll(httpRes.Body)
	if err != nil {
		return nil, &TransientError{Message: fmt.Sprintf("read response: %v", err)}
	}

	parsed := map[string]any{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &parsed); err != nil {
			if httpRes.StatusCode >= 500 {
				return nil, &TransientError{
					Message:    fmt.Sprintf("transient status code %d with non-JSON body", httpRes.StatusCode),
					StatusCode: httpRes.StatusCode,
				}
			}
			return nil, fmt.Errorf("decode response JSON: %w", err)
		}
	}

	if apiErr := parseAPIError(httpRes.StatusCode, parsed); apiErr != nil {
		return nil, apiErr
	}
	if httpRes.StatusCode >= 500 || httpRes.StatusCode == http.StatusTooManyRequests {
		return nil, &TransientError{
			Message:    fmt.Sprintf("transient status code %d", httpRes.StatusCode),
			StatusCode: httpRes.StatusCode,
		}
	}
	if httpRes.StatusCode < 200 || httpRes.StatusCode >= 300 {
		return nil, fmt.Errorf("request failed with status %d", httpRes.StatusCode)
	}

	return &Response{
		StatusCode: httpRes.StatusCode,
		Body:       parsed,
		Raw:        body,
		Headers:    httpRes.Header.Clone(),
		RateLimit:  parseRateLimit(httpRes.Header),
	}, nil
}

func parseRateLimit(headers http.Header) RateLimit {
	return RateLimit{
		AppUsage:         parseUsageHeader(headers.Get("X-App-Usage")),
		AdAccountUsage:   parseUsageHeader(headers.Get("X-Ad-Account-Usage")),
		BusinessUseCase:  parseUsageHeader(headers.Get("X-Business-Use-Case-Usage")),
		InsightsThrottle: parseUsageHeader(headers.Get("X-FB-Ads-Insights-Throttle")),
	}
}

func parseUsageHeader(value string) map[string]any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parsed := map[string]any{}
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		return map[string]any{
			"raw": value,
		}
	}
	return parsed
}

func parseAPIError(statusCode int, payload map[string]any) *APIError {
	rawErr, ok := payload["error"]
	if !ok {
		if statusCode == http.StatusTooManyRequests {
			return &APIError{
				Type:       "rate_limit",
				Code:       http.StatusTooManyRequests,
				Message:    "rate limited",
				StatusCode: statusCode,
				Retryable:  true,
			}
		}
		return nil
	}
	errMap, ok := rawErr.(map[string]any)
	if !ok {
		return &APIError{
			Type:       "unknown",
			Message:    "unparseable error payload",
			StatusCode: statusCode,
			Retryable:  statusCode >= 500 || statusCode == http.StatusTooManyRequests,
		}
	}

	errCode := intFromAny(errMap["code"])
	subcode := intFromAny(errMap["error_subcode"])
	message, _ := errMap["message"].(string)
	errType, _ := errMap["type"].(string)
	trace, _ := errMap["fbtrace_id"].(string)
	isTransient, _ := errMap["is_transient"].(bool)

	return &APIError{
		Type:         errType,
		Code:         errCode,
		ErrorSubcode: subcode,
		Message:      message,
		FBTraceID:    trace,
		IsTransient:  isTransient,
		StatusCode:   statusCode,
		Retryable:    isTransient || ShouldRetry(statusCode, errCode),
	}
}

func intFromAny(value any) int {
	switch typed := value.(type) {
	case float64:
		return int(typed)
	case int:
		return typed
	case string:
		parsed, err := strconv.Atoi(typed)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}
