package graph

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(server *httptest.Server) (*Client, *[]time.Duration) {
	client := NewClient(server.Client(), server.URL)
	client.RequestDelay = 0
	waits := &[]time.Duration{}
	var mu sync.Mutex
	client.Wait = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		*waits = append(*waits, d)
		mu.Unlock()
		return nil
	}
	return client, waits
}

func TestShouldRetryClassifier(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		code   int
		want   bool
	}{
		{status: 429, code: 0, want: true},
		{status: 500, code: 0, want: true},
		{status: 400, code: 4, want: true},
		{status: 400, code: 17, want: true},
		{status: 400, code: 32, want: true},
		{status: 400, code: 613, want: true},
		{status: 400, code: 80000, want: true},
		{status: 400, code: 100, want: false},
		{status: 403, code: 190, want: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			t.Parallel()
			got := ShouldRetry(tc.status, tc.code)
			if got != tc.want {
				t.Fatalf("ShouldRetry(%d, %d)=%v want=%v", tc.status, tc.code, got, tc.want)
			}
		})
	}
}

func TestDefaultClassifier(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want RetryClass
	}{
		{name: "rate limit code", err: &APIError{StatusCode: 400, Code: 613, Retryable: true}, want: ClassRateLimit},
		{name: "http 429", err: &APIError{StatusCode: 429, Retryable: true}, want: ClassRateLimit},
		{name: "marked transient", err: &APIError{StatusCode: 400, Code: 2, IsTransient: true, Retryable: true}, want: ClassTransient},
		{name: "server error", err: &APIError{StatusCode: 503, Code: 1, Retryable: true}, want: ClassTransient},
		{name: "permission", err: &APIError{StatusCode: 400, Code: 200}, want: ClassFatal},
		{name: "network", err: &TransientError{Message: "send request: timeout"}, want: ClassTransient},
		{name: "plain", err: errors.New("boom"), want: ClassFatal},
	}
	for _, tc := range cases {
		if got := DefaultClassifier(tc.err); got != tc.want {
			t.Fatalf("%s: classifier=%s want=%s", tc.name, got, tc.want)
		}
	}
}

func TestRetryPolicyDelayDoublesAndCaps(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: 350 * time.Millisecond, RateLimitCooldown: time.Minute}.withDefaults()
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 350 * time.Millisecond, 350 * time.Millisecond}
	for i, expected := range want {
		if got := policy.delay(attemptState{attempt: i + 1}, ClassTransient); got != expected {
			t.Fatalf("attempt %d delay=%s want=%s", i+1, got, expected)
		}
	}
	if got := policy.delay(attemptState{attempt: 1}, ClassRateLimit); got != time.Minute {
		t.Fatalf("rate limit delay=%s want=1m", got)
	}
}

func TestClientRetriesOnMetaRateLimitCode(t *testing.T) {
	t.Parallel()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := atomic.AddInt32(&calls, 1)
		if count == 1 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"Rate limit","type":"OAuthException","code":613,"error_subcode":0,"fbtrace_id":"abc"}}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":[{"id":"1"}]}`))
	}))
	defer server.Close()

	client, waits := newTestClient(server)
	client.Retry.RateLimitCooldown = 42 * time.Second

	resp, err := client.Do(context.Background(), Request{
		Method:  http.MethodGet,
		Path:    "/act_123/insights",
		Version: "v25.0",
	})
	if err != nil {
		t.Fatalf("client do: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", calls)
	}
	if len(*waits) != 1 || (*waits)[0] != 42*time.Second {
		t.Fatalf("expected one rate limit cooldown wait, got %v", *waits)
	}
}

func TestClientRetriesTransientFlagWithBackoff(t *testing.T) {
	t.Parallel()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"An unexpected error has occurred","type":"OAuthException","code":2,"is_transient":true}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	client, waits := newTestClient(server)
	client.Retry.BaseDelay = 10 * time.Millisecond
	client.Retry.MaxDelay = time.Second

	if _, err := client.Do(context.Background(), Request{Path: "act_1/insights"}); err != nil {
		t.Fatalf("client do: %v", err)
	}
	if got := *waits; len(got) != 2 || got[0] != 10*time.Millisecond || got[1] != 20*time.Millisecond {
		t.Fatalf("unexpected backoff waits %v", got)
	}
}

func TestClientReturnsRetryExhaustedAfterCeiling(t *testing.T) {
	t.Parallel()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"busy","type":"OAuthException","code":1}}`))
	}))
	defer server.Close()

	client, _ := newTestClient(server)
	client.Retry.MaxAttempts = 3

	_, err := client.Do(context.Background(), Request{Path: "act_1/insights"})
	var exhausted *RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected RetryExhaustedError, got %T %v", err, err)
	}
	if exhausted.Attempts != 3 || atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("unexpected attempts: error=%d server=%d", exhausted.Attempts, calls)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected wrapped api error, got %v", err)
	}
}

func TestClientNormalizesGraphError(t *testing.T) {
	t.Parallel()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Unsupported get request","type":"GraphMethodException","code":100,"error_subcode":33,"fbtrace_id":"trace-1"}}`))
	}))
	defer server.Close()

	client, _ := newTestClient(server)

	_, err := client.Do(context.Background(), Request{
		Method:  http.MethodGet,
		Path:    "/bad-path",
		Version: "v25.0",
	})
	if err == nil {
		t.Fatal("expected graph error")
	}

	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != 100 || apiErr.ErrorSubcode != 33 || apiErr.FBTraceID != "trace-1" {
		t.Fatalf("unexpected error mapping: %#v", apiErr)
	}
	if apiErr.Retryable {
		t.Fatalf("expected non-retryable error")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("fatal errors must not be retried, got %d calls", calls)
	}
}

func TestClientSignsRequestsWithAppSecretProof(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("access_token"); got != "token-1" {
			t.Errorf("unexpected access token %q", got)
		}
		if got := r.URL.Query().Get("appsecret_proof"); strings.TrimSpace(got) == "" {
			t.Error("expected appsecret_proof query parameter")
		}
		w.Header().Set("X-Ad-Account-Usage", `{"acc_id_util_pct":12}`)
		_, _ = w.Write([]byte(`{"id":"act_1"}`))
	}))
	defer server.Close()

	client, _ := newTestClient(server)
	resp, err := client.Do(context.Background(), Request{
		Path:        "act_1",
		AccessToken: "token-1",
		AppSecret:   "secret-1",
	})
	if err != nil {
		t.Fatalf("client do: %v", err)
	}
	if resp.RateLimit.AdAccountUsage["acc_id_util_pct"] != float64(12) {
		t.Fatalf("unexpected rate limit usage %#v", resp.RateLimit)
	}
}

func TestClientStopsWhenContextCanceledDuringBackoff(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(server.Client(), server.URL)
	client.RequestDelay = 0
	client.Retry.RateLimitCooldown = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	client.OnRetry = func(RetryClass, int, time.Duration) { cancel() }

	_, err := client.Do(ctx, Request{Path: "act_1/insights"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestClientSpacesRequestsByRequestDelay(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(server.Client(), server.URL)
	client.RequestDelay = 40 * time.Millisecond

	started := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := client.Do(context.Background(), Request{Path: "me"}); err != nil {
			t.Fatalf("client do: %v", err)
		}
	}
	if elapsed := time.Since(started); elapsed < 75*time.Millisecond {
		t.Fatalf("expected requests to be spaced by the limiter, took %s", elapsed)
	}
}

func TestClientReportsDeadlineWhenPacingWouldOverrun(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(server.Client(), server.URL)
	client.RequestDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := client.Do(ctx, Request{Path: "me"}); err != nil {
		t.Fatalf("first call uses the initial token: %v", err)
	}
	started := time.Now()
	_, err := client.Do(ctx, Request{Path: "me"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("pacing should fail without waiting, took %s", elapsed)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected 1 request, got %d", got)
	}
}
