package insights

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bilalbayram/adplan/internal/domain"
	"github.com/bilalbayram/adplan/internal/graph"
)

func newTestFetcher(server *httptest.Server) (*Fetcher, *[]time.Duration) {
	client := graph.NewClient(server.Client(), server.URL)
	client.RequestDelay = 0
	client.Wait = func(context.Context, time.Duration) error { return nil }

	fetcher := New(client, nil)
	fetcher.Now = func() time.Time { return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) }
	waits := &[]time.Duration{}
	var mu sync.Mutex
	fetcher.Wait = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		*waits = append(*waits, d)
		mu.Unlock()
		return nil
	}
	return fetcher, waits
}

func mustDate(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := domain.ParseDate(value)
	if err != nil {
		t.Fatalf("parse date: %v", err)
	}
	return parsed
}

func TestChunksSplitsInclusiveRange(t *testing.T) {
	t.Parallel()

	chunks := Chunks(mustDate(t, "2024-03-01"), mustDate(t, "2024-03-16"), 7)
	want := []string{"2024-03-01..2024-03-07", "2024-03-08..2024-03-14", "2024-03-15..2024-03-16"}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.String() != want[i] {
			t.Fatalf("chunk %d=%s want=%s", i, chunk, want[i])
		}
	}
	if got := Chunks(mustDate(t, "2024-03-01"), mustDate(t, "2024-03-01"), 0); len(got) != 1 {
		t.Fatalf("single day range should yield one chunk, got %d", len(got))
	}
}

func TestFetchRangeBuildsQueriesAndParsesRows(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		queries []map[string]string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v25.0/act_42/insights" {
			http.NotFound(w, r)
			return
		}
		query := map[string]string{}
		for key := range r.URL.Query() {
			query[key] = r.URL.Query().Get(key)
		}
		mu.Lock()
		queries = append(queries, query)
		mu.Unlock()

		item := map[string]any{
			"date_start":       "2024-03-01",
			"account_currency": "USD",
			"campaign_id":      "c1",
			"adset_id":         "g1",
			"ad_id":            "a1",
			"impressions":      "1000",
			"clicks":           "25",
			"spend":            "12.50",
			"actions": []map[string]any{
				{"action_type": "link_click", "value": "25"},
				{"action_type": "omni_purchase", "value": "9"},
				{"action_type": "purchase", "value": "2"},
			},
			"action_values": []map[string]any{
				{"action_type": "purchase", "value": "80.5"},
			},
		}
		if query["breakdowns"] == "age,gender" {
			item["age"] = "25-34"
			item["gender"] = ""
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{item}})
	}))
	defer server.Close()

	fetcher, waits := newTestFetcher(server)
	breakdowns, err := SelectBreakdowns([]string{"age_gender"})
	if err != nil {
		t.Fatalf("select breakdowns: %v", err)
	}

	result, err := fetcher.FetchRange(context.Background(), RangeRequest{
		AccountID:  "42",
		Token:      "token",
		Version:    "v25.0",
		From:       mustDate(t, "2024-03-01"),
		To:         mustDate(t, "2024-03-03"),
		Levels:     []domain.Level{domain.LevelCampaign, domain.LevelCreative},
		Breakdowns: breakdowns,
	}, nil)
	if err != nil {
		t.Fatalf("fetch range: %v", err)
	}
	if len(queries) != 4 {
		t.Fatalf("expected 4 calls (2 levels x (plain + 1 breakdown)), got %d", len(queries))
	}
	if len(*waits) != 3 {
		t.Fatalf("expected a cooldown between each call, got %d waits", len(*waits))
	}
	first := queries[0]
	if first["level"] != "campaign" || first["time_increment"] != "1" {
		t.Fatalf("unexpected base query %#v", first)
	}
	if first["time_range"] != `{"since":"2024-03-01","until":"2024-03-03"}` {
		t.Fatalf("unexpected time_range %q", first["time_range"])
	}
	if _, ok := first["breakdowns"]; ok {
		t.Fatalf("plain fetch must not send breakdowns")
	}
	if queries[2]["level"] != "ad" {
		t.Fatalf("creative level should map to ad, got %q", queries[2]["level"])
	}

	rows := result.Rows()
	if len(rows) != 4 || result.RowsFetched != 4 {
		t.Fatalf("expected 4 rows, got %d", len(rows))
	}
	campaignRow := rows[0]
	if campaignRow.Level != domain.LevelCampaign || campaignRow.AdGroupID != "" || campaignRow.CreativeID != "" {
		t.Fatalf("campaign row carries deeper ids: %#v", campaignRow)
	}
	if campaignRow.Conversions != 2 || campaignRow.ConversionValue != 80.5 {
		t.Fatalf("purchase extraction failed: conversions=%v value=%v", campaignRow.Conversions, campaignRow.ConversionValue)
	}
	if campaignRow.Impressions != 1000 || campaignRow.Clicks != 25 || campaignRow.Spend != 12.5 || campaignRow.Currency != "USD" {
		t.Fatalf("numeric parsing failed: %#v", campaignRow)
	}
	broken := rows[1]
	if broken.BreakdownKey != "age_gender" || broken.DimensionKey() != "age:25-34|gender:unknown" {
		t.Fatalf("unexpected breakdown row key=%s dims=%s", broken.BreakdownKey, broken.DimensionKey())
	}
	if rows[2].Level != domain.LevelCreative || rows[2].CreativeID != "a1" {
		t.Fatalf("unexpected creative row %#v", rows[2])
	}
}

func TestFetchChunkRecordsFailedUnitAndContinues(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("level") {
		case "campaign":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"Invalid parameter","type":"OAuthException","code":100}}`))
		case "adset":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"User request limit reached","type":"OAuthException","code":17}}`))
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{}})
		}
	}))
	defer server.Close()

	fetcher, _ := newTestFetcher(server)
	fetcher.Client.Retry.MaxAttempts = 2

	req := RangeRequest{
		AccountID: "42",
		Token:     "token",
		From:      mustDate(t, "2024-03-01"),
		To:        mustDate(t, "2024-03-01"),
		Levels:    domain.AllLevels(),
	}
	result, err := fetcher.FetchChunk(context.Background(), req, Chunks(req.From, req.To, 7)[0])
	if err != nil {
		t.Fatalf("fetch chunk: %v", err)
	}
	if result.Calls != 4 {
		t.Fatalf("every unit should be attempted, got %d calls", result.Calls)
	}
	if len(result.Failures) != 2 {
		t.Fatalf("expected 2 failures, got %#v", result.Failures)
	}
	if result.Failures[0].Level != domain.LevelCampaign || result.Failures[0].Kind != FailureFatal {
		t.Fatalf("unexpected first failure %#v", result.Failures[0])
	}
	if result.Failures[1].Level != domain.LevelAdGroup || result.Failures[1].Kind != FailureRetryExhausted {
		t.Fatalf("unexpected second failure %#v", result.Failures[1])
	}
	if len(result.Rows) != 0 {
		t.Fatalf("zero-row units are not errors and yield no rows, got %d", len(result.Rows))
	}
}

func TestFetchRangeStopsOnCancellation(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{}})
	}))
	defer server.Close()

	fetcher, _ := newTestFetcher(server)
	ctx, cancel := context.WithCancel(context.Background())
	fetcher.Wait = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	result, err := fetcher.FetchRange(ctx, RangeRequest{
		AccountID: "42",
		Token:     "token",
		From:      mustDate(t, "2024-03-01"),
		To:        mustDate(t, "2024-03-01"),
		Levels:    []domain.Level{domain.LevelAccount, domain.LevelCampaign},
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(result.Failures) != 1 || result.Failures[0].Kind != FailureCanceled {
		t.Fatalf("remaining unit should be recorded as canceled, got %#v", result.Failures)
	}
}

func TestFetchRangeRejectsInvalidRequest(t *testing.T) {
	t.Parallel()

	fetcher := New(nil, nil)
	_, err := fetcher.FetchRange(context.Background(), RangeRequest{
		AccountID: "42",
		Token:     "token",
		From:      mustDate(t, "2024-03-05"),
		To:        mustDate(t, "2024-03-01"),
		Levels:    []domain.Level{domain.LevelAccount},
	}, nil)
	if err == nil {
		t.Fatal("expected inverted range error")
	}
}

func TestSelectBreakdowns(t *testing.T) {
	t.Parallel()

	all, err := SelectBreakdowns(nil)
	if err != nil || len(all) != 7 {
		t.Fatalf("expected all 7 defaults, got %d err=%v", len(all), err)
	}
	none, err := SelectBreakdowns([]string{"none"})
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no breakdowns, got %#v err=%v", none, err)
	}
	if _, err := SelectBreakdowns([]string{"zodiac"}); err == nil {
		t.Fatal("expected unknown breakdown error")
	}
}

func TestFetchChunkUnwindsWhenPacingOverrunsDeadline(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{}})
	}))
	defer server.Close()

	fetcher, _ := newTestFetcher(server)
	fetcher.Client.RequestDelay = time.Hour

	req := RangeRequest{
		AccountID: "42",
		Token:     "token",
		From:      mustDate(t, "2024-03-01"),
		To:        mustDate(t, "2024-03-01"),
		Levels:    domain.AllLevels(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := fetcher.FetchChunk(ctx, req, Chunks(req.From, req.To, 7)[0])
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if result.Calls != 2 {
		t.Fatalf("remaining units must not be attempted, got %d calls", result.Calls)
	}
	if len(result.Failures) != 3 {
		t.Fatalf("expected 3 failures, got %#v", result.Failures)
	}
	for _, failure := range result.Failures {
		if failure.Kind != FailureCanceled {
			t.Fatalf("expected canceled failures, got %#v", failure)
		}
	}
}
