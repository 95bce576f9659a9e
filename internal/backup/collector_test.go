package backup

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"wpback/internal/wordpress"
)

type fakeLister struct {
	calls []wordpress.ListParams
	fn    func(p wordpress.ListParams) ([]wordpress.Record, error)
}

func (f *fakeLister) List(_ context.Context, p wordpress.ListParams) ([]wordpress.Record, error) {
	f.calls = append(f.calls, p)
	return f.fn(p)
}

func makeRecords(n, offset int) []wordpress.Record {
	recs := make([]wordpress.Record, n)
	for i := range recs {
		recs[i] = wordpress.Record{"id": float64(offset + i)}
	}
	return recs
}

func newTestCollector(t *testing.T, authenticated bool, sleeps *[]time.Duration) *Collector {
	t.Helper()
	return &Collector{
		OutputDir:     t.TempDir(),
		Authenticated: authenticated,
		MaxItems:      1000,
		Sleep: func(d time.Duration) {
			if sleeps != nil {
				*sleeps = append(*sleeps, d)
			}
		},
	}
}

func TestCollectPaginatesUntilShortPage(t *testing.T) {
	c := newTestCollector(t, true, nil)
	ep := &fakeLister{fn: func(p wordpress.ListParams) ([]wordpress.Record, error) {
		if p.Page == 1 {
			return makeRecords(100, 0), nil
		}
		return makeRecords(50, 100), nil
	}}

	res := c.Collect(context.Background(), "posts", ep)

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Count() != 150 {
		t.Errorf("count = %d, want 150", res.Count())
	}
	if res.Pages != 2 {
		t.Errorf("pages = %d, want 2", res.Pages)
	}
	if len(ep.calls) != 2 || ep.calls[0].Page != 1 || ep.calls[1].Page != 2 {
		t.Errorf("unexpected page sequence: %+v", ep.calls)
	}

	// The aggregate must hold exactly the sum of the per-page files.
	var total int
	for _, name := range []string{"page_1.json", "page_2.json"} {
		data, err := os.ReadFile(filepath.Join(c.OutputDir, "posts", name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		var page []wordpress.Record
		if err := json.Unmarshal(data, &page); err != nil {
			t.Fatalf("decode %s: %v", name, err)
		}
		total += len(page)
	}
	data, err := os.ReadFile(filepath.Join(c.OutputDir, "posts", "all.json"))
	if err != nil {
		t.Fatalf("read all.json: %v", err)
	}
	var all []wordpress.Record
	if err := json.Unmarshal(data, &all); err != nil {
		t.Fatalf("decode all.json: %v", err)
	}
	if len(all) != total {
		t.Errorf("aggregate has %d records, page files sum to %d", len(all), total)
	}
}

func TestCollectForcesPublishFilterWhenUnauthenticated(t *testing.T) {
	for _, tc := range []struct {
		name          string
		collection    string
		authenticated bool
		wantStatus    string
	}{
		{"posts public", "posts", false, "publish"},
		{"pages public", "pages", false, "publish"},
		{"custom type public", "cpt_product", false, "publish"},
		{"categories public", "categories", false, ""},
		{"posts authenticated", "posts", true, ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestCollector(t, tc.authenticated, nil)
			ep := &fakeLister{fn: func(wordpress.ListParams) ([]wordpress.Record, error) {
				return nil, nil
			}}
			c.Collect(context.Background(), tc.collection, ep)
			if got := ep.calls[0].Status; got != tc.wantStatus {
				t.Errorf("status = %q, want %q", got, tc.wantStatus)
			}
		})
	}
}

func TestCollectRateLimitBackoffSequence(t *testing.T) {
	var sleeps []time.Duration
	c := newTestCollector(t, true, &sleeps)
	ep := &fakeLister{fn: func(wordpress.ListParams) ([]wordpress.Record, error) {
		return nil, wordpress.ErrRateLimited
	}}

	res := c.Collect(context.Background(), "posts", ep)

	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second,
		8 * time.Second, 16 * time.Second,
	}
	if len(sleeps) != len(want) {
		t.Fatalf("got %d sleeps, want %d: %v", len(sleeps), len(want), sleeps)
	}
	for i := range want {
		if sleeps[i] != want[i] {
			t.Errorf("sleep %d = %v, want %v", i, sleeps[i], want[i])
		}
	}
	if !errors.Is(res.Err, wordpress.ErrRateLimited) {
		t.Errorf("err = %v, want rate limited", res.Err)
	}
	// Same page was retried throughout.
	for i, call := range ep.calls {
		if call.Page != 1 {
			t.Errorf("call %d requested page %d, want 1", i, call.Page)
		}
	}
	if len(ep.calls) != maxRetries+1 {
		t.Errorf("list called %d times, want %d", len(ep.calls), maxRetries+1)
	}
}

func TestCollectGenericErrorKeepsPartialResults(t *testing.T) {
	var sleeps []time.Duration
	c := newTestCollector(t, true, &sleeps)
	ep := &fakeLister{fn: func(p wordpress.ListParams) ([]wordpress.Record, error) {
		if p.Page == 1 {
			return makeRecords(100, 0), nil
		}
		return nil, &wordpress.APIError{StatusCode: 500, Message: "boom"}
	}}

	res := c.Collect(context.Background(), "posts", ep)

	if res.Err == nil {
		t.Fatal("expected an error after retries were exhausted")
	}
	if res.Count() != 100 {
		t.Errorf("partial count = %d, want 100", res.Count())
	}
	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second,
		8 * time.Second, 16 * time.Second,
	}
	if len(sleeps) != len(want) {
		t.Fatalf("got %d sleeps, want %d: %v", len(sleeps), len(want), sleeps)
	}
	for i := range want {
		if sleeps[i] != want[i] {
			t.Errorf("sleep %d = %v, want %v", i, sleeps[i], want[i])
		}
	}
	// Partial results still produce an aggregate file.
	if _, err := os.Stat(filepath.Join(c.OutputDir, "posts", "all.json")); err != nil {
		t.Errorf("aggregate missing after partial failure: %v", err)
	}
}

func TestBackoffDelayCaps(t *testing.T) {
	if d := backoffDelay(6, genericBackoffCap); d != 30*time.Second {
		t.Errorf("generic cap: got %v, want 30s", d)
	}
	if d := backoffDelay(7, rateLimitBackoffCap); d != 60*time.Second {
		t.Errorf("rate limit cap: got %v, want 60s", d)
	}
	if d := backoffDelay(1, rateLimitBackoffCap); d != time.Second {
		t.Errorf("first retry: got %v, want 1s", d)
	}
}

func TestCollectStopsOnNotFoundAndPermissionDenied(t *testing.T) {
	for _, sentinel := range []error{wordpress.ErrNotFound, wordpress.ErrPermissionDenied} {
		var sleeps []time.Duration
		c := newTestCollector(t, true, &sleeps)
		ep := &fakeLister{fn: func(wordpress.ListParams) ([]wordpress.Record, error) {
			return nil, sentinel
		}}
		res := c.Collect(context.Background(), "comments", ep)
		if !errors.Is(res.Err, sentinel) {
			t.Errorf("err = %v, want %v", res.Err, sentinel)
		}
		if len(ep.calls) != 1 {
			t.Errorf("list called %d times, want 1 (no retries)", len(ep.calls))
		}
		if len(sleeps) != 0 {
			t.Errorf("unexpected backoff sleeps: %v", sleeps)
		}
	}
}

func TestCollectMaxItemsIsSoftCap(t *testing.T) {
	c := newTestCollector(t, true, nil)
	c.MaxItems = 150
	ep := &fakeLister{fn: func(p wordpress.ListParams) ([]wordpress.Record, error) {
		return makeRecords(100, (p.Page-1)*100), nil
	}}

	res := c.Collect(context.Background(), "posts", ep)

	// The cap is checked between pages, so one page of overshoot is fine.
	if res.Count() != 200 {
		t.Errorf("count = %d, want 200", res.Count())
	}
	if len(ep.calls) != 2 {
		t.Errorf("list called %d times, want 2", len(ep.calls))
	}
	if res.Err != nil {
		t.Errorf("unexpected error: %v", res.Err)
	}
}

func TestCollectHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := newTestCollector(t, true, nil)
	ep := &fakeLister{fn: func(p wordpress.ListParams) ([]wordpress.Record, error) {
		cancel() // cancel once the first request is in flight
		return makeRecords(100, 0), nil
	}}

	res := c.Collect(ctx, "posts", ep)

	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", res.Err)
	}
	if len(ep.calls) != 1 {
		t.Errorf("list called %d times after cancellation, want 1", len(ep.calls))
	}
	if res.Count() != 100 {
		t.Errorf("fetched page should be kept, count = %d", res.Count())
	}
}
