package report

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/NikKowPHP/meetup/internal/models"
)

func TestThrottledSuppressesRepeats(t *testing.T) {
	rec := &Recorder{}
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	th := NewThrottled(rec, time.Minute)
	th.now = func() time.Time { return now }
	ctx := context.Background()

	th.SourceFailed(ctx, models.SourceMeetup, "unreachable", errors.New("a"))
	th.SourceFailed(ctx, models.SourceMeetup, "unreachable", errors.New("b"))
	th.SourceFailed(ctx, models.SourceMeetup, "timeout", errors.New("c"))
	th.SourceFailed(ctx, models.SourceBlog, "unreachable", errors.New("d"))
	if rec.FailureCount() != 3 {
		t.Fatalf("expected 3 delivered failures, got %d", rec.FailureCount())
	}
	now = now.Add(2 * time.Minute)
	th.SourceFailed(ctx, models.SourceMeetup, "unreachable", errors.New("e"))
	if rec.FailureCount() != 4 {
		t.Fatalf("expected failure after window, got %d", rec.FailureCount())
	}
	th.RunFinished(ctx, Summary{RunID: "r"})
	th.RunFinished(ctx, Summary{RunID: "r2"})
	if len(rec.Runs) != 2 {
		t.Fatalf("run summaries must not be throttled")
	}
}

func TestMultiSkipsNil(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	m := Multi{a, nil, b, Nop{}}
	m.SourceFailed(context.Background(), models.SourceForum, "failed", errors.New("x"))
	if a.FailureCount() != 1 || b.FailureCount() != 1 {
		t.Fatalf("expected both recorders to receive the failure")
	}
}

func TestWebhookDelivery(t *testing.T) {
	var mu sync.Mutex
	var got []WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p WebhookPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := Webhook{URL: srv.URL, HTTP: srv.Client()}
	ctx := context.Background()
	w.SourceFailed(ctx, models.SourceEventbrite, "misconfigured", errors.New("api key not configured"))
	w.RunFinished(ctx, Summary{RunID: "ok", Sources: []SourceSummary{{Source: models.SourceBlog}}})
	w.RunFinished(ctx, Summary{RunID: "bad", Sources: []SourceSummary{{Source: models.SourceBlog, ErrorKind: "timeout"}}})

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(got))
	}
	if got[0].Event != "source_failed" || got[0].Source != models.SourceEventbrite || got[0].Kind != "misconfigured" {
		t.Fatalf("unexpected failure payload: %+v", got[0])
	}
	if got[1].Event != "run_finished" || got[1].Summary == nil || got[1].Summary.RunID != "bad" {
		t.Fatalf("unexpected run payload: %+v", got[1])
	}
}

func TestWebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	w := Webhook{URL: srv.URL, HTTP: srv.Client()}
	if err := w.Send(context.Background(), WebhookPayload{Event: "x"}); err == nil {
		t.Fatalf("expected error on 502")
	}
	Webhook{}.SourceFailed(context.Background(), models.SourceBlog, "failed", nil)
}
