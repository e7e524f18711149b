package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/NikKowPHP/meetup/internal/models"
)

// Webhook posts alerts as JSON. Delivery is best effort: failures are logged
// and never reach the pipeline.
type Webhook struct {
	URL    string
	HTTP   *http.Client
	Logger *zap.Logger
}

type WebhookPayload struct {
	Event   string        `json:"event"`
	Source  models.Source `json:"source,omitempty"`
	Kind    string        `json:"kind,omitempty"`
	Message string        `json:"message"`
	Summary *Summary      `json:"summary,omitempty"`
	SentAt  time.Time     `json:"sentAt"`
}

func (w Webhook) SourceFailed(ctx context.Context, source models.Source, kind string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	w.deliver(ctx, WebhookPayload{
		Event:   "source_failed",
		Source:  source,
		Kind:    kind,
		Message: msg,
	})
}

// RunFinished only alerts on aborted runs or runs where a source failed.
func (w Webhook) RunFinished(ctx context.Context, s Summary) {
	failed := s.Failed()
	if s.Error == "" && len(failed) == 0 {
		return
	}
	msg := s.Error
	if msg == "" {
		names := make([]string, 0, len(failed))
		for _, f := range failed {
			names = append(names, string(f))
		}
		msg = fmt.Sprintf("run %s finished with failed sources: %s", s.RunID, strings.Join(names, ", "))
	}
	w.deliver(ctx, WebhookPayload{Event: "run_finished", Message: msg, Summary: &s})
}

func (w Webhook) deliver(ctx context.Context, payload WebhookPayload) {
	if strings.TrimSpace(w.URL) == "" {
		return
	}
	payload.SentAt = time.Now().UTC()
	if err := w.Send(ctx, payload); err != nil && w.Logger != nil {
		w.Logger.Warn("alert webhook failed", zap.String("event", payload.Event), zap.Error(err))
	}
}

func (w Webhook) Send(ctx context.Context, payload WebhookPayload) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	client := w.HTTP
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httpError{StatusCode: resp.StatusCode}
	}
	return nil
}

type httpError struct {
	StatusCode int
}

func (e *httpError) Error() string {
	return "webhook http status " + http.StatusText(e.StatusCode)
}
