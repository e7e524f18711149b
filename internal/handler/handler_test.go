package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/NikKowPHP/meetup/internal/models"
	"github.com/NikKowPHP/meetup/internal/pipeline"
	"github.com/NikKowPHP/meetup/internal/repository"
	"github.com/NikKowPHP/meetup/internal/service"
)

type fakeRepo struct {
	events   []models.Event
	settings map[string]models.SystemSetting
	states   []models.SourceState
	last     repository.ListEventsParams
}

func (r *fakeRepo) FindEventBySourceURL(ctx context.Context, url string) (*models.Event, error) {
	return nil, nil
}

func (r *fakeRepo) InsertEvent(ctx context.Context, ev *models.Event) error { return nil }

func (r *fakeRepo) GetEventByID(ctx context.Context, id uint64) (*models.Event, error) {
	for i := range r.events {
		if r.events[i].ID == id {
			return &r.events[i], nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) ListEvents(ctx context.Context, p repository.ListEventsParams) ([]models.Event, error) {
	r.last = p
	var out []models.Event
	for _, ev := range r.events {
		if ev.ID > p.AfterID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (r *fakeRepo) CountEvents(ctx context.Context, p repository.ListEventsParams) (int64, error) {
	return int64(len(r.events)), nil
}

func (r *fakeRepo) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if r.settings == nil {
		r.settings = map[string]models.SystemSetting{}
	}
	r.settings[item.Key] = *item
	return nil
}

func (r *fakeRepo) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	if item, ok := r.settings[key]; ok {
		return &item, nil
	}
	return nil, nil
}

func (r *fakeRepo) ListSystemSettings(ctx context.Context) ([]models.SystemSetting, error) {
	var out []models.SystemSetting
	for _, v := range r.settings {
		out = append(out, v)
	}
	return out, nil
}

func (r *fakeRepo) UpsertSourceState(ctx context.Context, item *models.SourceState) error {
	r.states = append(r.states, *item)
	return nil
}

func (r *fakeRepo) ListSourceStates(ctx context.Context) ([]models.SourceState, error) {
	return r.states, nil
}

func seededRepo() *fakeRepo {
	free := decimal.Zero
	paid := decimal.NewFromInt(15)
	return &fakeRepo{events: []models.Event{
		{ID: 1, Title: "Tech Talk", Start: time.Date(2025, 7, 1, 18, 0, 0, 0, time.UTC), Categories: []string{"tech"}, Price: &free, SourceURL: "https://x/1", Source: models.SourceMeetup, Status: models.StatusDraft},
		{ID: 2, Title: "Jazz", Start: time.Date(2025, 7, 2, 18, 0, 0, 0, time.UTC), Categories: []string{"music"}, Price: &paid, SourceURL: "https://x/2", Source: models.SourceBlog, Status: models.StatusDraft},
	}}
}

func newRouter(repo *fakeRepo, runner PipelineRunner) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	(&EventsHandler{
		Search: &service.SearchService{Repo: repo},
		Query:  &service.EventQueryService{Repo: repo},
	}).Register(r)
	(&PipelineHandler{Runner: runner, States: &service.SourceStateService{Repo: repo}}).Register(r)
	(&SettingsHandler{Settings: &service.SystemSettingsService{Repo: repo}}).Register(r)
	(&HealthHandler{}).Register(r)
	return r
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    map[string]any  `json:"meta"`
}

func do(t *testing.T, r http.Handler, method, path, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w.Code, env
}

func TestSearchEndpoint(t *testing.T) {
	r := newRouter(seededRepo(), nil)
	code, env := do(t, r, http.MethodGet, "/api/events/search?categories=tech&priceType=free", "")
	if code != http.StatusOK {
		t.Fatalf("status=%d message=%s", code, env.Message)
	}
	var items []map[string]any
	if err := json.Unmarshal(env.Data, &items); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if len(items) != 1 || items[0]["title"] != "Tech Talk" {
		t.Fatalf("unexpected items: %v", items)
	}
	loc, ok := items[0]["location"].(map[string]any)
	if !ok || loc["coordinates"] != nil {
		t.Fatalf("expected location object with null coordinates, got %v", items[0]["location"])
	}
	if env.Meta["total"].(float64) != 1 {
		t.Fatalf("unexpected meta: %v", env.Meta)
	}
}

func TestSearchDateRange(t *testing.T) {
	r := newRouter(seededRepo(), nil)
	code, env := do(t, r, http.MethodGet, "/api/events/search?startDate=2025-07-02&endDate=2025-07-02", "")
	if code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	var items []models.Event
	_ = json.Unmarshal(env.Data, &items)
	if len(items) != 1 || items[0].Title != "Jazz" {
		t.Fatalf("expected only the event on 2025-07-02, got %d", len(items))
	}
}

func TestSearchRejectsBadInput(t *testing.T) {
	r := newRouter(seededRepo(), nil)
	cases := []struct {
		path  string
		param string
	}{
		{"/api/events/search?priceType=cheap", "priceType"},
		{"/api/events/search?startDate=yesterday", "startDate"},
		{"/api/events/search?startDate=2025-07-05&endDate=2025-07-01", "endDate"},
		{"/api/events/search?source=myspace", "source"},
		{"/api/events?status=LIVE", "status"},
		{"/api/events/abc", "id"},
	}
	for _, tc := range cases {
		code, env := do(t, r, http.MethodGet, tc.path, "")
		if code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", tc.path, code)
		}
		if env.Meta["param"] != tc.param {
			t.Fatalf("%s: expected param %q in meta, got %v", tc.path, tc.param, env.Meta["param"])
		}
	}
}

func TestListAndGetEvents(t *testing.T) {
	repo := seededRepo()
	r := newRouter(repo, nil)
	code, env := do(t, r, http.MethodGet, "/api/events?status=draft,published&source=blog&order_by=title&ascending=true", "")
	if code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	if len(repo.last.Statuses) != 2 || repo.last.Source == nil || *repo.last.Source != models.SourceBlog || repo.last.OrderBy != "title" {
		t.Fatalf("unexpected list params: %+v", repo.last)
	}
	if env.Meta["has_next"].(bool) {
		t.Fatalf("unexpected has_next")
	}
	if code, _ := do(t, r, http.MethodGet, "/api/events/2", ""); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if code, _ := do(t, r, http.MethodGet, "/api/events/99", ""); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
	if code, _ := do(t, r, http.MethodGet, "/api/events/abc", ""); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

type fakeRunner struct {
	result *pipeline.RunResult
	err    error
}

func (f fakeRunner) Run(ctx context.Context) (*pipeline.RunResult, error) {
	return f.result, f.err
}

func TestPipelineRunEndpoint(t *testing.T) {
	res := &pipeline.RunResult{RunID: "run-1", Sources: []pipeline.SourceOutcome{{Source: models.SourceMeetup, Accepted: 2}}}
	r := newRouter(seededRepo(), fakeRunner{result: res})
	code, env := do(t, r, http.MethodPost, "/api/pipeline/run", "")
	if code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	var summary map[string]any
	_ = json.Unmarshal(env.Data, &summary)
	if summary["runId"] != "run-1" {
		t.Fatalf("unexpected summary: %v", summary)
	}

	r = newRouter(seededRepo(), fakeRunner{result: res, err: errors.Join(pipeline.ErrPersistence, errors.New("db down"))})
	code, env = do(t, r, http.MethodPost, "/api/pipeline/run", "")
	if code != http.StatusInternalServerError || env.Meta["summary"] == nil {
		t.Fatalf("expected 500 with partial summary, got %d %v", code, env.Meta)
	}
}

func TestSettingsEndpoints(t *testing.T) {
	repo := seededRepo()
	r := newRouter(repo, nil)
	key := models.FeatureSourceKey(models.SourceForum)
	if code, env := do(t, r, http.MethodPut, "/api/settings/"+key, `{"enabled":false}`); code != http.StatusOK {
		t.Fatalf("status=%d message=%s", code, env.Message)
	}
	svc := &service.SystemSettingsService{Repo: repo}
	if svc.IsEnabled(context.Background(), key, true) {
		t.Fatalf("switch should be off")
	}
	if code, _ := do(t, r, http.MethodPut, "/api/settings/feature.nope", `{"enabled":true}`); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown switch, got %d", code)
	}
	if code, _ := do(t, r, http.MethodPut, "/api/settings/"+key, `{}`); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing value, got %d", code)
	}
	if code, _ := do(t, r, http.MethodGet, "/api/settings", ""); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestHealth(t *testing.T) {
	r := newRouter(seededRepo(), nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without db, got %d", w.Code)
	}
}

func TestAllFailing(t *testing.T) {
	states := []models.SourceState{
		{Name: "meetup", Enabled: true, HealthStatus: models.HealthFailing},
		{Name: "blog", Enabled: false, HealthStatus: models.HealthDisabled},
	}
	if !allFailing(states) {
		t.Fatalf("every enabled source failing should be degraded")
	}
	states = append(states, models.SourceState{Name: "forum", Enabled: true, HealthStatus: models.HealthHealthy})
	if allFailing(states) {
		t.Fatalf("one healthy source keeps readiness")
	}
	if allFailing([]models.SourceState{{Name: "blog", HealthStatus: models.HealthDisabled}}) {
		t.Fatalf("no enabled sources is not failing")
	}
}
