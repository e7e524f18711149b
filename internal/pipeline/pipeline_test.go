package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/NikKowPHP/meetup/internal/models"
	"github.com/NikKowPHP/meetup/internal/report"
	"github.com/NikKowPHP/meetup/internal/repository"
	"github.com/NikKowPHP/meetup/internal/seen"
	"github.com/NikKowPHP/meetup/internal/source"
)

type stubRepo struct {
	mu        sync.Mutex
	events    map[string]models.Event
	nextID    uint64
	insertErr error
	failAfter int
	states    map[string]models.SourceState
}

func newStubRepo() *stubRepo {
	return &stubRepo{events: map[string]models.Event{}, states: map[string]models.SourceState{}, failAfter: -1}
}

func (r *stubRepo) FindEventBySourceURL(ctx context.Context, url string) (*models.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[url]
	if !ok {
		return nil, nil
	}
	return &ev, nil
}

func (r *stubRepo) InsertEvent(ctx context.Context, ev *models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil && r.failAfter >= 0 && len(r.events) >= r.failAfter {
		return r.insertErr
	}
	if _, ok := r.events[ev.SourceURL]; ok {
		return repository.ErrDuplicate
	}
	r.nextID++
	ev.ID = r.nextID
	r.events[ev.SourceURL] = *ev
	return nil
}

func (r *stubRepo) UpsertSourceState(ctx context.Context, item *models.SourceState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[item.Name] = *item
	return nil
}

func (r *stubRepo) ListSourceStates(ctx context.Context) ([]models.SourceState, error) {
	return nil, nil
}

func (r *stubRepo) GetEventByID(ctx context.Context, id uint64) (*models.Event, error) {
	return nil, nil
}

func (r *stubRepo) ListEvents(ctx context.Context, p repository.ListEventsParams) ([]models.Event, error) {
	return nil, nil
}

func (r *stubRepo) CountEvents(ctx context.Context, p repository.ListEventsParams) (int64, error) {
	return 0, nil
}

func (r *stubRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// racyRepo lets every Find miss so only the insert decides.
type racyRepo struct{ *stubRepo }

func (r racyRepo) FindEventBySourceURL(ctx context.Context, url string) (*models.Event, error) {
	return nil, nil
}

// pgRepo refuses rows the way Postgres does for data it cannot store.
type pgRepo struct {
	*stubRepo
	reject map[string]string // source url -> SQLSTATE
}

func (r pgRepo) InsertEvent(ctx context.Context, ev *models.Event) error {
	if code, ok := r.reject[ev.SourceURL]; ok {
		return fmt.Errorf("%w: %w", repository.ErrRejected, &pgconn.PgError{Code: code, Message: "rejected"})
	}
	return r.stubRepo.InsertEvent(ctx, ev)
}

type stubSource struct {
	name   models.Source
	events []models.Event
	err    error
	delay  time.Duration
	panics bool
	calls  int
	mu     sync.Mutex
}

func (s *stubSource) Name() models.Source { return s.name }

func (s *stubSource) Fetch(ctx context.Context) (source.Result, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.panics {
		panic("adapter bug")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return source.Result{}, ctx.Err()
		}
	}
	if s.err != nil {
		return source.Result{}, s.err
	}
	return source.Result{Events: s.events}, nil
}

func event(src models.Source, url string) models.Event {
	return models.Event{
		Title:      "Event " + url,
		Start:      time.Date(2025, 7, 1, 18, 0, 0, 0, time.UTC),
		SourceURL:  url,
		Source:     src,
		Categories: []string{},
	}
}

type store interface {
	repository.EventRepository
	repository.SourceStateRepository
}

func newOrchestrator(repo store, sources ...source.Source) *Orchestrator {
	return &Orchestrator{
		Sources:  sources,
		Gate:     &Gate{Store: repo},
		States:   repo,
		Reporter: &report.Recorder{},
		Options:  Options{SourceTimeout: time.Second, Concurrency: 5},
	}
}

func urls(events []models.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.SourceURL)
	}
	return out
}

func TestRunIsIdempotent(t *testing.T) {
	repo := newStubRepo()
	src := &stubSource{name: models.SourceMeetup, events: []models.Event{
		event(models.SourceMeetup, "https://m/1"),
		event(models.SourceMeetup, "https://m/2"),
	}}
	o := newOrchestrator(repo, src)

	first, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if len(first.Accepted) != 2 {
		t.Fatalf("expected 2 accepted, got %d", len(first.Accepted))
	}
	second, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(second.Accepted) != 0 || second.Sources[0].Duplicates != 2 {
		t.Fatalf("expected no new events on re-run, got %+v", second.Sources[0])
	}
	if repo.count() != 2 {
		t.Fatalf("expected 2 stored, got %d", repo.count())
	}
	if first.RunID == "" || first.RunID == second.RunID {
		t.Fatalf("expected distinct run ids")
	}
}

func TestRunIsolatesFailingSources(t *testing.T) {
	repo := newStubRepo()
	bad := &stubSource{name: models.SourceEventbrite, err: fmt.Errorf("eventbrite: %w: http 500", source.ErrUnreachable)}
	broken := &stubSource{name: models.SourceFacebook, panics: true}
	good := &stubSource{name: models.SourceBlog, events: []models.Event{event(models.SourceBlog, "https://b/1")}}
	o := newOrchestrator(repo, bad, broken, good)
	rec := o.Reporter.(*report.Recorder)

	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Accepted) != 1 || res.Accepted[0].SourceURL != "https://b/1" {
		t.Fatalf("expected the healthy source's event, got %v", urls(res.Accepted))
	}
	if rec.FailureCount() != 2 {
		t.Fatalf("expected 2 reported failures, got %d", rec.FailureCount())
	}
	if rec.Failures[0].Source != models.SourceEventbrite || rec.Failures[0].Kind != source.KindUnreachable {
		t.Fatalf("unexpected first failure: %+v", rec.Failures[0])
	}
	if len(rec.Runs) != 1 || len(rec.Runs[0].Failed()) != 2 {
		t.Fatalf("expected run summary with 2 failed sources")
	}
	if st := repo.states["eventbrite"]; st.HealthStatus != "failing" || st.LastError == nil {
		t.Fatalf("unexpected state for failing source: %+v", st)
	}
	if st := repo.states["blog"]; st.HealthStatus != "healthy" || st.LastSuccessAt == nil || st.Accepted != 1 {
		t.Fatalf("unexpected state for healthy source: %+v", st)
	}
}

func TestRunAllSourcesFailing(t *testing.T) {
	repo := newStubRepo()
	o := newOrchestrator(repo,
		&stubSource{name: models.SourceMeetup, err: errors.New("boom")},
		&stubSource{name: models.SourceForum, err: errors.New("boom")},
	)
	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Accepted) != 0 || repo.count() != 0 {
		t.Fatalf("expected empty run")
	}
}

func TestRunEnforcesSourceTimeout(t *testing.T) {
	repo := newStubRepo()
	slow := &stubSource{name: models.SourceFacebook, delay: time.Minute}
	fast := &stubSource{name: models.SourceMeetup, events: []models.Event{event(models.SourceMeetup, "https://m/1")}}
	o := newOrchestrator(repo, slow, fast)
	o.Options.SourceTimeout = 50 * time.Millisecond

	started := time.Now()
	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if time.Since(started) > 5*time.Second {
		t.Fatalf("run was blocked by the slow source")
	}
	if res.Sources[0].ErrorKind != source.KindTimeout {
		t.Fatalf("expected timeout kind, got %q", res.Sources[0].ErrorKind)
	}
	if len(res.Accepted) != 1 {
		t.Fatalf("expected fast source's event")
	}
}

func TestRunDedupKeysOnSourceURLOnly(t *testing.T) {
	repo := newStubRepo()
	a := event(models.SourceEventbrite, "https://shared/1")
	b := event(models.SourceMeetup, "https://shared/1")
	b.Title = "Different title"
	c := event(models.SourceMeetup, "https://m/2")
	c.Title = a.Title
	c.Start = a.Start
	o := newOrchestrator(repo,
		&stubSource{name: models.SourceEventbrite, events: []models.Event{a}},
		&stubSource{name: models.SourceMeetup, events: []models.Event{b, c}},
	)
	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := urls(res.Accepted)
	want := []string{"https://shared/1", "https://m/2"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("accepted %v want %v", got, want)
	}
	if res.Accepted[0].Source != models.SourceEventbrite {
		t.Fatalf("first registered source should win the shared url")
	}
	if res.Sources[1].Duplicates != 1 {
		t.Fatalf("expected one duplicate for meetup, got %d", res.Sources[1].Duplicates)
	}
}

func TestRunCompositionIndependentOfConcurrency(t *testing.T) {
	build := func() []source.Source {
		return []source.Source{
			&stubSource{name: models.SourceEventbrite, delay: 30 * time.Millisecond, events: []models.Event{event(models.SourceEventbrite, "https://x/1")}},
			&stubSource{name: models.SourceMeetup, events: []models.Event{event(models.SourceMeetup, "https://x/1"), event(models.SourceMeetup, "https://x/2")}},
		}
	}
	var results [][]string
	for _, limit := range []int{1, 5} {
		repo := newStubRepo()
		o := newOrchestrator(repo, build()...)
		o.Options.Concurrency = limit
		res, err := o.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		results = append(results, urls(res.Accepted))
		if res.Accepted[0].Source != models.SourceEventbrite {
			t.Fatalf("limit %d: shared url should belong to eventbrite", limit)
		}
	}
	if fmt.Sprint(results[0]) != fmt.Sprint(results[1]) {
		t.Fatalf("composition changed with concurrency: %v vs %v", results[0], results[1])
	}
}

func TestConcurrentRunsStoreOnce(t *testing.T) {
	repo := racyRepo{newStubRepo()}
	src := &stubSource{name: models.SourceBlog, events: []models.Event{event(models.SourceBlog, "https://b/1")}}

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o := newOrchestrator(repo, src)
			res, err := o.Run(context.Background())
			if err != nil {
				t.Errorf("Run: %v", err)
				return
			}
			mu.Lock()
			total += len(res.Accepted)
			mu.Unlock()
		}()
	}
	wg.Wait()
	if total != 1 || repo.count() != 1 {
		t.Fatalf("expected exactly one stored event, accepted=%d stored=%d", total, repo.count())
	}
}

func TestRunDropsInvalidCandidates(t *testing.T) {
	repo := newStubRepo()
	bad := event(models.SourceForum, "not-a-url")
	noTitle := event(models.SourceForum, "https://f/2")
	noTitle.Title = ""
	foreign := event(models.SourceMeetup, "https://f/3")
	o := newOrchestrator(repo, &stubSource{name: models.SourceForum, events: []models.Event{
		bad, noTitle, foreign, event(models.SourceForum, "https://f/4"),
	}})
	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Accepted) != 1 || res.Sources[0].Dropped != 3 {
		t.Fatalf("expected 1 accepted and 3 dropped, got %d/%d", len(res.Accepted), res.Sources[0].Dropped)
	}
	if res.Accepted[0].Status != models.StatusDraft || res.Accepted[0].ID == 0 {
		t.Fatalf("accepted event should be stored as draft: %+v", res.Accepted[0])
	}
}

func TestRunAbortsOnPersistenceFailure(t *testing.T) {
	repo := newStubRepo()
	repo.insertErr = errors.New("connection reset")
	repo.failAfter = 1
	o := newOrchestrator(repo,
		&stubSource{name: models.SourceMeetup, events: []models.Event{event(models.SourceMeetup, "https://m/1"), event(models.SourceMeetup, "https://m/2")}},
		&stubSource{name: models.SourceBlog, events: []models.Event{event(models.SourceBlog, "https://b/1")}},
	)
	res, err := o.Run(context.Background())
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if res == nil || len(res.Accepted) != 1 || repo.count() != 1 {
		t.Fatalf("expected partial result with the committed event")
	}
	if res.Sources[1].ErrorKind != source.KindFailed {
		t.Fatalf("later sources should be marked as not admitted")
	}
	rec := o.Reporter.(*report.Recorder)
	if len(rec.Runs) != 1 || rec.Runs[0].Error == "" {
		t.Fatalf("expected aborted run summary")
	}
}

func TestRetriesOnlyUnreachable(t *testing.T) {
	unreachable := &stubSource{name: models.SourceMeetup, err: fmt.Errorf("meetup: %w: dial", source.ErrUnreachable)}
	misconfigured := &stubSource{name: models.SourceEventbrite, err: fmt.Errorf("eventbrite: %w", source.ErrMisconfigured)}
	o := newOrchestrator(newStubRepo(), misconfigured, unreachable)
	o.Options.Retries = 2
	o.Options.RetryBackoff = time.Millisecond
	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if unreachable.calls != 3 {
		t.Fatalf("expected 3 attempts for unreachable source, got %d", unreachable.calls)
	}
	if misconfigured.calls != 1 {
		t.Fatalf("misconfigured source must not be retried, got %d", misconfigured.calls)
	}
}

type switches map[string]bool

func (s switches) IsEnabled(ctx context.Context, key string, fallback bool) bool {
	v, ok := s[key]
	if !ok {
		return fallback
	}
	return v
}

type recordingHub struct {
	mu     sync.Mutex
	events []models.Event
}

func (h *recordingHub) Publish(events ...models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, events...)
}

func TestRunHonoursSwitchesAndPublishes(t *testing.T) {
	repo := newStubRepo()
	off := &stubSource{name: models.SourceFacebook, events: []models.Event{event(models.SourceFacebook, "https://fb/1")}}
	on := &stubSource{name: models.SourceBlog, events: []models.Event{event(models.SourceBlog, "https://b/1")}}
	hub := &recordingHub{}
	o := newOrchestrator(repo, off, on)
	o.Switches = switches{models.FeatureSourceKey(models.SourceFacebook): false}
	o.Hub = hub

	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if off.calls != 0 {
		t.Fatalf("disabled source was fetched")
	}
	if len(hub.events) != 1 || hub.events[0].SourceURL != "https://b/1" {
		t.Fatalf("expected accepted event published, got %v", urls(hub.events))
	}
	if st := repo.states["facebook"]; st.HealthStatus != "disabled" || st.Enabled {
		t.Fatalf("unexpected disabled state: %+v", st)
	}
	if len(res.Summary().Sources) != 1 {
		t.Fatalf("summary should omit skipped sources")
	}
}

func TestGateSeenCacheShortCircuits(t *testing.T) {
	repo := newStubRepo()
	cache := seen.NewMemory(10, time.Hour)
	g := &Gate{Store: repo, Seen: cache}
	ctx := context.Background()

	ev := event(models.SourceBlog, "https://b/1")
	if d, err := g.Admit(ctx, &ev); err != nil || d != DecisionAccepted {
		t.Fatalf("expected accept, got %v %v", d, err)
	}
	if ok, _ := cache.Seen(ctx, "https://b/1"); !ok {
		t.Fatalf("accepted url should be marked seen")
	}
	again := event(models.SourceBlog, "https://b/1")
	if d, _ := g.Admit(ctx, &again); d != DecisionDuplicate {
		t.Fatalf("expected duplicate, got %v", d)
	}

	// A cache miss still falls through to storage.
	stored := event(models.SourceBlog, "https://b/2")
	_ = repo.InsertEvent(ctx, &stored)
	fresh := seen.NewMemory(10, time.Hour)
	g.Seen = fresh
	dup := event(models.SourceBlog, "https://b/2")
	if d, _ := g.Admit(ctx, &dup); d != DecisionDuplicate {
		t.Fatalf("storage must stay authoritative, got %v", d)
	}
	keys := []string{}
	for k := range repo.events {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) != 2 {
		t.Fatalf("unexpected stored keys: %v", keys)
	}
}

func TestRunDropsRowsStorageRejects(t *testing.T) {
	repo := pgRepo{stubRepo: newStubRepo(), reject: map[string]string{
		"https://e/overflow": "22003",
		"https://e/check":    "23514",
	}}
	o := newOrchestrator(repo,
		&stubSource{name: models.SourceEventbrite, events: []models.Event{
			event(models.SourceEventbrite, "https://e/overflow"),
			event(models.SourceEventbrite, "https://e/1"),
			event(models.SourceEventbrite, "https://e/check"),
		}},
		&stubSource{name: models.SourceMeetup, events: []models.Event{event(models.SourceMeetup, "https://m/1")}},
	)
	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("rejected rows must not abort the run: %v", err)
	}
	if got := urls(res.Accepted); len(got) != 2 || got[0] != "https://e/1" || got[1] != "https://m/1" {
		t.Fatalf("unexpected accepted: %v", got)
	}
	eb, mu := res.Sources[0], res.Sources[1]
	if eb.Dropped != 2 || eb.Accepted != 1 || eb.Err != nil {
		t.Fatalf("unexpected eventbrite outcome: %+v", eb)
	}
	if mu.Accepted != 1 || mu.Err != nil {
		t.Fatalf("meetup must be admitted normally: %+v", mu)
	}
	if st := repo.states["eventbrite"]; st.HealthStatus != models.HealthHealthy || st.Dropped != 2 {
		t.Fatalf("unexpected eventbrite state: %+v", st)
	}
}

func TestRunDropsUnstorableValuesBeforeInsert(t *testing.T) {
	repo := newStubRepo()
	huge := decimal.RequireFromString("5000000000000")
	pricey := event(models.SourceEventbrite, "https://e/pricey")
	pricey.Price = &huge
	nul := event(models.SourceEventbrite, "https://e/nul")
	nul.Title = "Jazz\x00Night"
	o := newOrchestrator(repo,
		&stubSource{name: models.SourceEventbrite, events: []models.Event{pricey, nul}},
		&stubSource{name: models.SourceMeetup, events: []models.Event{event(models.SourceMeetup, "https://m/1")}},
	)
	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Sources[0].Dropped != 2 || repo.count() != 1 {
		t.Fatalf("expected both unstorable candidates dropped, got %+v stored=%d", res.Sources[0], repo.count())
	}
}

func TestGateStoresTrimmedSourceURL(t *testing.T) {
	repo := newStubRepo()
	g := &Gate{Store: repo}
	ev := event(models.SourceBlog, "  https://b/3  ")
	if d, err := g.Admit(context.Background(), &ev); err != nil || d != DecisionAccepted {
		t.Fatalf("expected accept, got %v %v", d, err)
	}
	if _, ok := repo.events["https://b/3"]; !ok || ev.SourceURL != "https://b/3" {
		t.Fatalf("stored key must match the lookup key, got %q", ev.SourceURL)
	}
	again := event(models.SourceBlog, "https://b/3")
	if d, _ := g.Admit(context.Background(), &again); d != DecisionDuplicate {
		t.Fatalf("expected duplicate, got %v", d)
	}
}

func TestGateSurfacesStorageOutages(t *testing.T) {
	repo := newStubRepo()
	repo.insertErr = &pgconn.PgError{Code: "08006", Message: "connection failure"}
	repo.failAfter = 0
	g := &Gate{Store: repo}
	ev := event(models.SourceBlog, "https://b/4")
	if _, err := g.Admit(context.Background(), &ev); err == nil {
		t.Fatalf("connection failures must stay fatal")
	}
}
