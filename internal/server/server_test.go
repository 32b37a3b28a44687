package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"frequency/internal/config"
	"frequency/internal/db"
	"frequency/internal/domain"
	"frequency/internal/engine"
	"frequency/internal/migrate"
	"frequency/internal/repo"
	frequencysdk "frequency/sdk/go"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	Repo   repo.Repo
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.New(conn, dialect)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := engine.New(r, config.Default("test"), log)
	handler, err := New(Config{
		Engine: e,
		Repo:   r,
		Auth:   AuthConfig{JWTSecret: "test-secret", DevAuth: true},
		Logger: log,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return testServer{URL: srv.URL, Engine: e, Repo: r}
}

func (s testServer) login(t *testing.T, subject string) *frequencysdk.Client {
	t.Helper()
	c := frequencysdk.New(s.URL)
	if _, err := c.DevLogin(context.Background(), subject, subject+"@example.com"); err != nil {
		t.Fatalf("dev login: %v", err)
	}
	return c
}

func apiErrorOf(t *testing.T, err error) *frequencysdk.APIError {
	t.Helper()
	var apiErr *frequencysdk.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected api error, got %v", err)
	}
	return apiErr
}

func TestHealthIsOpenAndAPIRequiresAuth(t *testing.T) {
	srv := newTestServer(t)
	res, err := http.Get(srv.URL + "/v1/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}

	_, err = frequencysdk.New(srv.URL).ListObjectives(context.Background(), "okr", "")
	apiErr := apiErrorOf(t, err)
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Code != "unauthorized" {
		t.Fatalf("expected 401 unauthorized, got %+v", apiErr)
	}

	bad := frequencysdk.New(srv.URL)
	bad.BearerToken = "not-a-token"
	_, err = bad.Me(context.Background())
	if apiErrorOf(t, err).Code != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %v", err)
	}
}

func TestMeEnsuresUserOnce(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	c := srv.login(t, "ada")
	first, err := c.Me(ctx)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	again, err := srv.login(t, "ada").Me(ctx)
	if err != nil {
		t.Fatalf("me again: %v", err)
	}
	if first.ID == "" || first.ID != again.ID || first.ExternalID != "ada" || first.Source != "jwt" {
		t.Fatalf("expected one stable user, got %+v and %+v", first, again)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	c := srv.login(t, "ada")
	me, err := c.Me(ctx)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	key, err := c.CreateAPIKey(ctx, "ci")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	if key.Key == "" {
		t.Fatalf("expected plaintext key on create")
	}
	headless := frequencysdk.New(srv.URL)
	headless.APIKey = key.Key
	who, err := headless.Me(ctx)
	if err != nil {
		t.Fatalf("me with key: %v", err)
	}
	if who.ID != me.ID || who.Source != "api_key" {
		t.Fatalf("api key should resolve to %s, got %+v", me.ID, who)
	}
	if err := c.RevokeAPIKey(ctx, key.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := headless.Me(ctx); apiErrorOf(t, err).StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked key should be rejected")
	}
}

func TestWinConditionFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	c := srv.login(t, "ada")

	o, err := c.CreateObjective(ctx, frequencysdk.ObjectiveInput{Title: "Win customers", Type: "okr", Category: "Sales"})
	if err != nil {
		t.Fatalf("create objective: %v", err)
	}
	target := 10.0
	metric, err := c.AddKeyResult(ctx, o.ID, frequencysdk.KeyResultInput{Title: "Demos", Type: "leading", Target: &target})
	if err != nil {
		t.Fatalf("add metric: %v", err)
	}
	wc, err := c.AddKeyResult(ctx, o.ID, frequencysdk.KeyResultInput{Title: "Logos", Type: "win_condition"})
	if err != nil {
		t.Fatalf("add win condition: %v", err)
	}
	if wc.Unit != domain.WinsUnit || wc.Current != 0 {
		t.Fatalf("unexpected win condition %+v", wc)
	}
	if _, err := c.SetProgress(ctx, metric.ID, 5); err != nil {
		t.Fatalf("set progress: %v", err)
	}
	p, err := c.CreatePerson(ctx, "Grace Hopper", "")
	if err != nil {
		t.Fatalf("create person: %v", err)
	}
	if _, err := c.LogWin(ctx, frequencysdk.WinInput{Note: "Signed Acme", KeyResultID: wc.ID, AttributedTo: []string{p.ID}}); err != nil {
		t.Fatalf("log win: %v", err)
	}

	got, err := c.GetObjective(ctx, o.ID)
	if err != nil {
		t.Fatalf("get objective: %v", err)
	}
	if got.TotalWins != 1 || got.KeyResults[1].Current != 1 || got.Progress != 50 {
		t.Fatalf("unexpected objective %+v", got)
	}

	feed, err := c.Feed(ctx, "", "", 0)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(feed) != 1 || feed[0].KeyResultTitle != "Logos" || feed[0].Attribution[0].Initials != "GH" {
		t.Fatalf("unexpected feed %+v", feed)
	}

	dash, err := c.Dashboard(ctx, "okr")
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if dash.Objectives != 1 || dash.Wins != 1 || len(dash.Categories) != 1 || dash.Categories[0].Name != "Sales" {
		t.Fatalf("unexpected dashboard %+v", dash)
	}

	_, err = c.LogWin(ctx, frequencysdk.WinInput{Note: "nope", KeyResultID: metric.ID})
	apiErr := apiErrorOf(t, err)
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != "bad_request" {
		t.Fatalf("win against metric should be 400, got %+v", apiErr)
	}
	_, err = c.SetProgress(ctx, wc.ID, 3)
	if apiErrorOf(t, err).StatusCode != http.StatusBadRequest {
		t.Fatalf("progress on win condition should be 400")
	}
}

func TestNotFoundAndDeleteCascadeOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	c := srv.login(t, "ada")

	_, err := c.GetObjective(ctx, "missing")
	if apiErr := apiErrorOf(t, err); apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "not_found" {
		t.Fatalf("expected 404, got %+v", apiErr)
	}
	o, err := c.CreateObjective(ctx, frequencysdk.ObjectiveInput{Title: "Ship", Type: "goal"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := c.LogWin(ctx, frequencysdk.WinInput{Note: "Launched", ObjectiveID: o.ID}); err != nil {
		t.Fatalf("log win: %v", err)
	}
	if err := c.DeleteObjective(ctx, o.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	feed, err := c.Feed(ctx, "", "", 0)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(feed) != 0 {
		t.Fatalf("wins of a deleted objective should leave the feed, got %d", len(feed))
	}
}

func TestReorderAndMoveOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	c := srv.login(t, "ada")
	mk := func(title, category string) frequencysdk.Objective {
		o, err := c.CreateObjective(ctx, frequencysdk.ObjectiveInput{Title: title, Type: "okr", Category: category})
		if err != nil {
			t.Fatalf("create %s: %v", title, err)
		}
		return o
	}
	company := mk("C1", "Company")
	mk("S1", "Sales")
	eng := mk("E1", "Engineering")

	items, err := c.MoveObjective(ctx, eng.ID, company.ID, "All")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if items[0].ID != eng.ID || items[0].Category != "Company" {
		t.Fatalf("expected E1 first in Company, got %+v", items[0])
	}

	items, err = c.ReorderObjectives(ctx, "okr", "Company", 1, 0)
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if items[0].ID != company.ID {
		t.Fatalf("expected C1 back on top, got %s", items[0].Title)
	}
	stored, err := c.ListObjectives(ctx, "okr", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	titles := []string{}
	for _, o := range stored {
		titles = append(titles, o.Title)
	}
	if len(titles) != 3 || titles[0] != "C1" || titles[1] != "E1" || titles[2] != "S1" {
		t.Fatalf("unexpected stored order %v", titles)
	}

	prev, next, err := c.Neighbors(ctx, eng.ID, "okr", "")
	if err != nil {
		t.Fatalf("neighbors: %v", err)
	}
	if prev != company.ID || next == "" {
		t.Fatalf("unexpected neighbors %q %q", prev, next)
	}
}

func TestCategoriesOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	c := srv.login(t, "ada")
	if _, err := c.CreateCategory(ctx, "Sales"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := c.CreateCategory(ctx, "Product"); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := c.CreateCategory(ctx, "sales")
	if apiErrorOf(t, err).StatusCode != http.StatusBadRequest {
		t.Fatalf("duplicate category should be rejected")
	}
	cats, err := c.ReorderCategories(ctx, 1, 0)
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if cats[0].Name != "Product" {
		t.Fatalf("unexpected order %+v", cats)
	}
}

func TestEventsPagination(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	c := srv.login(t, "ada")
	for _, title := range []string{"A", "B", "C"} {
		if _, err := c.CreateObjective(ctx, frequencysdk.ObjectiveInput{Title: title, Type: "okr"}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	page, err := c.EventsPage(ctx, 2, "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("expected a full first page with a cursor, got %+v", page)
	}
	if page.Items[0].Type != "objective.created" || page.Items[0].ID <= page.Items[1].ID {
		t.Fatalf("expected newest first, got %+v", page.Items)
	}
	rest, err := c.EventsPage(ctx, 50, page.NextCursor)
	if err != nil {
		t.Fatalf("events page 2: %v", err)
	}
	for _, evt := range rest.Items {
		if evt.ID >= page.Items[1].ID {
			t.Fatalf("second page overlaps first: %d", evt.ID)
		}
	}
}

func TestHandleErrorMapsReconciledReorder(t *testing.T) {
	err := engine.ReconciledError{
		Err:        engine.PersistenceError{Op: "update objectives order", Err: errors.New("disk full")},
		Objectives: []domain.Objective{{ID: "o1", Title: "A", Type: domain.ObjectiveOKR}},
	}
	se := handleError(err)
	apiErr, ok := se.(*apiError)
	if !ok {
		t.Fatalf("unexpected error type %T", se)
	}
	if apiErr.GetStatus() != http.StatusConflict || apiErr.Body.Code != "reorder_conflict" {
		t.Fatalf("unexpected mapping %+v", apiErr)
	}
	if _, ok := apiErr.Body.Details["objectives"]; !ok {
		t.Fatalf("reconciled state missing from details")
	}
	if handleError(errors.New("boom")).GetStatus() != http.StatusInternalServerError {
		t.Fatalf("unknown errors should be 500")
	}
}

func TestWebhookDispatcherDeliversNewEvents(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	var (
		mu       sync.Mutex
		received []webhookEvent
		sigs     []string
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			t.Errorf("decode webhook: %v", err)
		}
		mu.Lock()
		received = append(received, evt)
		sigs = append(sigs, r.Header.Get("X-Frequency-Signature"))
		mu.Unlock()
	}))
	defer hook.Close()

	if _, err := srv.Engine.CreateObjective(ctx, engine.ObjectiveCreateOptions{Title: "Before", Type: domain.ObjectiveOKR, ActorID: "u1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	cfg := config.Default("test")
	cfg.Webhooks = []config.Webhook{{URL: hook.URL, Events: []string{"win.logged"}, Secret: "s3cret"}}
	d := newWebhookDispatcher(srv.Repo, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	d.dispatchAll(ctx)

	o, err := srv.Engine.CreateObjective(ctx, engine.ObjectiveCreateOptions{Title: "After", Type: domain.ObjectiveOKR, ActorID: "u1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := srv.Engine.LogWin(ctx, engine.LogWinOptions{Note: "Done", ObjectiveID: o.ID, ActorID: "u1"}); err != nil {
		t.Fatalf("log win: %v", err)
	}
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected only the win event, got %d", len(received))
	}
	if received[0].Type != "win.logged" || received[0].Workspace != "test" {
		t.Fatalf("unexpected delivery %+v", received[0])
	}
	if sigs[0] == "" {
		t.Fatalf("expected signature header")
	}
}
