package engine_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"frequency/internal/config"
	"frequency/internal/db"
	"frequency/internal/domain"
	"frequency/internal/engine"
	"frequency/internal/engine/auth"
	"frequency/internal/migrate"
	"frequency/internal/progress"
	"frequency/internal/repo"
)

const actor = "tester"

type testEnv struct {
	Engine engine.Engine
	Repo   repo.Repo
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
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
	eng := engine.New(r, config.Default("test"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return testEnv{Engine: eng, Repo: r, Ctx: context.Background()}
}

func (env testEnv) objective(t *testing.T, title, category string) domain.Objective {
	t.Helper()
	o, err := env.Engine.CreateObjective(env.Ctx, engine.ObjectiveCreateOptions{Title: title, Type: domain.ObjectiveOKR, Category: category, ActorID: actor})
	if err != nil {
		t.Fatalf("create objective %s: %v", title, err)
	}
	return o
}

func (env testEnv) winCondition(t *testing.T, objectiveID, title string) domain.KeyResult {
	t.Helper()
	kr, err := env.Engine.CreateKeyResult(env.Ctx, engine.KeyResultCreateOptions{ObjectiveID: objectiveID, Title: title, Type: domain.KeyResultWinCondition, ActorID: actor})
	if err != nil {
		t.Fatalf("create win condition: %v", err)
	}
	return kr
}

func isValidation(err error) bool {
	var verr domain.ValidationError
	return errors.As(err, &verr)
}

func TestCreateObjectiveDefaults(t *testing.T) {
	env := newTestEnv(t)
	first := env.objective(t, "  Grow revenue ", "")
	if first.Title != "Grow revenue" || first.Category != "General" || first.Order != 0 || first.Status != domain.StatusActive {
		t.Fatalf("unexpected objective %+v", first)
	}
	if len(first.KeyResults) != 0 || len(first.Wins) != 0 {
		t.Fatalf("new objective should be empty")
	}
	second := env.objective(t, "Ship v2", "Engineering")
	if second.Order != 1 {
		t.Fatalf("expected order 1, got %d", second.Order)
	}
	goal, err := env.Engine.CreateObjective(env.Ctx, engine.ObjectiveCreateOptions{Title: "Run a marathon", Type: domain.ObjectiveGoal, ActorID: actor})
	if err != nil || goal.Order != 0 {
		t.Fatalf("goal order should start independently: %+v %v", goal, err)
	}
	if err := env.Engine.DeleteObjective(env.Ctx, second.ID, actor); err != nil {
		t.Fatalf("delete: %v", err)
	}
	third := env.objective(t, "Hire", "")
	if third.Order != 2 {
		t.Fatalf("freed order slot should not be reused, got %d", third.Order)
	}
}

func TestCreateObjectiveValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateObjective(env.Ctx, engine.ObjectiveCreateOptions{Title: "   ", ActorID: actor})
	if !isValidation(err) {
		t.Fatalf("expected validation error for blank title, got %v", err)
	}
	_, err = env.Engine.CreateObjective(env.Ctx, engine.ObjectiveCreateOptions{Title: "x", Type: "epic", ActorID: actor})
	if !isValidation(err) {
		t.Fatalf("expected validation error for bad type, got %v", err)
	}
	_, err = env.Engine.CreateObjective(env.Ctx, engine.ObjectiveCreateOptions{Title: "x"})
	var unauth auth.UnauthenticatedError
	if !errors.As(err, &unauth) {
		t.Fatalf("expected unauthenticated error, got %v", err)
	}
}

func TestMetricEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	o := env.objective(t, "Grow revenue", "Sales")
	target := 10.0
	kr, err := env.Engine.CreateKeyResult(env.Ctx, engine.KeyResultCreateOptions{
		ObjectiveID: o.ID, Title: "New customers", Type: domain.KeyResultLeading, Target: &target, Unit: "customers", ActorID: actor,
	})
	if err != nil {
		t.Fatalf("create kr: %v", err)
	}
	if _, err := env.Engine.LogWin(env.Ctx, engine.LogWinOptions{Note: "signed", KeyResultID: kr.ID, ActorID: actor}); !isValidation(err) {
		t.Fatalf("wins on a metric key result must be rejected, got %v", err)
	}
	four := 4.0
	kr, err = env.Engine.SetProgress(env.Ctx, engine.ProgressOptions{ID: kr.ID, Set: &four, ActorID: actor})
	if err != nil {
		t.Fatalf("set progress: %v", err)
	}
	if got := progress.KeyResult(kr); got != 40 {
		t.Fatalf("key result progress = %v", got)
	}
	o, _ = env.Engine.GetObjective(env.Ctx, o.ID)
	if got := progress.Objective(o); got != 40 {
		t.Fatalf("objective progress = %v", got)
	}
	minus := -10.0
	kr, err = env.Engine.SetProgress(env.Ctx, engine.ProgressOptions{ID: kr.ID, Delta: &minus, ActorID: actor})
	if err != nil || kr.Current != 0 {
		t.Fatalf("decrement should floor at 0: %+v %v", kr, err)
	}
}

func TestWinConditionEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	p1, err := env.Engine.CreatePerson(env.Ctx, engine.PersonCreateOptions{Name: "Ada Lovelace", ActorID: actor})
	if err != nil {
		t.Fatalf("person: %v", err)
	}
	o := env.objective(t, "Close deals", "Sales")
	half := 50.0
	metric, err := env.Engine.CreateKeyResult(env.Ctx, engine.KeyResultCreateOptions{ObjectiveID: o.ID, Title: "Pipeline", Current: half, ActorID: actor})
	if err != nil {
		t.Fatalf("metric: %v", err)
	}
	kr := env.winCondition(t, o.ID, "Close a deal")
	if kr.Target != 999999 || kr.Unit != "wins" || kr.Current != 0 {
		t.Fatalf("unexpected win condition defaults %+v", kr)
	}
	var logged []domain.WinLog
	for i := 0; i < 2; i++ {
		w, err := env.Engine.LogWin(env.Ctx, engine.LogWinOptions{Note: fmt.Sprintf("deal %d", i), AttributedTo: []string{p1.ID, p1.ID}, KeyResultID: kr.ID, ActorID: actor})
		if err != nil {
			t.Fatalf("log win: %v", err)
		}
		if len(w.AttributedTo) != 1 {
			t.Fatalf("attribution should be deduped: %v", w.AttributedTo)
		}
		logged = append(logged, w)
	}
	o, _ = env.Engine.GetObjective(env.Ctx, o.ID)
	if got := o.KeyResults[1].Current; got != 2 {
		t.Fatalf("current = %v, want 2", got)
	}
	if got := progress.Objective(o); got != 50 {
		t.Fatalf("objective progress = %v, want metric only", got)
	}
	if got := progress.TotalWins(o); got != 2 {
		t.Fatalf("total wins = %d", got)
	}
	if _, err := env.Engine.LogWin(env.Ctx, engine.LogWinOptions{Note: "third", KeyResultID: kr.ID, ActorID: actor}); err != nil {
		t.Fatalf("third win: %v", err)
	}
	kr, _ = env.Engine.GetKeyResult(env.Ctx, kr.ID)
	if kr.Current != 3 {
		t.Fatalf("current after third win = %v", kr.Current)
	}
	if err := env.Engine.DeleteWin(env.Ctx, logged[0].ID, actor); err != nil {
		t.Fatalf("delete win: %v", err)
	}
	kr, _ = env.Engine.GetKeyResult(env.Ctx, kr.ID)
	if kr.Current != 2 {
		t.Fatalf("current after delete = %v", kr.Current)
	}
	one := 1.0
	if _, err := env.Engine.SetProgress(env.Ctx, engine.ProgressOptions{ID: kr.ID, Delta: &one, ActorID: actor}); !isValidation(err) {
		t.Fatalf("win condition progress edits must be rejected, got %v", err)
	}
	_ = metric
}

func TestLogWinTargets(t *testing.T) {
	env := newTestEnv(t)
	o := env.objective(t, "Launch", "Product")
	other := env.objective(t, "Other", "Product")
	kr := env.winCondition(t, o.ID, "Ship")
	cases := []engine.LogWinOptions{
		{Note: "", ObjectiveID: o.ID},
		{Note: "both", ObjectiveID: o.ID, KeyResultID: kr.ID},
		{Note: "neither"},
		{Note: "wrong parent", ObjectiveID: other.ID, LinkedKeyResultID: kr.ID},
		{Note: "ghost", ObjectiveID: o.ID, AttributedTo: []string{"nobody"}},
	}
	for i, c := range cases {
		c.ActorID = actor
		if _, err := env.Engine.LogWin(env.Ctx, c); !isValidation(err) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
	w, err := env.Engine.LogWin(env.Ctx, engine.LogWinOptions{Note: "redirected", ObjectiveID: o.ID, LinkedKeyResultID: kr.ID, ActorID: actor})
	if err != nil {
		t.Fatalf("redirect: %v", err)
	}
	if w.KeyResultID != kr.ID || w.ObjectiveID != "" {
		t.Fatalf("win should land on the win condition only: %+v", w)
	}
	direct, err := env.Engine.LogWin(env.Ctx, engine.LogWinOptions{Note: "direct", ObjectiveID: o.ID, ActorID: actor})
	if err != nil || direct.ObjectiveID != o.ID {
		t.Fatalf("direct: %+v %v", direct, err)
	}
	got, _ := env.Engine.GetObjective(env.Ctx, o.ID)
	if len(got.Wins) != 1 || len(got.KeyResults[0].WinLog) != 1 || progress.TotalWins(got) != 2 {
		t.Fatalf("unexpected wins %+v", got)
	}
}

func TestConvertKeyResultRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	o := env.objective(t, "Quality", "Engineering")
	target := 100.0
	kr, err := env.Engine.CreateKeyResult(env.Ctx, engine.KeyResultCreateOptions{ObjectiveID: o.ID, Title: "Coverage", Current: 40, Target: &target, Unit: "%", ActorID: actor})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	kr, err = env.Engine.ConvertKeyResultType(env.Ctx, kr.ID, domain.KeyResultWinCondition, actor)
	if err != nil {
		t.Fatalf("to win condition: %v", err)
	}
	if kr.Current != 0 || kr.Unit != "wins" || kr.Target != 999999 || kr.Title != "Coverage" {
		t.Fatalf("unexpected converted key result %+v", kr)
	}
	if _, err := env.Engine.LogWin(env.Ctx, engine.LogWinOptions{Note: "bug bash", KeyResultID: kr.ID, ActorID: actor}); err != nil {
		t.Fatalf("log: %v", err)
	}
	kr, err = env.Engine.ConvertKeyResultType(env.Ctx, kr.ID, domain.KeyResultLagging, actor)
	if err != nil {
		t.Fatalf("back to metric: %v", err)
	}
	if kr.Current != 0 || kr.Target != 100 || kr.Unit != "%" || kr.Order != 0 {
		t.Fatalf("unexpected metric after conversion %+v", kr)
	}
	o, _ = env.Engine.GetObjective(env.Ctx, o.ID)
	if progress.TotalWins(o) != 0 {
		t.Fatalf("dormant wins must not count")
	}
	kr, err = env.Engine.ConvertKeyResultType(env.Ctx, kr.ID, domain.KeyResultWinCondition, actor)
	if err != nil || kr.Current != 1 {
		t.Fatalf("converting back should recount the log: %+v %v", kr, err)
	}
}

func TestDeleteCascades(t *testing.T) {
	env := newTestEnv(t)
	o := env.objective(t, "Doomed", "Sales")
	keep := env.objective(t, "Kept", "Sales")
	kr := env.winCondition(t, o.ID, "Deals")
	w, err := env.Engine.LogWin(env.Ctx, engine.LogWinOptions{Note: "n", KeyResultID: kr.ID, ActorID: actor})
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if _, err := env.Engine.LogWin(env.Ctx, engine.LogWinOptions{Note: "k", ObjectiveID: keep.ID, ActorID: actor}); err != nil {
		t.Fatalf("log keep: %v", err)
	}
	if err := env.Engine.DeleteObjective(env.Ctx, o.ID, actor); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.GetKeyResult(env.Ctx, kr.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("key result should be gone, got %v", err)
	}
	if err := env.Engine.DeleteWin(env.Ctx, w.ID, actor); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("win should already be tombstoned, got %v", err)
	}
	dash, err := env.Engine.Dashboard(env.Ctx, "")
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if dash.Objectives != 1 || dash.Wins != 1 || dash.KeyResults != 0 {
		t.Fatalf("unexpected dashboard %+v", dash)
	}
	feed, err := env.Engine.WinsFeed(env.Ctx, engine.FeedQuery{})
	if err != nil || len(feed) != 1 || feed[0].ObjectiveID != keep.ID {
		t.Fatalf("unexpected feed %+v %v", feed, err)
	}
}

func TestDeleteKeyResultDropsItsWins(t *testing.T) {
	env := newTestEnv(t)
	o := env.objective(t, "O", "Sales")
	kr := env.winCondition(t, o.ID, "Deals")
	if _, err := env.Engine.LogWin(env.Ctx, engine.LogWinOptions{Note: "n", KeyResultID: kr.ID, ActorID: actor}); err != nil {
		t.Fatalf("log: %v", err)
	}
	if err := env.Engine.DeleteKeyResult(env.Ctx, kr.ID, actor); err != nil {
		t.Fatalf("delete kr: %v", err)
	}
	o, _ = env.Engine.GetObjective(env.Ctx, o.ID)
	if len(o.KeyResults) != 0 || progress.TotalWins(o) != 0 {
		t.Fatalf("unexpected objective %+v", o)
	}
}

func TestReorderWithinCategoryView(t *testing.T) {
	env := newTestEnv(t)
	a := env.objective(t, "A", "X")
	b := env.objective(t, "B", "Y")
	c := env.objective(t, "C", "X")
	list, err := env.Engine.ReorderObjectives(env.Ctx, engine.ReorderObjectivesOptions{Type: domain.ObjectiveOKR, Category: "X", From: 1, To: 0, ActorID: actor})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if list[0].ID != c.ID || list[1].ID != b.ID || list[2].ID != a.ID {
		t.Fatalf("unexpected optimistic order %v", titles(list))
	}
	stored, _ := env.Engine.ListObjectives(env.Ctx, engine.ObjectiveQuery{Type: domain.ObjectiveOKR})
	if titles(stored) != "C,B,A" {
		t.Fatalf("unexpected stored order %s", titles(stored))
	}
}

func TestMoveAcrossPrivilegedBoundary(t *testing.T) {
	env := newTestEnv(t)
	c1 := env.objective(t, "C1", "Company")
	s1 := env.objective(t, "S1", "Sales")
	e1 := env.objective(t, "E1", "Engineering")
	list, err := env.Engine.MoveObjective(env.Ctx, engine.MoveObjectiveOptions{ID: e1.ID, OverID: c1.ID, ActorID: actor})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if titles(list) != "E1,C1,S1" {
		t.Fatalf("unexpected order %s", titles(list))
	}
	moved, _ := env.Engine.GetObjective(env.Ctx, e1.ID)
	if moved.Category != "Company" || moved.Order != 0 {
		t.Fatalf("moved objective should join Company at the top: %+v", moved)
	}
	if _, err := env.Engine.MoveObjective(env.Ctx, engine.MoveObjectiveOptions{ID: c1.ID, OverID: s1.ID, View: "All", ActorID: actor}); err != nil {
		t.Fatalf("move out: %v", err)
	}
	out, _ := env.Engine.GetObjective(env.Ctx, c1.ID)
	if out.Category != "Sales" {
		t.Fatalf("moving out of Company should take the target's category, got %s", out.Category)
	}
	if _, err := env.Engine.MoveObjective(env.Ctx, engine.MoveObjectiveOptions{ID: c1.ID, OverID: e1.ID, View: "Sales", ActorID: actor}); !isValidation(err) {
		t.Fatalf("over id outside the view should be rejected, got %v", err)
	}
}

func TestNeighborsDoNotWrap(t *testing.T) {
	env := newTestEnv(t)
	a := env.objective(t, "A", "X")
	b := env.objective(t, "B", "Y")
	c := env.objective(t, "C", "X")
	prev, next, err := env.Engine.Neighbors(env.Ctx, a.ID, engine.NeighborQuery{Category: "X"})
	if err != nil || prev != "" || next != c.ID {
		t.Fatalf("neighbors of A in X: %q %q %v", prev, next, err)
	}
	prev, next, err = env.Engine.Neighbors(env.Ctx, c.ID, engine.NeighborQuery{})
	if err != nil || prev != b.ID || next != "" {
		t.Fatalf("neighbors of C: %q %q %v", prev, next, err)
	}
	if _, _, err := env.Engine.Neighbors(env.Ctx, b.ID, engine.NeighborQuery{Category: "X"}); !isValidation(err) {
		t.Fatalf("expected error for id outside view, got %v", err)
	}
}

// failingOrderStore fails every batch order write.
type failingOrderStore struct {
	engine.Store
}

func (failingOrderStore) UpdateObjectivesOrder(context.Context, []domain.OrderUpdate, string) error {
	return errors.New("connection reset")
}

func (failingOrderStore) UpdateKeyResultsOrder(context.Context, string, []domain.OrderUpdate, string) error {
	return errors.New("connection reset")
}

func TestReorderFailureReconciles(t *testing.T) {
	env := newTestEnv(t)
	env.objective(t, "A", "X")
	env.objective(t, "B", "X")
	o := env.objective(t, "C", "X")
	k1 := env.winCondition(t, o.ID, "k1")
	env.winCondition(t, o.ID, "k2")

	failing := env.Engine
	failing.Store = failingOrderStore{Store: env.Repo}
	_, err := failing.ReorderObjectives(env.Ctx, engine.ReorderObjectivesOptions{Type: domain.ObjectiveOKR, From: 2, To: 0, ActorID: actor})
	var rec engine.ReconciledError
	if !errors.As(err, &rec) {
		t.Fatalf("expected reconciled error, got %v", err)
	}
	if titles(rec.Objectives) != "A,B,C" {
		t.Fatalf("reconciled state should be authoritative order, got %s", titles(rec.Objectives))
	}
	var perr engine.PersistenceError
	if !errors.As(err, &perr) || perr.Op != "update objectives order" {
		t.Fatalf("expected wrapped persistence error, got %v", err)
	}
	_, err = failing.ReorderKeyResults(env.Ctx, o.ID, 1, 0, actor)
	if !errors.As(err, &rec) || len(rec.KeyResults) != 2 || rec.KeyResults[0].ID != k1.ID {
		t.Fatalf("key result reorder should reconcile, got %v", err)
	}
	// a no-op move never reaches the store
	if _, err := failing.ReorderObjectives(env.Ctx, engine.ReorderObjectivesOptions{Type: domain.ObjectiveOKR, From: 1, To: 1, ActorID: actor}); err != nil {
		t.Fatalf("noop reorder: %v", err)
	}
}

func TestPeopleAndAttribution(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreatePerson(env.Ctx, engine.PersonCreateOptions{Name: "  grace   brewster hopper ", ActorID: actor})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Initials != "GB" || p.Name != "grace brewster hopper" || p.Color != domain.ColorFor(p.Name) {
		t.Fatalf("unexpected person %+v", p)
	}
	o := env.objective(t, "O", "")
	if _, err := env.Engine.LogWin(env.Ctx, engine.LogWinOptions{Note: "n", ObjectiveID: o.ID, AttributedTo: []string{p.ID}, ActorID: actor}); err != nil {
		t.Fatalf("log: %v", err)
	}
	if err := env.Engine.DeletePerson(env.Ctx, p.ID, actor); err != nil {
		t.Fatalf("delete: %v", err)
	}
	people, _ := env.Engine.ListPeople(env.Ctx)
	if len(people) != 0 {
		t.Fatalf("deleted person still listed")
	}
	feed, err := env.Engine.WinsFeed(env.Ctx, engine.FeedQuery{PersonID: p.ID})
	if err != nil || len(feed) != 1 {
		t.Fatalf("feed: %+v %v", feed, err)
	}
	if !feed[0].Attribution[0].Removed || feed[0].Attribution[0].Name != p.Name {
		t.Fatalf("removed person should resolve as removed: %+v", feed[0].Attribution)
	}
}

func TestCategories(t *testing.T) {
	env := newTestEnv(t)
	sales, err := env.Engine.CreateCategory(env.Ctx, "Sales", actor)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.CreateCategory(env.Ctx, "sales", actor); !isValidation(err) {
		t.Fatalf("duplicate should be rejected, got %v", err)
	}
	eng, _ := env.Engine.CreateCategory(env.Ctx, "Engineering", actor)
	cats, err := env.Engine.ReorderCategories(env.Ctx, 1, 0, actor)
	if err != nil || cats[0].ID != eng.ID {
		t.Fatalf("reorder: %+v %v", cats, err)
	}
	env.objective(t, "Tagged", "Sales")
	if err := env.Engine.DeleteCategory(env.Ctx, sales.ID, actor); err != nil {
		t.Fatalf("delete: %v", err)
	}
	objs, _ := env.Engine.ListObjectives(env.Ctx, engine.ObjectiveQuery{Category: "Sales"})
	if len(objs) != 1 {
		t.Fatalf("objectives keep their category label after delete")
	}
	if _, err := env.Engine.CreateCategory(env.Ctx, "Sales", actor); err != nil {
		t.Fatalf("name should be free again: %v", err)
	}
}

func TestWinsFeedNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	o := env.objective(t, "O", "Sales")
	kr := env.winCondition(t, o.ID, "Deals")
	first, _ := env.Engine.LogWin(env.Ctx, engine.LogWinOptions{Note: "first", ObjectiveID: o.ID, ActorID: actor})
	second, _ := env.Engine.LogWin(env.Ctx, engine.LogWinOptions{Note: "second", KeyResultID: kr.ID, ActorID: actor})
	feed, err := env.Engine.WinsFeed(env.Ctx, engine.FeedQuery{Limit: 5})
	if err != nil || len(feed) != 2 {
		t.Fatalf("feed: %v", err)
	}
	if feed[0].Win.ID != second.ID || feed[0].KeyResultTitle != "Deals" || feed[1].Win.ID != first.ID {
		t.Fatalf("unexpected feed order %+v", feed)
	}
}

func titles(list []domain.Objective) string {
	out := ""
	for i, o := range list {
		if i > 0 {
			out += ","
		}
		out += o.Title
	}
	return out
}
