package engine

import (
	"context"
	"sort"
	"strings"

	"frequency/internal/domain"
	"frequency/internal/engine/auth"
	"frequency/internal/metrics"
	"frequency/internal/repo"
)

// LogWinOptions target exactly one of ObjectiveID or KeyResultID. With
// ObjectiveID, LinkedKeyResultID optionally redirects the win to one of that
// objective's win conditions.
type LogWinOptions struct {
	Note              string   `json:"note" validate:"required"`
	AttributedTo      []string `json:"attributed_to"`
	ObjectiveID       string   `json:"objective_id"`
	KeyResultID       string   `json:"key_result_id"`
	LinkedKeyResultID string   `json:"linked_key_result_id"`
	ActorID           string   `json:"-"`
}

// LogWin records a win. A key result win must target a win condition, whose
// current then equals the new length of its log.
func (e Engine) LogWin(ctx context.Context, opts LogWinOptions) (domain.WinLog, error) {
	if err := auth.RequireActor(opts.ActorID); err != nil {
		return domain.WinLog{}, err
	}
	opts.Note = strings.TrimSpace(opts.Note)
	if err := check(opts); err != nil {
		return domain.WinLog{}, err
	}
	if (opts.ObjectiveID == "") == (opts.KeyResultID == "") {
		return domain.WinLog{}, domain.Invalid("target", "needs exactly one of objective_id or key_result_id")
	}
	if opts.LinkedKeyResultID != "" && opts.ObjectiveID == "" {
		return domain.WinLog{}, domain.Invalid("linked_key_result_id", "requires objective_id")
	}
	objectiveID, keyResultID := opts.ObjectiveID, opts.KeyResultID
	if opts.LinkedKeyResultID != "" {
		kr, err := e.GetKeyResult(ctx, opts.LinkedKeyResultID)
		if err != nil {
			return domain.WinLog{}, err
		}
		if kr.ObjectiveID != opts.ObjectiveID {
			return domain.WinLog{}, domain.Invalid("linked_key_result_id", "belongs to another objective")
		}
		objectiveID, keyResultID = "", kr.ID
	}
	if keyResultID != "" {
		kr, err := e.GetKeyResult(ctx, keyResultID)
		if err != nil {
			return domain.WinLog{}, err
		}
		if !kr.IsWinCondition() {
			return domain.WinLog{}, domain.Invalid("key_result_id", "is not a win condition")
		}
	}
	attributed, err := e.checkPeople(ctx, opts.AttributedTo)
	if err != nil {
		return domain.WinLog{}, err
	}
	w := domain.WinLog{
		ID:           e.newID(),
		Date:         e.now(),
		Note:         opts.Note,
		AttributedTo: attributed,
		ObjectiveID:  objectiveID,
		KeyResultID:  keyResultID,
		CreatedBy:    opts.ActorID,
	}
	if err := e.Store.InsertWinLog(ctx, w, opts.ActorID); err != nil {
		return domain.WinLog{}, e.persistErr("log win", err, "objective_id", objectiveID, "key_result_id", keyResultID)
	}
	scope := "objective"
	if keyResultID != "" {
		scope = "key_result"
	}
	metrics.WinsLogged.WithLabelValues(scope).Inc()
	e.logger().Info("win logged", "id", w.ID, "scope", scope, "attributed", len(attributed))
	stored, err := e.Store.GetWinLog(ctx, w.ID)
	if err != nil {
		return domain.WinLog{}, e.persistErr("refetch win", err, "id", w.ID)
	}
	return stored, nil
}

// DeleteWin tombstones a win. The owning win condition's current drops with it.
func (e Engine) DeleteWin(ctx context.Context, id, actorID string) error {
	if err := auth.RequireActor(actorID); err != nil {
		return err
	}
	if err := e.Store.DeleteWinLog(ctx, id, actorID); err != nil {
		return e.persistErr("delete win", err, "id", id)
	}
	metrics.WinsDeleted.Inc()
	return nil
}

// checkPeople dedupes attribution ids and requires each to be a live person.
func (e Engine) checkPeople(ctx context.Context, ids []string) ([]string, error) {
	out := []string{}
	if len(ids) == 0 {
		return out, nil
	}
	people, err := e.Store.ListPeople(ctx, false)
	if err != nil {
		return nil, e.persistErr("list people", err)
	}
	live := make(map[string]bool, len(people))
	for _, p := range people {
		live[p.ID] = true
	}
	seen := map[string]bool{}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		if !live[id] {
			return nil, domain.Invalid("attributed_to", "unknown person "+id)
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

// FeedEntry is one win in the activity feed with its source resolved.
type FeedEntry struct {
	Win            domain.WinLog        `json:"win"`
	ObjectiveID    string               `json:"objective_id"`
	ObjectiveTitle string               `json:"objective_title"`
	ObjectiveType  domain.ObjectiveType `json:"objective_type"`
	Category       string               `json:"category"`
	KeyResultID    string               `json:"key_result_id,omitempty"`
	KeyResultTitle string               `json:"key_result_title,omitempty"`
	Attribution    []domain.Attribution `json:"attribution"`
}

// FeedQuery narrows the wins feed. Limit 0 returns everything.
type FeedQuery struct {
	Type     domain.ObjectiveType
	PersonID string
	Limit    int
}

// WinsFeed flattens every live win, newest first.
func (e Engine) WinsFeed(ctx context.Context, q FeedQuery) ([]FeedEntry, error) {
	objs, err := e.Store.ListObjectives(ctx, repo.ObjectiveFilter{Type: q.Type})
	if err != nil {
		return nil, e.persistErr("list objectives", err)
	}
	people, err := e.Store.ListPeople(ctx, true)
	if err != nil {
		return nil, e.persistErr("list people", err)
	}
	dir := domain.NewDirectory(people)
	feed := []FeedEntry{}
	add := func(o domain.Objective, kr *domain.KeyResult, w domain.WinLog) {
		if q.PersonID != "" && !contains(w.AttributedTo, q.PersonID) {
			return
		}
		entry := FeedEntry{
			Win:            w,
			ObjectiveID:    o.ID,
			ObjectiveTitle: o.Title,
			ObjectiveType:  o.Type,
			Category:       o.Category,
			Attribution:    dir.Resolve(w.AttributedTo),
		}
		if kr != nil {
			entry.KeyResultID = kr.ID
			entry.KeyResultTitle = kr.Title
		}
		feed = append(feed, entry)
	}
	for _, o := range objs {
		for _, w := range o.Wins {
			add(o, nil, w)
		}
		for i := range o.KeyResults {
			for _, w := range o.KeyResults[i].WinLog {
				add(o, &o.KeyResults[i], w)
			}
		}
	}
	sort.SliceStable(feed, func(i, j int) bool {
		if feed[i].Win.Date != feed[j].Win.Date {
			return feed[i].Win.Date > feed[j].Win.Date
		}
		return feed[i].Win.ID > feed[j].Win.ID
	})
	if q.Limit > 0 && len(feed) > q.Limit {
		feed = feed[:q.Limit]
	}
	return feed, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
