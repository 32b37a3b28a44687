// Package ordering implements drag-and-drop reordering over ordered lists:
// moves inside a filtered view, moves across the privileged category boundary,
// renumbering, and next/previous navigation.
//
// All functions are pure. They never mutate their inputs.
package ordering

import (
	"frequency/internal/domain"
)

// Move relocates the element at from to index to, shifting the elements in between.
func Move[T any](list []T, from, to int) ([]T, error) {
	if from < 0 || from >= len(list) {
		return nil, domain.Invalid("from", "out of range")
	}
	if to < 0 || to >= len(list) {
		return nil, domain.Invalid("to", "out of range")
	}
	out := make([]T, 0, len(list))
	item := list[from]
	for i, v := range list {
		if i != from {
			out = append(out, v)
		}
	}
	out = append(out[:to], append([]T{item}, out[to:]...)...)
	return out, nil
}

// ReorderWithinFilter moves an item inside the subsequence selected by match.
// from and to index into that subsequence. The reordered subsequence is written
// back into the slots the matching items occupied, so items outside the filter
// keep their positions.
func ReorderWithinFilter[T any](full []T, match func(T) bool, from, to int) ([]T, error) {
	var slots []int
	var sub []T
	for i, v := range full {
		if match(v) {
			slots = append(slots, i)
			sub = append(sub, v)
		}
	}
	moved, err := Move(sub, from, to)
	if err != nil {
		return nil, err
	}
	out := append([]T(nil), full...)
	for i, slot := range slots {
		out[slot] = moved[i]
	}
	return out, nil
}

// Sections describes the split of the unfiltered objective view: objectives in
// the privileged category are shown first, everything else after.
type Sections struct {
	Privileged string
	// Fallback is the category given to an objective dragged out of the
	// privileged section onto an uncategorized one.
	Fallback string
}

func (s Sections) privileged(o domain.Objective) bool {
	return o.Category == s.Privileged
}

// ReorderAcrossCategoryBoundary moves draggedID to the position of overID in
// the unfiltered view. When the two sit on different sides of the privileged
// boundary the dragged objective takes the destination section's category and
// the list is rebuilt with the privileged section first. Otherwise it is a
// plain reorder inside the dragged objective's section.
func ReorderAcrossCategoryBoundary(full []domain.Objective, draggedID, overID string, s Sections) ([]domain.Objective, error) {
	from := indexOf(full, draggedID)
	if from < 0 {
		return nil, domain.Invalid("id", "not in list")
	}
	over := indexOf(full, overID)
	if over < 0 {
		return nil, domain.Invalid("over_id", "not in list")
	}
	if draggedID == overID {
		return append([]domain.Objective(nil), full...), nil
	}
	dragged, target := full[from], full[over]
	toPrivileged := s.privileged(target)

	if s.privileged(dragged) == toPrivileged {
		inSection := func(o domain.Objective) bool { return s.privileged(o) == toPrivileged }
		return ReorderWithinFilter(full, inSection, sectionIndex(full, draggedID, inSection), sectionIndex(full, overID, inSection))
	}

	switch {
	case toPrivileged:
		dragged.Category = s.Privileged
	case target.Category != "":
		dragged.Category = target.Category
	default:
		dragged.Category = s.Fallback
	}

	var dest, other []domain.Objective
	insertAt := -1
	for _, o := range full {
		if o.ID == draggedID {
			continue
		}
		if s.privileged(o) == toPrivileged {
			if o.ID == overID {
				insertAt = len(dest)
			}
			dest = append(dest, o)
		} else {
			other = append(other, o)
		}
	}
	dest = append(dest[:insertAt], append([]domain.Objective{dragged}, dest[insertAt:]...)...)

	out := make([]domain.Objective, 0, len(full))
	if toPrivileged {
		out = append(append(out, dest...), other...)
	} else {
		out = append(append(out, other...), dest...)
	}
	return out, nil
}

// Renumber assigns contiguous order values following list position.
func Renumber(list []domain.Objective) []domain.Objective {
	out := append([]domain.Objective(nil), list...)
	for i := range out {
		out[i].Order = i
	}
	return out
}

// RenumberKeyResults is Renumber for key results within one objective.
func RenumberKeyResults(list []domain.KeyResult) []domain.KeyResult {
	out := append([]domain.KeyResult(nil), list...)
	for i := range out {
		out[i].Order = i
	}
	return out
}

// ObjectiveUpdates diffs a reordered list against the original and returns the
// batch write for it. Positions become order values. Entries whose order and
// category are unchanged are skipped, and category is only set when it moved.
func ObjectiveUpdates(before, after []domain.Objective) []domain.OrderUpdate {
	prev := make(map[string]domain.Objective, len(before))
	for _, o := range before {
		prev[o.ID] = o
	}
	updates := []domain.OrderUpdate{}
	for i, o := range after {
		old, ok := prev[o.ID]
		u := domain.OrderUpdate{ID: o.ID, Order: i}
		if !ok || old.Category != o.Category {
			category := o.Category
			u.Category = &category
		}
		if ok && old.Order == i && u.Category == nil {
			continue
		}
		updates = append(updates, u)
	}
	return updates
}

// KeyResultUpdates is ObjectiveUpdates for key results, which carry no category.
func KeyResultUpdates(before, after []domain.KeyResult) []domain.OrderUpdate {
	prev := make(map[string]int, len(before))
	for _, kr := range before {
		prev[kr.ID] = kr.Order
	}
	updates := []domain.OrderUpdate{}
	for i, kr := range after {
		if order, ok := prev[kr.ID]; ok && order == i {
			continue
		}
		updates = append(updates, domain.OrderUpdate{ID: kr.ID, Order: i})
	}
	return updates
}

func indexOf(list []domain.Objective, id string) int {
	for i, o := range list {
		if o.ID == id {
			return i
		}
	}
	return -1
}

func sectionIndex(list []domain.Objective, id string, match func(domain.Objective) bool) int {
	n := 0
	for _, o := range list {
		if !match(o) {
			continue
		}
		if o.ID == id {
			return n
		}
		n++
	}
	return -1
}
