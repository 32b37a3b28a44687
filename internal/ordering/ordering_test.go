package ordering_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frequency/internal/domain"
	"frequency/internal/ordering"
)

var sections = ordering.Sections{Privileged: "Company", Fallback: "General"}

func obj(id, category string, order int) domain.Objective {
	return domain.Objective{ID: id, Category: category, Order: order, Type: domain.ObjectiveOKR}
}

func ids(list []domain.Objective) []string {
	out := make([]string, len(list))
	for i, o := range list {
		out[i] = o.ID
	}
	return out
}

func byID(list []domain.Objective, id string) domain.Objective {
	for _, o := range list {
		if o.ID == id {
			return o
		}
	}
	return domain.Objective{}
}

func TestMove(t *testing.T) {
	got, err := ordering.Move([]string{"a", "b", "c", "d"}, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "d", "b", "c"}, got)

	got, err = ordering.Move([]string{"a", "b", "c"}, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "a"}, got)

	_, err = ordering.Move([]string{"a"}, 0, 1)
	var verr domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "to", verr.Field)
}

func TestReorderWithinFilterKeepsOthersInPlace(t *testing.T) {
	full := []domain.Objective{obj("A", "X", 0), obj("B", "Y", 0), obj("C", "X", 1)}
	inX := func(o domain.Objective) bool { return o.Category == "X" }

	got, err := ordering.ReorderWithinFilter(full, inX, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "B", "A"}, ids(got))
	assert.Equal(t, 1, indexOfID(got, "B"))
	// input untouched
	assert.Equal(t, []string{"A", "B", "C"}, ids(full))
}

func TestReorderWithinFilterLongerList(t *testing.T) {
	full := []domain.Objective{
		obj("s1", "Sales", 0), obj("e1", "Eng", 1), obj("s2", "Sales", 2),
		obj("e2", "Eng", 3), obj("s3", "Sales", 4),
	}
	inSales := func(o domain.Objective) bool { return o.Category == "Sales" }
	got, err := ordering.ReorderWithinFilter(full, inSales, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"s2", "e1", "s3", "e2", "s1"}, ids(got))
}

func TestCrossBoundaryIntoPrivileged(t *testing.T) {
	full := []domain.Objective{
		obj("c1", "Company", 0), obj("c2", "Company", 1),
		obj("s1", "Sales", 2), obj("e1", "Engineering", 3),
	}
	got, err := ordering.ReorderAcrossCategoryBoundary(full, "e1", "c2", sections)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "e1", "c2", "s1"}, ids(got))
	assert.Equal(t, "Company", byID(got, "e1").Category)

	updates := ordering.ObjectiveUpdates(full, got)
	require.NotEmpty(t, updates)
	var moved *domain.OrderUpdate
	for i := range updates {
		if updates[i].ID == "e1" {
			moved = &updates[i]
		} else {
			assert.Nil(t, updates[i].Category, updates[i].ID)
		}
	}
	require.NotNil(t, moved)
	assert.Equal(t, 1, moved.Order)
	require.NotNil(t, moved.Category)
	assert.Equal(t, "Company", *moved.Category)
}

func TestCrossBoundaryOutOfPrivileged(t *testing.T) {
	full := []domain.Objective{
		obj("c1", "Company", 0), obj("s1", "Sales", 1), obj("u1", "", 2),
	}
	got, err := ordering.ReorderAcrossCategoryBoundary(full, "c1", "s1", sections)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "s1", "u1"}, ids(got))
	assert.Equal(t, "Sales", byID(got, "c1").Category)

	got, err = ordering.ReorderAcrossCategoryBoundary(full, "c1", "u1", sections)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "c1", "u1"}, ids(got))
	assert.Equal(t, "General", byID(got, "c1").Category)
}

func TestSameSectionFallsBackToReorder(t *testing.T) {
	full := []domain.Objective{
		obj("c1", "Company", 0), obj("s1", "Sales", 1), obj("c2", "Company", 2), obj("e1", "Eng", 3),
	}
	got, err := ordering.ReorderAcrossCategoryBoundary(full, "e1", "s1", sections)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "e1", "c2", "s1"}, ids(got))
	assert.Equal(t, "Eng", byID(got, "e1").Category)
}

func TestCrossBoundaryUnknownIDs(t *testing.T) {
	full := []domain.Objective{obj("a", "Company", 0)}
	_, err := ordering.ReorderAcrossCategoryBoundary(full, "zz", "a", sections)
	assert.Error(t, err)
	_, err = ordering.ReorderAcrossCategoryBoundary(full, "a", "zz", sections)
	assert.Error(t, err)
	got, err := ordering.ReorderAcrossCategoryBoundary(full, "a", "a", sections)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(got))
}

func TestObjectiveUpdatesSkipsUnchanged(t *testing.T) {
	before := []domain.Objective{obj("a", "X", 0), obj("b", "X", 1), obj("c", "X", 2)}
	after := []domain.Objective{before[0], before[2], before[1]}
	updates := ordering.ObjectiveUpdates(before, after)
	assert.Equal(t, []domain.OrderUpdate{{ID: "c", Order: 1}, {ID: "b", Order: 2}}, updates)
}

func TestKeyResultUpdates(t *testing.T) {
	before := []domain.KeyResult{{ID: "k1", Order: 0}, {ID: "k2", Order: 1}}
	after, err := ordering.Move(before, 1, 0)
	require.NoError(t, err)
	updates := ordering.KeyResultUpdates(before, after)
	assert.Equal(t, []domain.OrderUpdate{{ID: "k2", Order: 0}, {ID: "k1", Order: 1}}, updates)
	assert.Equal(t, []int{0, 1}, []int{ordering.RenumberKeyResults(after)[0].Order, ordering.RenumberKeyResults(after)[1].Order})
}

func TestRenumber(t *testing.T) {
	got := ordering.Renumber([]domain.Objective{obj("a", "", 7), obj("b", "", 3)})
	assert.Equal(t, 0, got[0].Order)
	assert.Equal(t, 1, got[1].Order)
}

func TestNavigation(t *testing.T) {
	list := []string{"a", "b", "c"}
	next, ok := ordering.Next(list, "a")
	assert.True(t, ok)
	assert.Equal(t, "b", next)

	_, ok = ordering.Next(list, "c")
	assert.False(t, ok)
	_, ok = ordering.Prev(list, "a")
	assert.False(t, ok)

	prev, ok := ordering.Prev(list, "c")
	assert.True(t, ok)
	assert.Equal(t, "b", prev)

	_, ok = ordering.Next(list, "missing")
	assert.False(t, ok)
}

func indexOfID(list []domain.Objective, id string) int {
	for i, o := range list {
		if o.ID == id {
			return i
		}
	}
	return -1
}
