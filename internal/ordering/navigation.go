package ordering

// Next returns the id after selected in ids. ok is false at the end of the
// list or when selected is absent; navigation never wraps.
func Next(ids []string, selected string) (string, bool) {
	return step(ids, selected, 1)
}

// Prev returns the id before selected in ids, with the same rules as Next.
func Prev(ids []string, selected string) (string, bool) {
	return step(ids, selected, -1)
}

func step(ids []string, selected string, delta int) (string, bool) {
	for i, id := range ids {
		if id != selected {
			continue
		}
		j := i + delta
		if j < 0 || j >= len(ids) {
			return "", false
		}
		return ids[j], true
	}
	return "", false
}
