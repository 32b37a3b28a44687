package domain

import (
	"hash/fnv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// PersonPalette is the set of avatar colors handed out to new people.
var PersonPalette = []string{"bg-blue-500", "bg-emerald-500", "bg-violet-500", "bg-rose-500", "bg-amber-500", "bg-cyan-500"}

// Initials takes the first letter of up to two words, uppercased.
func Initials(name string) string {
	var b strings.Builder
	for _, word := range strings.Fields(name) {
		r, _ := utf8.DecodeRuneInString(word)
		b.WriteRune(unicode.ToUpper(r))
		if utf8.RuneCountInString(b.String()) == 2 {
			break
		}
	}
	return b.String()
}

// ColorFor picks a palette color from the name so the same name always gets the same color.
func ColorFor(name string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(name))))
	return PersonPalette[int(h.Sum32()%uint32(len(PersonPalette)))]
}

// Attribution is a person reference resolved for display.
type Attribution struct {
	PersonID string `json:"person_id"`
	Name     string `json:"name"`
	Initials string `json:"initials,omitempty"`
	Color    string `json:"color,omitempty"`
	Removed  bool   `json:"removed,omitempty"`
}

const UnknownPersonName = "Unknown"

// Directory resolves person ids, including tombstoned people.
type Directory map[string]Person

func NewDirectory(people []Person) Directory {
	d := make(Directory, len(people))
	for _, p := range people {
		d[p.ID] = p
	}
	return d
}

// Resolve never fails: ids of removed or unknown people resolve to a placeholder.
func (d Directory) Resolve(ids []string) []Attribution {
	out := make([]Attribution, 0, len(ids))
	for _, id := range ids {
		p, ok := d[id]
		switch {
		case !ok:
			out = append(out, Attribution{PersonID: id, Name: UnknownPersonName, Removed: true})
		case p.DeletedAt != "":
			out = append(out, Attribution{PersonID: id, Name: p.Name, Initials: p.Initials, Color: p.Color, Removed: true})
		default:
			out = append(out, Attribution{PersonID: id, Name: p.Name, Initials: p.Initials, Color: p.Color})
		}
	}
	return out
}
