package dynexp

import (
	"sort"

	"github.com/dynexp-go/core/errs"
)

// LibraryEntry bridges a textual (category, name) pair, as stored in
// project XML, to concrete object construction.
type LibraryEntry struct {
	Category string
	Name     string

	NewObject      func(id ItemID, owner ThreadID) Object
	NewConfigurator func() Configurator
}

// Library is a category-then-name sorted list of entries, matching the
// platform's compile-time assembled library vector. It is the only bridge
// between project-file text and concrete construction.
type Library struct {
	entries []LibraryEntry
}

// NewLibrary builds a Library, sorting entries once at construction time
// rather than re-sorting on every lookup.
func NewLibrary(entries ...LibraryEntry) *Library {
	sorted := make([]LibraryEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Category != sorted[j].Category {
			return sorted[i].Category < sorted[j].Category
		}
		return sorted[i].Name < sorted[j].Name
	})
	return &Library{entries: sorted}
}

// Find performs a binary search for the (category, name) pair.
func (l *Library) Find(category, name string) (LibraryEntry, error) {
	idx := sort.Search(len(l.entries), func(i int) bool {
		e := l.entries[i]
		if e.Category != category {
			return e.Category >= category
		}
		return e.Name >= name
	})
	if idx < len(l.entries) {
		e := l.entries[idx]
		if e.Category == category && e.Name == name {
			return e, nil
		}
	}
	return LibraryEntry{}, errs.New(errs.NotFound, errs.SeverityError, "no library entry for "+category+"/"+name)
}

// Entries returns every registered entry, in sorted order.
func (l *Library) Entries() []LibraryEntry {
	out := make([]LibraryEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
