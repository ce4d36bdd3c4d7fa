// selector.go implements list-item selection shared by /workspace, /model,
// /provider and friends. A selector resolves in fixed order: numeric index
// into the last shown list, exact ID match, exact name match, then
// unambiguous prefix. An ambiguous prefix fails with the candidate list so
// the user can disambiguate.
package gateway

import (
	"fmt"
	"strconv"
	"strings"
)

// SelectItem is one selectable entry.
type SelectItem struct {
	ID   string
	Name string
}

// Label returns the display form of an item.
func (it SelectItem) Label() string {
	if it.Name != "" {
		return it.Name
	}
	return it.ID
}

// ResolveSelector resolves sel against items. The returned error wraps
// ErrAmbiguousSelector when several items share the prefix; its message
// carries the candidates.
func ResolveSelector(sel string, items []SelectItem) (*SelectItem, error) {
	sel = strings.TrimSpace(sel)
	if sel == "" {
		return nil, fmt.Errorf("empty selector")
	}

	// 1-based index into the list as it was shown.
	if n, err := strconv.Atoi(sel); err == nil {
		if n < 1 || n > len(items) {
			return nil, fmt.Errorf("index %d out of range (1-%d)", n, len(items))
		}
		return &items[n-1], nil
	}

	for i := range items {
		if items[i].ID == sel {
			return &items[i], nil
		}
	}

	lower := strings.ToLower(sel)
	for i := range items {
		if strings.ToLower(items[i].Name) == lower {
			return &items[i], nil
		}
	}

	var matches []int
	for i := range items {
		if strings.HasPrefix(strings.ToLower(items[i].ID), lower) ||
			strings.HasPrefix(strings.ToLower(items[i].Name), lower) {
			matches = append(matches, i)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no match for %q", sel)
	case 1:
		return &items[matches[0]], nil
	default:
		labels := make([]string, 0, len(matches))
		for _, i := range matches {
			labels = append(labels, items[i].Label())
		}
		return nil, fmt.Errorf("%w: %q matches %s", ErrAmbiguousSelector, sel, strings.Join(labels, ", "))
	}
}
