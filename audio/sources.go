package audio

import "sort"

// ListSources queries the backend and returns sources in display order:
// priority-app matches first (by token order, platform order within a tie),
// then everything else sorted by display name. Enumeration failures yield an
// empty list — "no sources" is a displayable state, not an error.
func ListSources(ctx Context) []Source {
	raw, err := ctx.Sources()
	if err != nil {
		return nil
	}
	return OrderSources(raw)
}

// OrderSources applies the display ordering policy to an enumeration result.
func OrderSources(raw []Source) []Source {
	sources := make([]Source, len(raw))
	copy(sources, raw)
	for i := range sources {
		sources[i].PriorityRank = PriorityRank(sources[i].DisplayName)
	}

	var matched, rest []Source
	for _, s := range sources {
		if s.PriorityRank >= 0 {
			matched = append(matched, s)
		} else {
			rest = append(rest, s)
		}
	}

	// Stable keeps the platform's reported order within one priority bucket.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].PriorityRank < matched[j].PriorityRank
	})
	sort.Slice(rest, func(i, j int) bool {
		return rest[i].DisplayName < rest[j].DisplayName
	})

	return append(matched, rest...)
}

// FindSource resolves an id against a fresh enumeration. The second return
// is false when the id has vanished since the last listing.
func FindSource(ctx Context, id string) (Source, bool) {
	for _, s := range ListSources(ctx) {
		if s.ID == id {
			return s, true
		}
	}
	return Source{}, false
}
