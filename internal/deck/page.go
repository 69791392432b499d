package deck

// DefaultPageSize is the number of cards returned per deck request.
const DefaultPageSize = 50

// Page drops excluded items from an already shuffled deck and returns the
// window [start, start+size). Filtering happens after the shuffle so a member's
// own swipes never shift the order other members see.
func Page[T any](shuffled []T, id func(T) string, exclude map[string]struct{}, start, size int) []T {
	if start < 0 {
		start = 0
	}
	if size <= 0 {
		size = DefaultPageSize
	}

	out := make([]T, 0, size)
	skipped := 0
	for _, item := range shuffled {
		if _, excluded := exclude[id(item)]; excluded {
			continue
		}
		if skipped < start {
			skipped++
			continue
		}
		out = append(out, item)
		if len(out) == size {
			break
		}
	}
	return out
}

// ExclusionSet builds a lookup set from one or more id lists.
func ExclusionSet(lists ...[]string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, ids := range lists {
		for _, id := range ids {
			set[id] = struct{}{}
		}
	}
	return set
}
