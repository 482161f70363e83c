package controlplane

import "sort"

// Diff computes the set changes needed to move the currently running
// listener set (current) to next. Entries present in both are left alone —
// unchanged masters must never be respawned, so this is kept as its own
// pure function, independently testable from the websocket plumbing in
// client.go.
func Diff(current map[string]struct{}, next []string) (added, removed []string) {
	nextSet := make(map[string]struct{}, len(next))
	for _, u := range next {
		nextSet[u] = struct{}{}
	}

	for u := range nextSet {
		if _, ok := current[u]; !ok {
			added = append(added, u)
		}
	}
	for u := range current {
		if _, ok := nextSet[u]; !ok {
			removed = append(removed, u)
		}
	}

	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}
