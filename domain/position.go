package domain

import "fmt"

// ClampIndex bounds i to [0, n].
func ClampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}

// RemoveID returns ids without id and the index it occupied, or -1.
func RemoveID(ids []string, id string) ([]string, int) {
	for i, v := range ids {
		if v == id {
			out := make([]string, 0, len(ids)-1)
			out = append(out, ids[:i]...)
			return append(out, ids[i+1:]...), i
		}
	}
	return append([]string(nil), ids...), -1
}

// InsertID returns a copy of ids with id inserted at the clamped index.
func InsertID(ids []string, id string, at int) []string {
	at = ClampIndex(at, len(ids))
	out := make([]string, 0, len(ids)+1)
	out = append(out, ids[:at]...)
	out = append(out, id)
	return append(out, ids[at:]...)
}

// ColumnSetProblems lists every way ordered differs from the current
// column set: duplicates, unknown ids and omissions.
func ColumnSetProblems(current, ordered []string) []string {
	known := make(map[string]struct{}, len(current))
	for _, id := range current {
		known[id] = struct{}{}
	}
	var problems []string
	seen := make(map[string]struct{}, len(ordered))
	for _, id := range ordered {
		if _, dup := seen[id]; dup {
			problems = append(problems, fmt.Sprintf("column %s listed more than once", id))
			continue
		}
		seen[id] = struct{}{}
		if _, ok := known[id]; !ok {
			problems = append(problems, fmt.Sprintf("column %s does not belong to the project", id))
		}
	}
	for _, id := range current {
		if _, ok := seen[id]; !ok {
			problems = append(problems, fmt.Sprintf("column %s is missing from the new order", id))
		}
	}
	return problems
}
