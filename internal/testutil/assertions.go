package testutil

import (
	"encoding/json"
	"reflect"
	"slices"
	"strings"
	"testing"
)

// AssertJSONEqual asserts that two JSON strings are semantically equal.
func AssertJSONEqual(t *testing.T, expected, actual string) {
	t.Helper()

	var expectedJSON, actualJSON interface{}

	if err := json.Unmarshal([]byte(expected), &expectedJSON); err != nil {
		t.Fatalf("failed to parse expected JSON: %v", err)
	}

	if err := json.Unmarshal([]byte(actual), &actualJSON); err != nil {
		t.Fatalf("failed to parse actual JSON: %v", err)
	}

	if !reflect.DeepEqual(expectedJSON, actualJSON) {
		expectedPretty, _ := json.MarshalIndent(expectedJSON, "", "  ")
		actualPretty, _ := json.MarshalIndent(actualJSON, "", "  ")
		t.Errorf("JSON not equal:\nExpected:\n%s\n\nActual:\n%s", expectedPretty, actualPretty)
	}
}

// AssertAcyclic fails when the adjacency map contains a cycle, reporting
// the offending path.
func AssertAcyclic(t *testing.T, successors map[string][]string) {
	t.Helper()

	const (
		unvisited = iota
		open
		done
	)
	state := make(map[string]int, len(successors))

	roots := make([]string, 0, len(successors))
	for node := range successors {
		roots = append(roots, node)
	}
	slices.Sort(roots)

	var path []string
	var visit func(node string) bool
	visit = func(node string) bool {
		switch state[node] {
		case open:
			t.Errorf("cycle: %s -> %s", strings.Join(path, " -> "), node)
			return false
		case done:
			return true
		}
		state[node] = open
		path = append(path, node)
		for _, succ := range successors[node] {
			if !visit(succ) {
				return false
			}
		}
		path = path[:len(path)-1]
		state[node] = done
		return true
	}

	for _, root := range roots {
		if !visit(root) {
			return
		}
	}
}
