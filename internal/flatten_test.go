package internal

import "testing"

// TestFlattenNestedAndArray tests that a nested map with an array is flattened correctly.
func TestFlattenNestedAndArray(t *testing.T) {
	input := map[string]interface{}{
		"resource": map[string]interface{}{
			"repository": map[string]interface{}{
				"id": "repo-guid",
			},
			"commits": []interface{}{
				map[string]interface{}{"commitId": "a"},
				map[string]interface{}{"commitId": "b"},
			},
		},
	}

	flat := Flatten(input)
	if flat["resource.repository.id"] != "repo-guid" {
		t.Fatalf("expected resource.repository.id to be repo-guid")
	}
	if _, ok := flat["resource.commits"]; !ok {
		t.Fatalf("expected resource.commits to exist")
	}
	if flat["resource.commits[0].commitId"] != "a" {
		t.Fatalf("expected commits[0].commitId to be a")
	}
	if flat["resource.commits[1].commitId"] != "b" {
		t.Fatalf("expected commits[1].commitId to be b")
	}
}
