package ids

import (
	"sort"
	"testing"
)

func TestNewIsSortedByCreation(t *testing.T) {
	var generated []string
	for i := 0; i < 100; i++ {
		generated = append(generated, New())
	}

	if !sort.StringsAreSorted(generated) {
		t.Fatal("identifiers generated in sequence are not sorted")
	}

	seen := make(map[string]struct{}, len(generated))
	for _, id := range generated {
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate identifier %s", id)
		}
		seen[id] = struct{}{}
	}
}
