package tags

import (
	"reflect"
	"testing"
)

func TestNormalizeLowercasesAndTrims(t *testing.T) {
	if got := Normalize("  Family History "); got != "family history" {
		t.Fatalf("expected %q, got %q", "family history", got)
	}
}

func TestMergeDeduplicatesCaseInsensitively(t *testing.T) {
	merged := Merge([]string{"Travel", "food"}, []string{"travel", "TRAVEL", "Music"})
	want := []string{"travel", "food", "music"}
	if !reflect.DeepEqual(merged, want) {
		t.Fatalf("expected %v, got %v", want, merged)
	}
}

func TestMergeDropsEmptyTags(t *testing.T) {
	merged := Merge([]string{"", "   ", "one"})
	want := []string{"one"}
	if !reflect.DeepEqual(merged, want) {
		t.Fatalf("expected %v, got %v", want, merged)
	}
}

func TestMergeRemovedTagStaysRemoved(t *testing.T) {
	// Re-submitting without a previously suggested tag must not resurrect it.
	merged := Merge([]string{"keep"})
	for _, tag := range merged {
		if tag == "dropped" {
			t.Fatalf("tag %q should be absent", tag)
		}
	}
	if len(merged) != 1 {
		t.Fatalf("expected 1 tag, got %d", len(merged))
	}
}
