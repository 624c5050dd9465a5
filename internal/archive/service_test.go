package archive

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestArchiveLifecycle(t *testing.T) {
	svc := New(t.TempDir())

	first, err := svc.Save("proj_1", "story", "Anniversary Story", "Dana", "Once upon a time.")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if first.Hash == "" || first.Kind != "story" || first.Title != "Anniversary Story" {
		t.Fatalf("unexpected entry %+v", first)
	}

	second, err := svc.Save("proj_1", "study_guide", "Exam Prep", "Dana", "# Topics\n- one")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	history, err := svc.History("proj_1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(history))
	}
	if history[0].Hash != second.Hash || history[1].Hash != first.Hash {
		t.Fatalf("history not newest-first: %+v", history)
	}

	content, err := svc.Content("proj_1", first.Hash, "story")
	if err != nil {
		t.Fatalf("Content() error = %v", err)
	}
	if content != "Once upon a time." {
		t.Fatalf("got %q", content)
	}

	guide, err := svc.Content("proj_1", second.Hash, "study_guide")
	if err != nil {
		t.Fatalf("Content() error = %v", err)
	}
	if guide != "# Topics\n- one" {
		t.Fatalf("got %q", guide)
	}
}

func TestHistoryOfEmptyArchive(t *testing.T) {
	svc := New(t.TempDir())
	history, err := svc.History("proj_nothing", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %v", history)
	}

	if _, err := svc.Content("proj_nothing", "abc1234", "story"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentSavesSameProject(t *testing.T) {
	svc := New(t.TempDir())

	const writers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := svc.Save("proj_1", "story", fmt.Sprintf("Version %02d", idx), "Dana", fmt.Sprintf("draft %02d", idx))
			if err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("Save() concurrent error = %v", err)
	}

	history, err := svc.History("proj_1", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != writers {
		t.Fatalf("expected %d commits, got %d", writers, len(history))
	}
}
