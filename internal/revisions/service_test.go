package revisions

import (
	"testing"
)

func TestCommitAndHistory(t *testing.T) {
	svc := New(t.TempDir())

	first, err := svc.CommitRevision(10, Content{Title: "v1", Body: "first body"}, "Hong", "Create post")
	if err != nil {
		t.Fatalf("CommitRevision() error = %v", err)
	}
	if first.Hash == "" || first.Author != "Hong" {
		t.Fatalf("unexpected revision info: %+v", first)
	}

	if _, err := svc.CommitRevision(10, Content{Title: "v2", Body: "second body", Tags: []string{"go"}}, "Hong", "Edit post"); err != nil {
		t.Fatalf("CommitRevision() error = %v", err)
	}

	history, err := svc.History(10, 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 revisions, got %d", len(history))
	}
	if history[0].Message != "Edit post" || history[1].Message != "Create post" {
		t.Fatalf("history not newest first: %+v", history)
	}
}

func TestHistoryLimit(t *testing.T) {
	svc := New(t.TempDir())
	for i := 0; i < 3; i++ {
		if _, err := svc.CommitRevision(1, Content{Title: "t", Body: "b"}, "a", "Edit post"); err != nil {
			t.Fatalf("CommitRevision() error = %v", err)
		}
	}

	history, err := svc.History(1, 2)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(history))
	}
}

func TestHistoryOfUnknownPostIsEmpty(t *testing.T) {
	svc := New(t.TempDir())

	history, err := svc.History(999, 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d entries", len(history))
	}
}

func TestGetByHashReturnsOldSnapshot(t *testing.T) {
	svc := New(t.TempDir())

	first, err := svc.CommitRevision(5, Content{Title: "original", Body: "before edit"}, "a", "Create post")
	if err != nil {
		t.Fatalf("CommitRevision() error = %v", err)
	}
	if _, err := svc.CommitRevision(5, Content{Title: "changed", Body: "after edit"}, "a", "Edit post"); err != nil {
		t.Fatalf("CommitRevision() error = %v", err)
	}

	content, err := svc.GetByHash(5, first.Hash)
	if err != nil {
		t.Fatalf("GetByHash() error = %v", err)
	}
	if content.Title != "original" || content.Body != "before edit" {
		t.Fatalf("unexpected snapshot: %+v", content)
	}
}

func TestRemoveDeletesHistory(t *testing.T) {
	svc := New(t.TempDir())

	if _, err := svc.CommitRevision(3, Content{Title: "t", Body: "b"}, "a", "Create post"); err != nil {
		t.Fatalf("CommitRevision() error = %v", err)
	}
	if err := svc.Remove(3); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	history, err := svc.History(3, 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history after removal, got %d", len(history))
	}

	// Removing an already absent repository is a no-op.
	if err := svc.Remove(3); err != nil {
		t.Fatalf("Remove() second call error = %v", err)
	}
}
