package undo

import (
	"context"
	"errors"
	"testing"
)

func TestRollbackRunsInLIFOOrder(t *testing.T) {
	s := New(nil)
	var order []string
	s.Push("first", func(ctx context.Context) error { order = append(order, "first"); return nil })
	s.Push("second", func(ctx context.Context) error { order = append(order, "second"); return nil })
	s.Push("third", func(ctx context.Context) error { order = append(order, "third"); return nil })

	failed := s.Rollback(context.Background())
	if len(failed) != 0 {
		t.Fatalf("expected no failures, got %v", failed)
	}
	want := []string{"third", "second", "first"}
	if len(order) != len(want) {
		t.Fatalf("expected %d calls, got %d", len(want), len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}

func TestRollbackSwallowsSecondaryFailures(t *testing.T) {
	s := New(nil)
	ran := []string{}
	s.Push("a", func(ctx context.Context) error { ran = append(ran, "a"); return errors.New("boom") })
	s.Push("b", func(ctx context.Context) error { ran = append(ran, "b"); return nil })

	failed := s.Rollback(context.Background())
	if len(ran) != 2 {
		t.Fatalf("expected both compensations to run despite the failure, ran %v", ran)
	}
	if len(failed) != 1 || failed[0] != "a" {
		t.Fatalf("expected failed=[a], got %v", failed)
	}
}

func TestRollbackClearsStack(t *testing.T) {
	s := New(nil)
	s.Push("a", func(ctx context.Context) error { return nil })
	s.Rollback(context.Background())
	if s.Len() != 0 {
		t.Fatal("expected stack to be empty after rollback")
	}
	// a second rollback with nothing pushed should be a no-op
	if failed := s.Rollback(context.Background()); len(failed) != 0 {
		t.Fatalf("expected no failures on empty rollback, got %v", failed)
	}
}
