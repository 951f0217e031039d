package queue

import (
	"context"
	"testing"
)

func TestPriorityOrdering(t *testing.T) {
	q := New[int](10)

	noop := func(ctx context.Context) (int, error) { return 0, nil }
	if _, err := q.Enqueue(Low, noop); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue(High, noop); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue(Medium, noop); err != nil {
		t.Fatal(err)
	}

	want := []Priority{High, Medium, Low}
	for _, w := range want {
		req, ok := q.Dequeue()
		if !ok {
			t.Fatal("expected a request")
		}
		if req.Priority != w {
			t.Fatalf("expected %s, got %s", w, req.Priority)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatal("expected queue to be empty")
	}
}

func TestFIFOWithinPriority(t *testing.T) {
	q := New[int](10)
	noop := func(ctx context.Context) (int, error) { return 0, nil }

	var seqs []uint64
	for i := 0; i < 5; i++ {
		if _, err := q.Enqueue(Medium, noop); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 5; i++ {
		req, ok := q.Dequeue()
		if !ok {
			t.Fatal("expected request")
		}
		seqs = append(seqs, req.Seq)
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Fatalf("expected increasing seq, got %v", seqs)
		}
	}
}

func TestQueueFull(t *testing.T) {
	q := New[int](2)
	noop := func(ctx context.Context) (int, error) { return 0, nil }

	if _, err := q.Enqueue(Low, noop); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue(Low, noop); err != nil {
		t.Fatal(err)
	}
	_, err := q.Enqueue(Low, noop)
	if err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if err.Error() != "Request queue is full" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestFutureResolves(t *testing.T) {
	q := New[string](10)
	future, err := q.Enqueue(Medium, func(ctx context.Context) (string, error) { return "x", nil })
	if err != nil {
		t.Fatal(err)
	}
	req, ok := q.Dequeue()
	if !ok {
		t.Fatal("expected request")
	}
	val, thunkErr := req.Thunk(context.Background())
	req.Resolve(val, thunkErr)

	got, gotErr := future.Wait(context.Background())
	if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}
	if got != "x" {
		t.Fatalf("expected x, got %s", got)
	}
}
