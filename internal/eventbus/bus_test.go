package eventbus

import "testing"

func TestPublishFanoutAndDrop(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: SubmissionCreated, Data: SubmissionCreatedData{SubmissionID: 1}})
	b.Publish(Event{Type: SubmissionCreated, Data: SubmissionCreatedData{SubmissionID: 2}})

	if got := len(a); got != 1 {
		t.Fatalf("len(a) = %d, want 1 (second event dropped)", got)
	}
	if got := len(c); got != 2 {
		t.Fatalf("len(c) = %d, want 2", got)
	}
	e := <-a
	if e.Time.IsZero() {
		t.Fatalf("event time not stamped")
	}
	if d, ok := e.Data.(SubmissionCreatedData); !ok || d.SubmissionID != 1 {
		t.Fatalf("data = %#v, want submission 1", e.Data)
	}

	unsubA()
	unsubA()
	b.Publish(Event{Type: DispatchFinished})
	if _, ok := <-a; ok {
		t.Fatalf("channel a still open after unsubscribe")
	}
}
