package eventbus

import "testing"

func TestPublishFanoutAndDrop(t *testing.T) {
	t.Parallel()

	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: TypeTaskStarted})
	b.Publish(Event{Type: TypeTaskFinished}) // a is full, dropped for a only

	if e := <-a; e.Type != TypeTaskStarted || e.Time.IsZero() {
		t.Fatalf("unexpected event: %+v", e)
	}
	if len(c) != 2 {
		t.Fatalf("second subscriber got %d events, want 2", len(c))
	}

	unsubA()
	unsubA()
	if _, ok := <-a; ok {
		t.Fatalf("channel should be closed after unsubscribe")
	}
	b.Publish(Event{Type: TypeTaskFailed})
}
