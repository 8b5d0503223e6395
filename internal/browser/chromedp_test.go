package browser

import (
	"context"
	"testing"
	"time"
)

func TestLinkContext_CallerCancellation(t *testing.T) {
	session := context.Background()
	caller, cancelCaller := context.WithCancel(context.Background())
	defer cancelCaller()

	linked, cleanup := linkContext(session, caller)
	defer cleanup()

	cancelCaller()

	select {
	case <-linked.Done():
	case <-time.After(time.Second):
		t.Fatal("cancelling the caller did not end the linked context")
	}
}

func TestLinkContext_CallerDeadline(t *testing.T) {
	session := context.Background()
	caller, cancelCaller := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelCaller()

	linked, cleanup := linkContext(session, caller)
	defer cleanup()

	want, _ := caller.Deadline()
	got, ok := linked.Deadline()
	if !ok || !got.Equal(want) {
		t.Errorf("linked deadline = %v (ok=%t), want %v", got, ok, want)
	}
}

func TestLinkContext_SessionCancellation(t *testing.T) {
	session, cancelSession := context.WithCancel(context.Background())
	defer cancelSession()

	linked, cleanup := linkContext(session, context.Background())
	defer cleanup()

	cancelSession()

	select {
	case <-linked.Done():
	case <-time.After(time.Second):
		t.Fatal("ending the session did not end the linked context")
	}
}

func TestLinkContext_CleanupDetachesCaller(t *testing.T) {
	session := context.Background()
	caller, cancelCaller := context.WithCancel(context.Background())
	defer cancelCaller()

	linked, cleanup := linkContext(session, caller)
	cleanup()

	if linked.Err() == nil {
		t.Error("cleanup must end the linked context")
	}
}
