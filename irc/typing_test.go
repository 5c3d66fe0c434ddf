package irc

import (
	"fmt"
	"testing"
	"time"
)

func TestTypingsExpireWithoutStopsReader(t *testing.T) {
	ts := newTypings(20 * time.Millisecond)
	defer ts.Close()

	// well past the Stops buffer, with nobody draining it
	for i := 0; i < 40; i++ {
		ts.Active("#go", fmt.Sprintf("nick%02d", i))
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(ts.List("#go")) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("typing entries never expired: %v", ts.List("#go"))
}

func TestTypingsStops(t *testing.T) {
	ts := newTypings(20 * time.Millisecond)
	defer ts.Close()

	ts.Active("#go", "dan")

	select {
	case st := <-ts.Stops():
		if st.Target != "#go" || st.Name != "dan" {
			t.Errorf("got %+v", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no expiry notification")
	}
	if names := ts.List("#go"); len(names) != 0 {
		t.Errorf("entry still listed after expiry: %v", names)
	}
}

func TestTypingsDoneCancelsExpiry(t *testing.T) {
	ts := newTypings(20 * time.Millisecond)
	defer ts.Close()

	ts.Active("#go", "dan")
	ts.Done("#go", "dan")

	select {
	case st := <-ts.Stops():
		t.Errorf("expiry notification after Done: %+v", st)
	case <-time.After(100 * time.Millisecond):
	}
}
