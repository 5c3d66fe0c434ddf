package petrel

import (
	"reflect"
	"testing"
	"time"
)

func TestStoreAddAndDedupe(t *testing.T) {
	st := NewStore()
	st.SetSelf("alice")

	st.AddMessage("#go", StoredMessage{ID: "m1", From: "dan", Content: "hello", Time: time.Unix(1, 0)}, false)
	st.AddMessage("#go", StoredMessage{ID: "m1", From: "dan", Content: "hello", Time: time.Unix(1, 0)}, false)

	msgs := st.Messages("#go")
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if unread, _ := st.Unread("#go"); unread != 1 {
		t.Errorf("unread = %d, want 1 (duplicate must not count twice)", unread)
	}
}

func TestStoreHistoryOrdering(t *testing.T) {
	st := NewStore()

	// live message arrives first, then older history is backfilled
	st.AddMessage("#go", StoredMessage{ID: "m3", Content: "three", Time: time.Unix(30, 0)}, false)
	st.AddMessage("#go", StoredMessage{ID: "m1", Content: "one", Time: time.Unix(10, 0)}, true)
	st.AddMessage("#go", StoredMessage{ID: "m2", Content: "two", Time: time.Unix(20, 0)}, true)

	var contents []string
	for _, msg := range st.Messages("#go") {
		contents = append(contents, msg.Content)
	}
	if want := []string{"one", "two", "three"}; !reflect.DeepEqual(contents, want) {
		t.Errorf("backlog order = %v, want %v", contents, want)
	}
}

func TestStoreUnreadAndHighlights(t *testing.T) {
	st := NewStore()
	st.SetSelf("alice")

	st.AddMessage("#go", StoredMessage{ID: "m1", From: "dan", Content: "hi all", Time: time.Unix(1, 0)}, false)
	st.AddMessage("#go", StoredMessage{ID: "m2", From: "dan", Content: "alice: ping", Time: time.Unix(2, 0)}, false)
	st.AddMessage("#go", StoredMessage{ID: "m3", From: "dan", Content: "malice is not a mention", Time: time.Unix(3, 0)}, false)

	unread, highlights := st.Unread("#go")
	if unread != 3 {
		t.Errorf("unread = %d, want 3", unread)
	}
	if highlights != 1 {
		t.Errorf("highlights = %d, want 1", highlights)
	}

	st.MarkRead("#go")
	if unread, highlights = st.Unread("#go"); unread != 0 || highlights != 0 {
		t.Errorf("counters not cleared: %d, %d", unread, highlights)
	}
}

func TestStorePendingEcho(t *testing.T) {
	st := NewStore()
	st.SetSelf("alice")

	id := st.AddPending("dan", "alice", "hey", "")
	msgs := st.Messages("dan")
	if len(msgs) != 1 || !msgs[0].Pending {
		t.Fatalf("got %+v", msgs)
	}

	// server echo reuses the client id
	st.AddMessage("dan", StoredMessage{ID: id, From: "alice", Content: "hey", Time: time.Now()}, true)
	msgs = st.Messages("dan")
	if len(msgs) != 1 {
		t.Fatalf("echo duplicated the message: %d entries", len(msgs))
	}
	if msgs[0].Pending {
		t.Error("echo did not clear the pending flag")
	}

	// pending messages never count as unread
	if unread, _ := st.Unread("dan"); unread != 0 {
		t.Errorf("unread = %d", unread)
	}
}

func TestStoreConfirmPendingNewID(t *testing.T) {
	st := NewStore()

	id := st.AddPending("dan", "alice", "hey", "")
	st.ConfirmPending("dan", id, "srv42")

	msgs := st.Messages("dan")
	if msgs[0].Pending {
		t.Error("still pending after confirm")
	}
	if msgs[0].ID != "srv42" {
		t.Errorf("id = %q, want srv42", msgs[0].ID)
	}

	// the server id must now be addressable, e.g. for reactions
	st.React("dan", "srv42", "dan", "👍", false)
	if msgs := st.Messages("dan"); len(msgs[0].Reactions["👍"]) != 1 {
		t.Error("reaction against the server id did not land")
	}
}

func TestStoreReactions(t *testing.T) {
	st := NewStore()
	st.AddMessage("#go", StoredMessage{ID: "m1", Content: "hello", Time: time.Unix(1, 0)}, true)

	st.React("#go", "m1", "dan", "👍", false)
	st.React("#go", "m1", "eve", "👍", false)
	st.React("#go", "m1", "dan", "👍", false) // duplicate is a no-op

	msgs := st.Messages("#go")
	if got := msgs[0].Reactions["👍"]; !reflect.DeepEqual(got, []string{"dan", "eve"}) {
		t.Fatalf("reactions = %v", got)
	}

	st.React("#go", "m1", "dan", "👍", true)
	msgs = st.Messages("#go")
	if got := msgs[0].Reactions["👍"]; !reflect.DeepEqual(got, []string{"eve"}) {
		t.Fatalf("after removal = %v", got)
	}

	st.React("#go", "m1", "eve", "👍", true)
	msgs = st.Messages("#go")
	if _, ok := msgs[0].Reactions["👍"]; ok {
		t.Error("empty reaction set not removed")
	}

	// removing a reaction that was never added
	st.React("#go", "m1", "mallory", "🎉", true)
}

func TestStoreRedact(t *testing.T) {
	st := NewStore()
	st.AddMessage("#go", StoredMessage{ID: "m1", From: "dan", Content: "oops", Time: time.Unix(1, 0)}, true)
	st.AddMessage("#go", StoredMessage{ID: "m2", From: "eve", Content: "reply", ReplyTo: "m1", Time: time.Unix(2, 0)}, true)

	st.Redact("#go", "m1")

	msgs := st.Messages("#go")
	if len(msgs) != 2 {
		t.Fatalf("redaction removed the entry, got %d messages", len(msgs))
	}
	if !msgs[0].Redacted || msgs[0].Content != "" {
		t.Errorf("got %+v", msgs[0])
	}
	// the reply anchor survives
	if msgs[1].ReplyTo != "m1" {
		t.Errorf("reply anchor lost: %+v", msgs[1])
	}

	// a late duplicate of the redacted message must stay redacted
	st.AddMessage("#go", StoredMessage{ID: "m1", From: "dan", Content: "oops", Time: time.Unix(1, 0)}, true)
	msgs = st.Messages("#go")
	if !msgs[0].Redacted || msgs[0].Content != "" {
		t.Errorf("redaction lost on re-insert: %+v", msgs[0])
	}
}

func TestStoreBuffers(t *testing.T) {
	st := NewStore()
	st.Ensure("#go", true)
	st.Ensure("dan", false)
	st.Ensure("#GO", true) // same buffer under ascii casemapping

	if got := st.Buffers(); !reflect.DeepEqual(got, []string{"#go", "dan"}) {
		t.Fatalf("Buffers = %v", got)
	}

	st.Remove("#go")
	if got := st.Buffers(); !reflect.DeepEqual(got, []string{"dan"}) {
		t.Fatalf("after remove = %v", got)
	}
}

func TestContainsNick(t *testing.T) {
	for _, tc := range []struct {
		content string
		want    bool
	}{
		{"alice: hi", true},
		{"hey Alice!", true},
		{"alice", true},
		{"malice", false},
		{"alices", false},
		{"no mention here", false},
		{"ping alice-", false}, // '-' is a nick character
		{"(alice)", true},
	} {
		if got := containsNick(tc.content, "alice"); got != tc.want {
			t.Errorf("containsNick(%q) = %v, want %v", tc.content, got, tc.want)
		}
	}
}

func TestExtractURLs(t *testing.T) {
	urls := ExtractURLs("see https://example.org/a and http://example.org/b, also https://example.org/a again")
	want := []string{"https://example.org/a", "http://example.org/b"}
	if !reflect.DeepEqual(urls, want) {
		t.Errorf("ExtractURLs = %v, want %v", urls, want)
	}
	if urls := ExtractURLs("nothing here"); urls != nil {
		t.Errorf("ExtractURLs = %v, want none", urls)
	}
}
