package irc

import (
	"reflect"
	"testing"
	"time"
)

func TestParseMessage(t *testing.T) {
	for _, tc := range []struct {
		name string
		line string
		want Message
	}{
		{
			name: "bare command",
			line: "PING",
			want: Message{Command: "PING"},
		},
		{
			name: "command with params",
			line: "PING token",
			want: Message{Command: "PING", Params: []string{"token"}},
		},
		{
			name: "lowercase command is normalized",
			line: "privmsg #chan :hello",
			want: Message{Command: "PRIVMSG", Params: []string{"#chan", "hello"}},
		},
		{
			name: "prefix",
			line: ":dan!d@localhost PRIVMSG #chan :Hey!",
			want: Message{
				Prefix:  &Prefix{Name: "dan", User: "d", Host: "localhost"},
				Command: "PRIVMSG",
				Params:  []string{"#chan", "Hey!"},
			},
		},
		{
			name: "server prefix",
			line: ":irc.example.org 001 dan :Welcome",
			want: Message{
				Prefix:  &Prefix{Name: "irc.example.org"},
				Command: "001",
				Params:  []string{"dan", "Welcome"},
			},
		},
		{
			name: "tags",
			line: "@msgid=abc;time=2021-03-04T05:06:07.000Z :dan PRIVMSG #chan :hi",
			want: Message{
				Tags:    map[string]string{"msgid": "abc", "time": "2021-03-04T05:06:07.000Z"},
				Prefix:  &Prefix{Name: "dan"},
				Command: "PRIVMSG",
				Params:  []string{"#chan", "hi"},
			},
		},
		{
			name: "tag without value",
			line: "@draft/multiline-concat TAGMSG #chan",
			want: Message{
				Tags:    map[string]string{"draft/multiline-concat": ""},
				Command: "TAGMSG",
				Params:  []string{"#chan"},
			},
		},
		{
			name: "escaped tag value",
			line: `@+draft/reply=abc;key=semi\:space\sback\\slash PRIVMSG #chan :hi`,
			want: Message{
				Tags:    map[string]string{"+draft/reply": "abc", "key": `semi;space back\slash`},
				Command: "PRIVMSG",
				Params:  []string{"#chan", "hi"},
			},
		},
		{
			name: "empty trailing",
			line: "TOPIC #chan :",
			want: Message{Command: "TOPIC", Params: []string{"#chan", ""}},
		},
		{
			name: "colon inside trailing",
			line: "PRIVMSG #chan :look: a colon",
			want: Message{Command: "PRIVMSG", Params: []string{"#chan", "look: a colon"}},
		},
		{
			name: "extra spaces between params",
			line: "CAP   *  LS  :multi-prefix sasl",
			want: Message{Command: "CAP", Params: []string{"*", "LS", "multi-prefix sasl"}},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := ParseMessage(tc.line)
			if err != nil {
				t.Fatalf("ParseMessage(%q): %v", tc.line, err)
			}
			if !reflect.DeepEqual(msg, tc.want) {
				t.Errorf("ParseMessage(%q) = %#v, want %#v", tc.line, msg, tc.want)
			}
		})
	}
}

func TestParseMessageErrors(t *testing.T) {
	for _, line := range []string{"", "   ", "@tag=value ", ":prefix.only"} {
		if _, err := ParseMessage(line); err == nil {
			t.Errorf("ParseMessage(%q): expected an error", line)
		}
	}
}

func TestMessageString(t *testing.T) {
	for _, tc := range []struct {
		msg  Message
		want string
	}{
		{NewMessage("PING", "token"), "PING token"},
		{NewMessage("PRIVMSG", "#chan", "two words"), "PRIVMSG #chan :two words"},
		{NewMessage("PRIVMSG", "#chan", "single"), "PRIVMSG #chan single"},
		{NewMessage("TOPIC", "#chan", ""), "TOPIC #chan :"},
		{NewMessage("PRIVMSG", "#chan", ":starts-with-colon"), "PRIVMSG #chan ::starts-with-colon"},
		{NewMessage("CAP", "REQ", "multi-prefix sasl"), "CAP REQ :multi-prefix sasl"},
		{
			NewMessage("TAGMSG", "#chan").WithTag("+typing", "active"),
			"@+typing=active TAGMSG #chan",
		},
	} {
		if got := tc.msg.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
}

func TestTagValueRoundTrip(t *testing.T) {
	values := []string{
		"",
		"plain",
		"semi;colon",
		"with space",
		`back\slash`,
		"new\nline",
		"carriage\rreturn",
		`every;thing at\once` + "\r\n",
		`trailing\`,
	}
	for _, v := range values {
		if got := unescapeTagValue(escapeTagValue(v)); got != v {
			t.Errorf("round trip of %q = %q", v, got)
		}
	}
}

func TestUnescapeTagValueLoneBackslash(t *testing.T) {
	// a lone escape before an ordinary character drops the backslash
	if got := unescapeTagValue(`a\bc`); got != "abc" {
		t.Errorf(`unescapeTagValue("a\\bc") = %q, want "abc"`, got)
	}
}

func TestMessageTime(t *testing.T) {
	msg, err := ParseMessage("@time=2021-03-04T05:06:07.890Z PRIVMSG #chan :hi")
	if err != nil {
		t.Fatal(err)
	}
	at, ok := msg.Time()
	if !ok {
		t.Fatal("expected a time")
	}
	want := time.Date(2021, 3, 4, 5, 6, 7, 890e6, time.UTC)
	if !at.Equal(want) {
		t.Errorf("Time() = %v, want %v", at, want)
	}
}

func TestParseParams(t *testing.T) {
	msg := NewMessage("KICK", "#chan", "nick", "reason")

	var channel, reason string
	if err := msg.ParseParams(&channel, nil, &reason); err != nil {
		t.Fatal(err)
	}
	if channel != "#chan" || reason != "reason" {
		t.Errorf("got %q, %q", channel, reason)
	}

	if err := msg.ParseParams(nil, nil, nil, nil); err == nil {
		t.Error("expected an error for too few params")
	}
}

func TestParseCaps(t *testing.T) {
	caps := ParseCaps("sasl=PLAIN,EXTERNAL -echo-message draft/chathistory")
	want := []Cap{
		{Name: "sasl", Value: "PLAIN,EXTERNAL", Enable: true},
		{Name: "echo-message", Enable: false},
		{Name: "draft/chathistory", Enable: true},
	}
	if !reflect.DeepEqual(caps, want) {
		t.Errorf("ParseCaps = %#v, want %#v", caps, want)
	}
}

func TestParseNameReply(t *testing.T) {
	names := ParseNameReply("@+ops +voiced plain @full!u@h", "@+")
	want := []Name{
		{PowerLevel: "@+", Name: &Prefix{Name: "ops"}},
		{PowerLevel: "+", Name: &Prefix{Name: "voiced"}},
		{PowerLevel: "", Name: &Prefix{Name: "plain"}},
		{PowerLevel: "@", Name: &Prefix{Name: "full", User: "u", Host: "h"}},
	}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("ParseNameReply = %#v, want %#v", names, want)
	}
}

func TestCasemap(t *testing.T) {
	if got := CasemapASCII("Nick[a]\\~"); got != "nick[a]\\~" {
		t.Errorf("CasemapASCII = %q", got)
	}
	if got := CasemapRFC1459("Nick[a]\\~"); got != "nick{a}|^" {
		t.Errorf("CasemapRFC1459 = %q", got)
	}
}

func TestParseChannelMode(t *testing.T) {
	chanmodes := [4]string{"beI", "k", "l", "imnst"}

	changes, err := ParseChannelMode("+o-v+bk", []string{"op", "voiced", "*!*@host", "hunter2"}, chanmodes, "ov")
	if err != nil {
		t.Fatal(err)
	}
	want := []ModeChange{
		{Enable: true, Mode: 'o', Param: "op"},
		{Enable: false, Mode: 'v', Param: "voiced"},
		{Enable: true, Mode: 'b', Param: "*!*@host"},
		{Enable: true, Mode: 'k', Param: "hunter2"},
	}
	if !reflect.DeepEqual(changes, want) {
		t.Errorf("ParseChannelMode = %#v, want %#v", changes, want)
	}

	// type C modes take a parameter only when set
	changes, err = ParseChannelMode("-l+n", nil, chanmodes, "ov")
	if err != nil {
		t.Fatal(err)
	}
	want = []ModeChange{
		{Enable: false, Mode: 'l'},
		{Enable: true, Mode: 'n'},
	}
	if !reflect.DeepEqual(changes, want) {
		t.Errorf("ParseChannelMode = %#v, want %#v", changes, want)
	}

	if _, err := ParseChannelMode("+o", nil, chanmodes, "ov"); err == nil {
		t.Error("expected an error for a missing parameter")
	}
}
