package petrel

import "testing"

func TestParseAddress(t *testing.T) {
	for _, tc := range []struct {
		addr   string
		scheme string
		host   string
	}{
		{"irc.example.org", "irc", "irc.example.org:6667"},
		{"irc.example.org:7000", "irc", "irc.example.org:7000"},
		{"irc://irc.example.org", "irc", "irc.example.org:6667"},
		{"irc+insecure://irc.example.org", "irc", "irc.example.org:6667"},
		{"ircs://irc.example.org", "ircs", "irc.example.org:6697"},
		{"ircs://irc.example.org:7070", "ircs", "irc.example.org:7070"},
		{"ircs://[2001:db8::1]", "ircs", "[2001:db8::1]:6697"},
		{"ircs://[2001:db8::1]:7070", "ircs", "[2001:db8::1]:7070"},
		{"ws://irc.example.org/socket", "ws", "ws://irc.example.org/socket"},
		{"wss://irc.example.org/socket", "wss", "wss://irc.example.org/socket"},
	} {
		got, err := parseAddress(tc.addr)
		if err != nil {
			t.Errorf("parseAddress(%q): %v", tc.addr, err)
			continue
		}
		if got.scheme != tc.scheme || got.host != tc.host {
			t.Errorf("parseAddress(%q) = %+v, want scheme %q host %q", tc.addr, got, tc.scheme, tc.host)
		}
	}
}

func TestParseAddressErrors(t *testing.T) {
	for _, addr := range []string{"", "ftp://example.org", "irc://"} {
		if _, err := parseAddress(addr); err == nil {
			t.Errorf("parseAddress(%q): expected an error", addr)
		}
	}
}
