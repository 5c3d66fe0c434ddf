package petrel

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/petrel-im/petrel/irc"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "petrel.scfg")
	if err := os.WriteFile(p, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadConfigFile(t *testing.T) {
	p := writeConfig(t, `
address ircs://irc.example.org
nickname alice
realname "Alice Example"
password hunter2
channel "#go" "#irc"
channel "#misc"
multiline-fallback split
typings false
`)
	cfg, err := LoadConfigFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != "ircs://irc.example.org" || cfg.Nick != "alice" {
		t.Errorf("got %+v", cfg)
	}
	if cfg.User != "alice" {
		t.Errorf("username must default to the nickname, got %q", cfg.User)
	}
	if cfg.Real != "Alice Example" {
		t.Errorf("realname = %q", cfg.Real)
	}
	if cfg.Password == nil || *cfg.Password != "hunter2" {
		t.Error("password not read")
	}
	if want := []string{"#go", "#irc", "#misc"}; !reflect.DeepEqual(cfg.Channels, want) {
		t.Errorf("channels = %v, want %v", cfg.Channels, want)
	}
	if cfg.MultilineFallback != irc.MultilineFallbackSplit {
		t.Error("multiline-fallback split not applied")
	}
	if cfg.Typings {
		t.Error("typings false not applied")
	}
}

func TestLoadConfigFileDefaults(t *testing.T) {
	p := writeConfig(t, "address irc.example.org\nnickname alice\n")
	cfg, err := LoadConfigFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Typings {
		t.Error("typings must default to true")
	}
	if cfg.MultilineFallback != irc.MultilineFallbackJoin {
		t.Error("multiline fallback must default to join")
	}
	if cfg.Real != "alice" || cfg.User != "alice" {
		t.Errorf("got %+v", cfg)
	}
}

func TestLoadConfigFileValidation(t *testing.T) {
	for name, content := range map[string]string{
		"missing address":  "nickname alice\n",
		"missing nickname": "address irc.example.org\n",
		"bad scheme":       "address ftp://example.org\nnickname alice\n",
		"bad fallback":     "address irc.example.org\nnickname alice\nmultiline-fallback maybe\n",
	} {
		if _, err := LoadConfigFile(writeConfig(t, content)); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}
