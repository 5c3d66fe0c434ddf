package petrel

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/petrel-im/petrel/irc"
)

func TestConnectRefused(t *testing.T) {
	cfg := Defaults()
	cfg.Addr = "irc://127.0.0.1:1"
	cfg.Nick = "alice"
	cfg.User = "alice"

	client := NewClient("test", cfg, zerolog.Nop(), NewBus())
	err := client.Connect(context.Background())
	if err == nil {
		t.Fatal("expected an error connecting to a closed port")
	}
	if !strings.Contains(err.Error(), "127.0.0.1:1") {
		t.Errorf("error does not name the address: %v", err)
	}
}

func TestSASLFailureDisconnects(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()

	bus := NewBus()
	sub := bus.Subscribe(64)
	defer sub.Close()

	password := "hunter2"
	cfg := Defaults()
	cfg.Addr = "irc.example.org"
	cfg.Nick = "alice"
	cfg.User = "alice"
	cfg.Real = "Alice"
	cfg.Password = &password

	client := NewClient("test", cfg, zerolog.Nop(), bus)
	if err := client.start(clientConn); err != nil {
		t.Fatal(err)
	}
	defer client.Disconnect("")

	sc := bufio.NewScanner(serverConn)
	expect := func(prefix string) {
		t.Helper()
		for sc.Scan() {
			if strings.HasPrefix(sc.Text(), prefix) {
				return
			}
		}
		t.Fatalf("connection closed while waiting for %q: %v", prefix, sc.Err())
	}
	send := func(line string) {
		t.Helper()
		if _, err := fmt.Fprintf(serverConn, "%s\r\n", line); err != nil {
			t.Fatalf("write %q: %v", line, err)
		}
	}

	expect("CAP LS")
	send(":irc.example.org CAP * LS :sasl")
	expect("CAP REQ")
	send(":irc.example.org CAP alice ACK :sasl")
	expect("AUTHENTICATE PLAIN")
	send("AUTHENTICATE +")
	expect("AUTHENTICATE ") // the PLAIN payload
	send(":irc.example.org 904 alice :SASL authentication failed")

	// the client tears the connection down on its own now; keep reading so
	// its parting writes never block on the synchronous pipe
	go func() {
		for sc.Scan() {
		}
	}()

	select {
	case <-client.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("client still connected after failed authentication")
	}

	var failed bool
	for {
		select {
		case ev := <-sub.Events():
			if e, ok := ev.Event.(irc.ErrorEvent); ok && e.Severity == irc.SeverityFail {
				failed = true
			}
			if _, ok := ev.Event.(DisconnectedEvent); ok {
				if !failed {
					t.Error("no failing error event before the disconnect")
				}
				return
			}
		case <-time.After(time.Second):
			t.Fatal("no disconnect event on the bus")
		}
	}
}
