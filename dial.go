package petrel

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/net/proxy"
	"golang.org/x/net/websocket"
)

const dialTimeout = 10 * time.Second

// address is a parsed server address.
type address struct {
	scheme string // "irc", "ircs", "ws" or "wss"
	host   string // host:port for irc schemes, full URL for websocket schemes
}

// parseAddress interprets addr as one of irc://, ircs://, irc+insecure://,
// ws:// or wss://, or as a bare host[:port] which defaults to plain IRC on
// port 6667. Default ports are 6667 for irc and 6697 for ircs.
func parseAddress(addr string) (address, error) {
	scheme, rest, ok := strings.Cut(addr, "://")
	if !ok {
		scheme, rest = "irc", addr
	}
	switch scheme {
	case "ws", "wss":
		return address{scheme: scheme, host: addr}, nil
	case "irc", "irc+insecure":
		scheme = "irc"
	case "ircs":
	default:
		return address{}, fmt.Errorf("invalid address scheme %q", scheme)
	}
	if rest == "" {
		return address{}, fmt.Errorf("empty address")
	}

	colonIdx := strings.LastIndexByte(rest, ':')
	bracketIdx := strings.LastIndexByte(rest, ']')
	if colonIdx <= bracketIdx {
		// either colonIdx < 0, or the last colon is before a ']' (end
		// of IPv6 address). -> missing port
		if scheme == "ircs" {
			rest += ":6697"
		} else {
			rest += ":6667"
		}
	}
	return address{scheme: scheme, host: rest}, nil
}

// dial opens a connection to the parsed address, honoring proxy settings
// from the environment for TCP schemes. TLS connections advertise the "irc"
// protocol.
func dial(ctx context.Context, addr address, skipVerify bool) (net.Conn, error) {
	if addr.scheme == "ws" || addr.scheme == "wss" {
		config, err := websocket.NewConfig(addr.host, "http://localhost/")
		if err != nil {
			return nil, fmt.Errorf("websocket config: %v", err)
		}
		if addr.scheme == "wss" {
			config.TlsConfig = &tls.Config{InsecureSkipVerify: skipVerify}
		}
		conn, err := websocket.DialConfig(config)
		if err != nil {
			return nil, fmt.Errorf("websocket connect: %v", err)
		}
		return conn, nil
	}

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	dialer := &net.Dialer{
		Timeout: dialTimeout,
	}
	conn, err := proxy.FromEnvironmentUsing(dialer).(proxy.ContextDialer).DialContext(ctx, "tcp", addr.host)
	if err != nil {
		return nil, fmt.Errorf("connect: %v", err)
	}

	if addr.scheme == "ircs" {
		host, _, _ := net.SplitHostPort(addr.host) // should succeed since net.Dial did.
		tlsConn := tls.Client(conn, &tls.Config{
			ServerName:         host,
			InsecureSkipVerify: skipVerify,
			NextProtos:         []string{"irc"},
		})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("tls handshake: %v", err)
		}
		conn = tlsConn
	}

	return conn, nil
}
