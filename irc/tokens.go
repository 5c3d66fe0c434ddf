package irc

import (
	"fmt"
	"strings"
	"time"
)

const serverTimeLayout = "2006-01-02T15:04:05.000Z"

func parseTimestamp(timestamp string) (time.Time, bool) {
	t, err := time.Parse(serverTimeLayout, timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(serverTimeLayout)
}

// Prefix is the sender of a message, either a user (nick!user@host, with
// user and host optional) or a server name.
type Prefix struct {
	Name string
	User string
	Host string
}

// ParsePrefix parses a "nick!user@host" or "server.name" string. It returns
// nil if s is empty.
func ParsePrefix(s string) *Prefix {
	if s == "" {
		return nil
	}

	p := &Prefix{}

	s, p.Host, _ = strings.Cut(s, "@")
	p.Name, p.User, _ = strings.Cut(s, "!")

	return p
}

// Copy returns a copy of the prefix, or nil if the prefix is nil.
func (p *Prefix) Copy() *Prefix {
	if p == nil {
		return nil
	}
	q := *p
	return &q
}

func (p *Prefix) String() string {
	if p == nil {
		return ""
	}
	sb := strings.Builder{}
	sb.WriteString(p.Name)
	if p.User != "" {
		sb.WriteByte('!')
		sb.WriteString(p.User)
	}
	if p.Host != "" {
		sb.WriteByte('@')
		sb.WriteString(p.Host)
	}
	return sb.String()
}

func unescapeTagValue(escaped string) string {
	// shortcut if the value doesn't contain any escape
	if !strings.ContainsRune(escaped, '\\') {
		return escaped
	}

	sb := strings.Builder{}
	sb.Grow(len(escaped))
	escape := false
	for _, c := range escaped {
		if c == '\\' && !escape {
			escape = true
			continue
		}
		if escape {
			switch c {
			case ':':
				c = ';'
			case 's':
				c = ' '
			case 'r':
				c = '\r'
			case 'n':
				c = '\n'
			}
			escape = false
		}
		sb.WriteRune(c)
	}

	return sb.String()
}

func escapeTagValue(unescaped string) string {
	if !strings.ContainsAny(unescaped, "; \\\r\n") {
		return unescaped
	}

	sb := strings.Builder{}
	sb.Grow(len(unescaped) * 2)
	for _, c := range unescaped {
		switch c {
		case ';':
			sb.WriteString("\\:")
		case ' ':
			sb.WriteString("\\s")
		case '\\':
			sb.WriteString("\\\\")
		case '\r':
			sb.WriteString("\\r")
		case '\n':
			sb.WriteString("\\n")
		default:
			sb.WriteRune(c)
		}
	}

	return sb.String()
}

// parseTags decodes a raw message-tag segment (without the leading '@') into
// a map. Tags without a value map to the empty string. Unknown tags are kept
// so that handlers can look at vendor/draft tags.
func parseTags(s string) map[string]string {
	tags := map[string]string{}

	for _, item := range strings.Split(s, ";") {
		if item == "" || item == "=" || item == "+" || item == "+=" {
			continue
		}

		k, v, _ := strings.Cut(item, "=")
		tags[k] = unescapeTagValue(v)
	}

	return tags
}

func formatTags(tags map[string]string) string {
	sb := strings.Builder{}
	for k, v := range tags {
		if sb.Len() > 0 {
			sb.WriteByte(';')
		}
		sb.WriteString(k)
		if v != "" {
			sb.WriteByte('=')
			sb.WriteString(escapeTagValue(v))
		}
	}
	return sb.String()
}

var (
	errEmptyMessage      = fmt.Errorf("empty message")
	errIncompleteMessage = fmt.Errorf("message is incomplete")
)

// Message is an IRC message, parsed from or encoded to the wire format.
type Message struct {
	Tags    map[string]string
	Prefix  *Prefix
	Command string
	Params  []string
}

// NewMessage builds a message with the given command and parameters.
func NewMessage(command string, params ...string) Message {
	return Message{Command: command, Params: params}
}

// WithTag returns the message with the given tag set.
func (msg Message) WithTag(key, value string) Message {
	if msg.Tags == nil {
		msg.Tags = map[string]string{}
	}
	msg.Tags[key] = value
	return msg
}

func word(s string) (w, rest string) {
	w, rest, ok := strings.Cut(s, " ")
	if !ok {
		return s, ""
	}
	return w, strings.TrimLeft(rest, " ")
}

// ParseMessage parses a single IRC line (without the trailing CRLF) into a
// message. The tag segment and source prefix are optional.
func ParseMessage(line string) (msg Message, err error) {
	line = strings.TrimLeft(line, " ")
	if line == "" {
		return msg, errEmptyMessage
	}

	if line[0] == '@' {
		var tags string
		tags, line = word(line)
		msg.Tags = parseTags(tags[1:])
	}

	if line == "" {
		return msg, errIncompleteMessage
	}

	if line[0] == ':' {
		var prefix string
		prefix, line = word(line)
		msg.Prefix = ParsePrefix(prefix[1:])
	}

	if line == "" {
		return msg, errIncompleteMessage
	}

	msg.Command, line = word(line)
	msg.Command = strings.ToUpper(msg.Command)

	for line != "" {
		if line[0] == ':' {
			msg.Params = append(msg.Params, line[1:])
			break
		}

		var param string
		param, line = word(line)
		msg.Params = append(msg.Params, param)
	}

	return msg, nil
}

// String encodes the message back to its wire format, without the trailing
// CRLF. The last parameter is sent as a trailing parameter whenever needed.
func (msg Message) String() string {
	sb := strings.Builder{}

	if len(msg.Tags) > 0 {
		sb.WriteByte('@')
		sb.WriteString(formatTags(msg.Tags))
		sb.WriteByte(' ')
	}
	if msg.Prefix != nil {
		sb.WriteByte(':')
		sb.WriteString(msg.Prefix.String())
		sb.WriteByte(' ')
	}
	sb.WriteString(msg.Command)

	for i, p := range msg.Params {
		sb.WriteByte(' ')
		if i == len(msg.Params)-1 && (p == "" || p[0] == ':' || strings.ContainsRune(p, ' ')) {
			sb.WriteByte(':')
		}
		sb.WriteString(p)
	}

	return sb.String()
}

// ParseParams copies the message parameters into the given destinations, in
// order. A nil destination skips the parameter. It fails if the message has
// fewer parameters than destinations.
func (msg *Message) ParseParams(params ...*string) error {
	if len(msg.Params) < len(params) {
		return msg.errNotEnoughParams(len(params))
	}
	for i := range params {
		if params[i] != nil {
			*params[i] = msg.Params[i]
		}
	}
	return nil
}

func (msg *Message) errNotEnoughParams(expected int) error {
	return fmt.Errorf("%s: expected at least %d params, got %d", msg.Command, expected, len(msg.Params))
}

// IsReply reports whether the message command is a numeric reply.
func (msg *Message) IsReply() bool {
	if len(msg.Command) != 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		if msg.Command[i] < '0' || msg.Command[i] > '9' {
			return false
		}
	}
	return true
}

// Time returns the value of the server-time tag, if any.
func (msg *Message) Time() (t time.Time, ok bool) {
	tag, ok := msg.Tags["time"]
	if !ok {
		return time.Time{}, false
	}
	return parseTimestamp(tag)
}

// TimeOrNow returns the value of the server-time tag, or the current time
// if the tag is absent or malformed.
func (msg *Message) TimeOrNow() time.Time {
	if t, ok := msg.Time(); ok {
		return t
	}
	return time.Now().UTC()
}

// Cap is a capability token from a CAP LS/ACK/NEW/DEL parameter.
type Cap struct {
	Name   string // the capability name, lowercased, without any value.
	Value  string // the capability value, if any.
	Enable bool   // false if the capability is being disabled ("-" prefix).
}

// ParseCaps parses a space-separated capability list.
func ParseCaps(caps string) []Cap {
	var diff []Cap

	for _, c := range strings.Split(caps, " ") {
		if c == "" || c == "-" || c == "=" || c == "-=" {
			continue
		}

		var item Cap
		item.Enable = true
		if strings.HasPrefix(c, "-") {
			item.Enable = false
			c = c[1:]
		}

		k, v, _ := strings.Cut(c, "=")
		item.Name = strings.ToLower(k)
		item.Value = v

		diff = append(diff, item)
	}

	return diff
}

// Name is an entry of a RPL_NAMREPLY nick list.
type Name struct {
	PowerLevel string // the channel prefix characters, e.g. "@" or "+".
	Name       *Prefix
}

// ParseNameReply parses a space-separated RPL_NAMREPLY nick list, each entry
// optionally prefixed with membership characters from prefixes. Entries may
// be full nick!user@host masks when userhost-in-names is enabled.
func ParseNameReply(trailing string, prefixes string) []Name {
	var names []Name

	for _, name := range strings.Split(trailing, " ") {
		if name == "" {
			continue
		}

		mask := strings.TrimLeft(name, prefixes)
		names = append(names, Name{
			PowerLevel: name[:len(name)-len(mask)],
			Name:       ParsePrefix(mask),
		})
	}

	return names
}

// CasemapASCII of name is the canonical representation of name according to
// the ascii casemapping.
func CasemapASCII(name string) string {
	sb := strings.Builder{}
	sb.Grow(len(name))
	for _, r := range name {
		if 'A' <= r && r <= 'Z' {
			r += 'a' - 'A'
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// CasemapRFC1459 of name is the canonical representation of name according
// to the rfc-1459 casemapping.
func CasemapRFC1459(name string) string {
	sb := strings.Builder{}
	sb.Grow(len(name))
	for _, r := range name {
		if 'A' <= r && r <= 'Z' {
			r += 'a' - 'A'
		} else if r == '[' {
			r = '{'
		} else if r == ']' {
			r = '}'
		} else if r == '\\' {
			r = '|'
		} else if r == '~' {
			r = '^'
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// ModeChange is a single mode change against a channel member or channel.
type ModeChange struct {
	Enable bool
	Mode   byte
	Param  string
}

// ParseChannelMode parses a MODE change line against the CHANMODES and
// PREFIX ISUPPORT values, associating parameters with the modes that
// consume them.
func ParseChannelMode(modes string, params []string, chanmodes [4]string, memberModes string) ([]ModeChange, error) {
	var changes []ModeChange
	enable := true
	for i := 0; i < len(modes); i++ {
		m := modes[i]
		switch m {
		case '+':
			enable = true
		case '-':
			enable = false
		default:
			change := ModeChange{Enable: enable, Mode: m}
			var needsParam bool
			switch {
			case strings.IndexByte(memberModes, m) >= 0:
				needsParam = true
			case strings.IndexByte(chanmodes[0], m) >= 0:
				needsParam = true
			case strings.IndexByte(chanmodes[1], m) >= 0:
				needsParam = true
			case strings.IndexByte(chanmodes[2], m) >= 0:
				needsParam = enable
			}
			if needsParam {
				if len(params) == 0 {
					return nil, fmt.Errorf("missing parameter for mode %q", string(m))
				}
				change.Param = params[0]
				params = params[1:]
			}
			changes = append(changes, change)
		}
	}
	return changes, nil
}
