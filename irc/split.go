package irc

import (
	"strings"

	"github.com/rivo/uniseg"
)

// Worst-case byte cost of the prefix the server prepends when relaying a
// message to other clients (":nick!user@host PRIVMSG <target> :" plus CRLF).
// Nick, user and host lengths are conservative protocol maxima; the margin
// absorbs estimation error on servers with unusual prefixes.
const (
	maxNickLen  = 20
	maxUserLen  = 20
	maxHostLen  = 63
	splitMargin = 10
)

// maxMessageLength is the biggest content length that is guaranteed to fit
// in a single line of lineLen bytes once the server prepends the relay
// prefix for the given target.
func maxMessageLength(target string, lineLen int) int {
	return lineLen -
		len(":!@ PRIVMSG  :\r\n") -
		maxNickLen -
		maxUserLen -
		maxHostLen -
		len(target) -
		splitMargin
}

// splitChunks splits s into chunks of at most chunkLen bytes. Splitting
// happens after a space when one is available, and never inside a word
// unless the word alone exceeds chunkLen, in which case the word is cut at
// a grapheme boundary. Concatenating the chunks yields s exactly.
func splitChunks(s string, chunkLen int) []string {
	if chunkLen <= 0 || len(s) <= chunkLen {
		return []string{s}
	}

	var chunks []string
	for len(s) > chunkLen {
		cut := strings.LastIndexByte(s[:chunkLen], ' ') + 1
		if cut <= 0 {
			cut = graphemeCut(s, chunkLen)
		}
		chunks = append(chunks, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}

// graphemeCut returns the largest byte offset not exceeding chunkLen that
// falls on a grapheme cluster boundary of s, cutting at least one cluster.
func graphemeCut(s string, chunkLen int) int {
	n := 0
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		_, to := g.Positions()
		if n > 0 && to > chunkLen {
			break
		}
		n = to
		if n >= chunkLen {
			break
		}
	}
	return n
}
