package slackconn

import (
	"fmt"
	"strings"
)

// MarkdownToMrkdwn converts standard Markdown to Slack's mrkdwn format.
func MarkdownToMrkdwn(md string) string {
	result := convertEmphasis(md)
	// ~~text~~ → ~text~
	result = strings.ReplaceAll(result, "~~", "~")
	result = convertLinks(result)
	return result
}

// convertEmphasis maps **bold** to *bold* and *italic* to _italic_ in one
// pass, leaving code spans untouched.
func convertEmphasis(s string) string {
	var b strings.Builder
	inCode := false
	for i := 0; i < len(s); {
		ch := s[i]
		switch {
		case ch == '`':
			inCode = !inCode
			b.WriteByte(ch)
			i++
		case ch == '*' && !inCode && i+1 < len(s) && s[i+1] == '*':
			b.WriteByte('*')
			i += 2
		case ch == '*' && !inCode:
			b.WriteByte('_')
			i++
		default:
			b.WriteByte(ch)
			i++
		}
	}
	return b.String()
}

// convertLinks converts [text](url) to <url|text>.
func convertLinks(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		if s[i] != '[' {
			b.WriteByte(s[i])
			i++
			continue
		}
		closeB := strings.Index(s[i:], "](")
		if closeB == -1 {
			b.WriteByte(s[i])
			i++
			continue
		}
		closeB += i
		closeP := strings.Index(s[closeB:], ")")
		if closeP == -1 {
			b.WriteByte(s[i])
			i++
			continue
		}
		closeP += closeB
		fmt.Fprintf(&b, "<%s|%s>", s[closeB+2:closeP], s[i+1:closeB])
		i = closeP + 1
	}
	return b.String()
}

// channelName reduces name to the characters Slack accepts in channel
// names (lowercase letters, digits, - and _), capped at 80.
func channelName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteByte('-')
		}
		if b.Len() >= 80 {
			break
		}
	}
	return b.String()
}

// colorHex renders a 24-bit color as an attachment color string.
func colorHex(c int) string {
	return fmt.Sprintf("#%06X", c&0xFFFFFF)
}
