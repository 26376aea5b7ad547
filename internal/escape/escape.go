// Package escape turns arbitrary NetworkTables keys into tokens that are safe
// to use as HTML identifiers and CSS selectors.
package escape

import (
	"net/url"
	"strings"
)

const upperhex = "0123456789ABCDEF"

// selectorSpecial is every character that has meaning inside a CSS selector
// and may survive ToIdentifier.
const selectorSpecial = `;&,.+*~':"!^#$%@[]()=>|`

// ToIdentifier percent-encodes key with the same rules as JavaScript's
// encodeURIComponent: everything but ASCII letters, digits and
// - _ . ! ~ * ' ( ) is encoded as UTF-8 %XX sequences.
func ToIdentifier(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if unreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

// ToSelector percent-encodes key and then backslash-escapes the characters
// that are significant in selectors. The percent signs introduced by the
// encoding are escaped too.
func ToSelector(key string) string {
	id := ToIdentifier(key)
	var b strings.Builder
	b.Grow(len(id) * 2)
	for i := 0; i < len(id); i++ {
		if strings.IndexByte(selectorSpecial, id[i]) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(id[i])
	}
	return b.String()
}

// Unescape reverses ToSelector and ToIdentifier.
func Unescape(s string) (string, error) {
	return url.PathUnescape(strings.ReplaceAll(s, `\`, ""))
}

func unreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
