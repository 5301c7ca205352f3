// Package phone holds the helpers that turn user input and protocol addresses
// into the digit-only Number used as the key for every per-tenant record.
package phone

import (
	"strings"
)

const (
	// UserServer is the address server for individual accounts.
	UserServer = "s.whatsapp.net"
	// GroupServer is the address server for group chats.
	GroupServer = "g.us"
	// StatusBroadcast is the pseudo-chat that carries status updates.
	StatusBroadcast = "status@broadcast"
)

// Normalize strips every non-digit character.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// JID returns the user address for a Number.
func JID(number string) string {
	return Normalize(number) + "@" + UserServer
}

// FromJID returns the Number part of an address, dropping any device or agent
// suffix ("123:4@s.whatsapp.net" -> "123").
func FromJID(jid string) string {
	user, _, _ := strings.Cut(jid, "@")
	user, _, _ = strings.Cut(user, ":")
	user, _, _ = strings.Cut(user, ".")
	return Normalize(user)
}

// IsGroup reports whether the address is a group chat.
func IsGroup(jid string) bool {
	return strings.HasSuffix(jid, "@"+GroupServer)
}

// SameUser compares two addresses ignoring device suffixes.
func SameUser(a, b string) bool {
	na, nb := FromJID(a), FromJID(b)
	return na != "" && na == nb
}
