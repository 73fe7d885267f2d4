package store

import "strings"

// Transport address suffixes used by the bridged network.
const (
	SuffixUser   = "@s.whatsapp.net"
	SuffixGroup  = "@g.us"
	SuffixLegacy = "@c.us"
)

// BareAddress strips the network suffix and any device part from a transport
// address: "2348012345678:12@s.whatsapp.net" -> "2348012345678".
func BareAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		addr = addr[:i]
	}
	if i := strings.IndexByte(addr, ':'); i >= 0 {
		addr = addr[:i]
	}
	return addr
}

// NormalizePhone reduces a phone number or user address to its digits.
// "+234 801-234-5678" and "2348012345678@s.whatsapp.net" both become "2348012345678".
func NormalizePhone(s string) string {
	s = BareAddress(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// GroupAddressForms returns the lookup candidates for a group address:
// the address as given, its bare form, and the suffixed form, deduplicated.
func GroupAddressForms(addr string) []string {
	addr = strings.TrimSpace(addr)
	bare := BareAddress(addr)
	forms := make([]string, 0, 3)
	seen := make(map[string]bool, 3)
	for _, f := range []string{addr, bare, bare + SuffixGroup} {
		if f == "" || f == SuffixGroup || seen[f] {
			continue
		}
		seen[f] = true
		forms = append(forms, f)
	}
	return forms
}
