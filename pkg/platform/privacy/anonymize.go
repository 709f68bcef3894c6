// Package privacy masks personal data before it reaches logs.
package privacy

import (
	"net/netip"
	"strings"
)

// AnonymizeIP masks the host part of an address for request logs: IPv4 keeps
// its /24, IPv6 keeps its /48. Empty input yields "unknown" and unparseable
// input yields "invalid".
func AnonymizeIP(ip string) string {
	if ip == "" || ip == "unknown" {
		return "unknown"
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "invalid"
	}
	addr = addr.Unmap()
	if addr.Is4() {
		prefix, _ := addr.Prefix(24)
		return prefix.Addr().String()
	}
	prefix, _ := addr.Prefix(48)
	return prefix.Addr().String()
}

// MaskEmail keeps the first rune of the local part and the full domain.
//
//	MaskEmail("alice@example.com") // "a***@example.com"
func MaskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return "***"
	}
	return local[:1] + "***@" + domain
}
