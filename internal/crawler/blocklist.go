package crawler

import (
	"net"
	"strings"
)

// Blocklist holds domains the engine refuses to fetch from. A listed domain
// blocks itself and every subdomain, so listing "example.com" also blocks
// "shop.example.com". Matching ignores ports and case.
type Blocklist struct {
	domains map[string]struct{}
}

// NewBlocklist builds a blocklist from configured domain names. Entries are
// normalized to bare lowercase hostnames; empty entries are dropped.
func NewBlocklist(domains []string) *Blocklist {
	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		d = normalizeBlockDomain(d)
		if d != "" {
			set[d] = struct{}{}
		}
	}
	return &Blocklist{domains: set}
}

// Blocked reports whether domain, or any parent domain of it, is listed.
func (b *Blocklist) Blocked(domain string) bool {
	if b == nil || len(b.domains) == 0 {
		return false
	}
	host := normalizeBlockDomain(domain)
	for host != "" {
		if _, ok := b.domains[host]; ok {
			return true
		}
		dot := strings.IndexByte(host, '.')
		if dot < 0 {
			return false
		}
		host = host[dot+1:]
	}
	return false
}

// Len reports how many domains are listed.
func (b *Blocklist) Len() int {
	if b == nil {
		return 0
	}
	return len(b.domains)
}

func normalizeBlockDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	domain = strings.TrimPrefix(domain, "*.")
	domain = strings.TrimSuffix(domain, ".")
	if host, _, err := net.SplitHostPort(domain); err == nil {
		domain = host
	}
	return domain
}
