package domain

import "strings"

// DefaultAllowedEmailDomains is the campus allow-list used when none is configured.
var DefaultAllowedEmailDomains = []string{"vitstudent.ac.in"}

// EmailDomainAllowed reports whether email's domain ends with one of the allowed domains.
// Comparison is case-insensitive; an address without a domain part is never allowed.
func EmailDomainAllowed(email string, allowed []string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return false
	}
	domain := strings.ToLower(strings.TrimSpace(email[at+1:]))
	if domain == "" {
		return false
	}
	for _, d := range allowed {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" && strings.HasSuffix(domain, d) {
			return true
		}
	}
	return false
}

// EmailLocalPart returns the part of email before the last "@".
func EmailLocalPart(email string) string {
	if at := strings.LastIndex(email, "@"); at >= 0 {
		return email[:at]
	}
	return email
}
