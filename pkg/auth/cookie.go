package auth

import (
	"net/url"
)

// CookieSettings contains cookie security settings derived from base URL.
type CookieSettings struct {
	// Secure indicates whether the cookie should only be sent over HTTPS.
	Secure bool
	// Domain is the cookie domain scope. Empty means host-only.
	Domain string
}

// DeriveCookieSettings determines cookie security settings from the public base URL.
//   - http://localhost:3000 → Secure: false, Domain: ""
//   - https://sign.example.gov → Secure: true, Domain: ""
//
// A non-empty configCookieDomain overrides the domain.
func DeriveCookieSettings(baseURL string, configCookieDomain string) CookieSettings {
	parsedURL, err := url.Parse(baseURL)
	if err != nil || baseURL == "" {
		return CookieSettings{Secure: true, Domain: configCookieDomain}
	}

	secure := parsedURL.Scheme != "http"
	switch parsedURL.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		// Browsers drop a Domain attribute for localhost.
		return CookieSettings{Secure: secure}
	}

	return CookieSettings{
		Secure: secure,
		Domain: configCookieDomain,
	}
}
