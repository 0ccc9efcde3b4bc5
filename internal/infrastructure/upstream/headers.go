package upstream

import (
	"net/http"
	"sync/atomic"
)

// browserProfile is one fixed, internally-consistent set of browser
// fingerprint headers.
type browserProfile struct {
	userAgent      string
	secChUa        string
	secChUaPlatform string
	acceptLanguage string
	feVersion      string
}

// profiles is a small rotation of realistic desktop browser fingerprints.
// The upstream is a browser-facing chat backend, not a documented API.
var profiles = []browserProfile{
	{
		userAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		secChUa:         `"Chromium";v="124", "Google Chrome";v="124", "Not-A.Brand";v="99"`,
		secChUaPlatform: `"Windows"`,
		acceptLanguage:  "en-US,en;q=0.9",
		feVersion:       "prod-fe-1.0.70",
	},
	{
		userAgent:       "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		secChUa:         `"Chromium";v="124", "Google Chrome";v="124", "Not-A.Brand";v="99"`,
		secChUaPlatform: `"macOS"`,
		acceptLanguage:  "en-US,en;q=0.9",
		feVersion:       "prod-fe-1.0.70",
	},
	{
		userAgent:       "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		secChUa:         `"Chromium";v="124", "Not-A.Brand";v="99"`,
		secChUaPlatform: `"Linux"`,
		acceptLanguage:  "en-US,en;q=0.9",
		feVersion:       "prod-fe-1.0.70",
	},
}

// HeaderPool applies the headers the upstream expects on every request,
// rotating a whole browser profile round-robin across calls so a single
// client process doesn't present one fixed fingerprint for its lifetime.
type HeaderPool struct {
	counter uint64
}

// NewHeaderPool builds a pool starting at the first profile.
func NewHeaderPool() *HeaderPool {
	return &HeaderPool{}
}

// Apply sets Content-Type, Accept, a rotating browser fingerprint, and —
// when token is non-empty — the bearer Authorization header on req.
func (p *HeaderPool) Apply(req *http.Request, token string) {
	i := atomic.AddUint64(&p.counter, 1) - 1
	prof := profiles[i%uint64(len(profiles))]

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("User-Agent", prof.userAgent)
	req.Header.Set("Sec-Ch-Ua", prof.secChUa)
	req.Header.Set("Sec-Ch-Ua-Platform", prof.secChUaPlatform)
	req.Header.Set("Accept-Language", prof.acceptLanguage)
	req.Header.Set("X-Fe-Version", prof.feVersion)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
