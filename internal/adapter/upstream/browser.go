package upstream

import "crypto/tls"

// BrowserProfile names a TLS fingerprint (JA3-equivalent) and matching
// User-Agent/fetch hints, selected by config name (§4.C "a named
// browser profile, e.g. chrome136"). The profile table is data, not
// control flow, grounded on the teacher's theme.GetTheme(name)
// named-profile-lookup idiom (internal/logger/logger.go).
type BrowserProfile struct {
	Name            string
	UserAgent       string
	SecChUA         string
	SecChUAPlatform string
	CipherSuites    []uint16
	ALPN            []string
	MinVersion      uint16
}

var browserProfiles = map[string]BrowserProfile{
	"chrome136": {
		Name:            "chrome136",
		UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/136.0.0.0 Safari/537.36",
		SecChUA:         `"Chromium";v="136", "Google Chrome";v="136", "Not.A/Brand";v="99"`,
		SecChUAPlatform: `"Windows"`,
		CipherSuites: []uint16{
			tls.TLS_AES_128_GCM_SHA256,
			tls.TLS_AES_256_GCM_SHA384,
			tls.TLS_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
		ALPN:       []string{"h2", "http/1.1"},
		MinVersion: tls.VersionTLS12,
	},
	"firefox128": {
		Name:            "firefox128",
		UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:128.0) Gecko/20100101 Firefox/128.0",
		SecChUA:         "",
		SecChUAPlatform: "",
		CipherSuites: []uint16{
			tls.TLS_AES_128_GCM_SHA256,
			tls.TLS_CHACHA20_POLY1305_SHA256,
			tls.TLS_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
		ALPN:       []string{"h2", "http/1.1"},
		MinVersion: tls.VersionTLS12,
	},
}

// GetBrowserProfile returns the named profile, falling back to
// chrome136 for any unrecognised name so a config typo degrades
// gracefully rather than producing a client with no cipher preference.
func GetBrowserProfile(name string) BrowserProfile {
	if p, ok := browserProfiles[name]; ok {
		return p
	}
	return browserProfiles["chrome136"]
}

func (p BrowserProfile) TLSConfig() *tls.Config {
	return &tls.Config{
		CipherSuites: p.CipherSuites,
		NextProtos:   p.ALPN,
		MinVersion:   p.MinVersion,
	}
}
