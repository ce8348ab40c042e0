package fetch

import "strings"

// blockedMarkers are the phrases that identify an anti-bot or consent
// interstitial when they appear in a suspiciously short body.
var blockedMarkers = []string{
	"captcha",
	"consent",
	"verify",
	"cloudflare",
	"access denied",
	"access-denied",
	"unusual traffic",
	"are you a robot",
}

// blockedBodyMax is the body size under which marker matching applies;
// real rating pages are never this small.
const blockedBodyMax = 500

// IsBlockedBody classifies a response body as an anti-bot or consent page.
func IsBlockedBody(body string) bool {
	trimmed := strings.TrimSpace(body)
	if len(trimmed) == 0 || len(trimmed) >= blockedBodyMax {
		return false
	}
	lower := strings.ToLower(trimmed)
	for _, m := range blockedMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
