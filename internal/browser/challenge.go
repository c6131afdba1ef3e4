package browser

import "strings"

// challengeMarkers are element ids/classes emitted by known anti-bot
// interstitials. Matched as substrings of the rendered markup.
var challengeMarkers = []string{
	"cf-challenge",
	"cf-browser-verification",
	"challenge-form",
	"challenge-running",
	"g-recaptcha",
	"h-captcha",
	"cf-turnstile",
	"px-captcha",
	"ddos-protection",
	"distil_r_captcha",
}

// suspiciousTitles are title phrases typical of block/challenge pages.
var suspiciousTitles = []string{
	"just a moment",
	"attention required",
	"access denied",
	"access to this page has been denied",
	"are you a robot",
	"please verify you are a human",
	"security check",
	"pardon our interruption",
	"429 too many requests",
}

// DetectChallenge reports whether a rendered page is an anti-bot
// challenge, returning the matched signature. Pure function over
// (title, html) so it is testable without a browser.
func DetectChallenge(title, html string) (string, bool) {
	lt := strings.ToLower(title)
	for _, phrase := range suspiciousTitles {
		if strings.Contains(lt, phrase) {
			return "title: " + phrase, true
		}
	}
	lh := strings.ToLower(html)
	for _, marker := range challengeMarkers {
		if strings.Contains(lh, marker) {
			return "element: " + marker, true
		}
	}
	return "", false
}
