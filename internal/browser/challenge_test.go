package browser

import "testing"

func TestDetectChallengeByTitle(t *testing.T) {
	cases := []string{
		"Just a moment...",
		"Attention Required! | Cloudflare",
		"Access Denied",
		"Are you a robot?",
	}
	for _, title := range cases {
		if _, blocked := DetectChallenge(title, "<html><body>ok</body></html>"); !blocked {
			t.Errorf("title %q should be flagged", title)
		}
	}
}

func TestDetectChallengeByMarker(t *testing.T) {
	html := `<html><body><div id="cf-challenge-running"></div></body></html>`
	reason, blocked := DetectChallenge("Example Domain", html)
	if !blocked {
		t.Fatal("challenge marker should be flagged")
	}
	if reason == "" {
		t.Fatal("expected a reason")
	}
}

func TestDetectChallengeCleanPage(t *testing.T) {
	html := `<html><head><title>Go Concurrency Patterns</title></head><body><h1>Intro</h1><p>Pipelines and cancellation.</p></body></html>`
	if reason, blocked := DetectChallenge("Go Concurrency Patterns", html); blocked {
		t.Fatalf("clean page flagged as challenge: %s", reason)
	}
}
