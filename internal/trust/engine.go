package trust

import (
	"fmt"
	"net/url"
	"time"

	"github.com/mileusna/useragent"

	"github.com/verifyd/verifyd/internal/evidence"
	"github.com/verifyd/verifyd/internal/session"
)

// Check weights. They sum to 100; the score is the sum of passed weights.
const (
	weightAllowlist = 40
	weightTransport = 15
	weightProximity = 25
	weightClose     = 10
	weightAnomaly   = 10
)

// DefaultHighThreshold is the score at or above which a session with
// proximity evidence earns a TRUSTED verdict.
const DefaultHighThreshold = 80

// Metadata is the request-side input to scoring: attributes of the verify
// call itself, as opposed to state accumulated on the session.
type Metadata struct {
	ClientIP        string
	UserAgent       string
	SecureTransport bool
	RateFlagged     bool
}

// Engine maps a session's accumulated signals plus request metadata onto a
// verdict, a numeric score, and an ordered check log. Score is a pure
// function of its arguments; the anchor repository is the only collaborator
// and is consulted without I/O.
type Engine struct {
	anchors       *AnchorRepository
	highThreshold int
}

// NewEngine creates a scoring engine. highThreshold <= 0 selects the default.
func NewEngine(anchors *AnchorRepository, highThreshold int) *Engine {
	if highThreshold <= 0 {
		highThreshold = DefaultHighThreshold
	}
	return &Engine{anchors: anchors, highThreshold: highThreshold}
}

// Score runs the fixed check list against the session. Check order is fixed
// for log readability; the score itself is order-independent.
func (e *Engine) Score(sess *session.Session, meta Metadata, now time.Time) *session.Result {
	res := &session.Result{
		CheckedURL: sess.CheckedURL,
		Timestamp:  now.UTC(),
		ClientIP:   meta.ClientIP,
		UserAgent:  meta.UserAgent,
	}
	e.fillDevice(res, meta.UserAgent)

	score := 0
	hardFail := false
	pass := func(check, detail string, weight int) {
		res.Logs = append(res.Logs, session.CheckLog{Check: check, Status: "PASS", Detail: detail})
		score += weight
	}
	fail := func(check, detail string, hard bool) {
		res.Logs = append(res.Logs, session.CheckLog{Check: check, Status: "FAIL", Detail: detail})
		if hard {
			hardFail = true
		}
	}

	// 1. Allow list. A miss is a hard fail: the service must never vouch for
	// a domain outside the official set, whatever the other signals say.
	u, err := url.Parse(sess.CheckedURL)
	host := ""
	if err == nil {
		host = u.Hostname()
	}
	switch {
	case host == "":
		fail("allowlist", fmt.Sprintf("checked URL %q is not a valid URL", sess.CheckedURL), true)
	case e.anchors.IsTrusted(sess.CheckedURL):
		pass("allowlist", fmt.Sprintf("domain %s is on the official allow list", host), weightAllowlist)
	default:
		fail("allowlist", fmt.Sprintf("domain %s is NOT on the official allow list", host), true)
	}

	// 2. Secure transport: the checked URL is https and the verify request
	// itself arrived over TLS.
	if u != nil && u.Scheme == "https" && meta.SecureTransport {
		pass("secure_transport", "checked URL and verify request both use TLS", weightTransport)
	} else {
		fail("secure_transport", "plain-text transport on checked URL or verify request", false)
	}

	// 3. Proximity evidence present.
	matched := false
	nearby := false
	for _, ev := range sess.Evidence {
		if ev.Matched {
			matched = true
		}
		if evidence.Close(ev) {
			nearby = true
		}
	}
	if matched {
		pass("proximity", "proximity advertisement matched within session TTL", weightProximity)
	} else {
		fail("proximity", "no proximity evidence recorded", false)
	}

	// 4. Proximity distance.
	if nearby {
		pass("proximity_close", fmt.Sprintf("signal strength within close threshold (>= %d dBm)", evidence.CloseThresholdDBM), weightClose)
	} else {
		fail("proximity_close", "device present but distance unconfirmed", false)
	}

	// 5. Rate-limit / anomaly flag.
	if meta.RateFlagged {
		fail("anomaly", "verifying client tripped the rate limiter this window", false)
	} else {
		pass("anomaly", "no rate-limit anomaly for the verifying client", weightAnomaly)
	}

	if score > 100 {
		score = 100
	}
	res.TrustScore = score
	res.Verdict = verdict(score, matched, hardFail, e.highThreshold)
	return res
}

// verdict maps score and signals to the final verdict. A hard fail is
// UNSAFE no matter the score; without evidence the best possible outcome is
// UNKNOWN.
func verdict(score int, matched, hardFail bool, highThreshold int) string {
	switch {
	case hardFail:
		return session.VerdictUnsafe
	case matched && score >= highThreshold:
		return session.VerdictTrusted
	default:
		return session.VerdictUnknown
	}
}

// fillDevice extracts device attributes from the verifying client's
// user-agent string.
func (e *Engine) fillDevice(res *session.Result, ua string) {
	if ua == "" {
		return
	}
	parsed := useragent.Parse(ua)
	res.DeviceOS = parsed.OS
	res.DeviceBrowser = parsed.Name
	res.DeviceBrand = parsed.Device
	res.IsMobile = parsed.Mobile
}
