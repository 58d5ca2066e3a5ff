// Package checkin implements the check-in core: the canonical code format,
// the payload normalizer, the redemption client, and the coordinator state
// machine that arbitrates every check-in attempt.
package checkin

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// Code token bounds. The shortest codes the platform ever issued are four
// characters; deep-link codes top out at ten.
const (
	CodeMinLen = 4
	CodeMaxLen = 10
)

// Query parameter names a check-in deep link may carry the code under.
// "c" is the short alias used on printed badges to keep QR density down.
const (
	codeParam      = "code"
	codeParamAlias = "c"
)

var codeRe = regexp.MustCompile(`^[A-Za-z0-9]{4,10}$`)

// ErrNotACode means a decoded payload does not resolve to a check-in code.
// This is the routine outcome for unrelated QR codes held up to the camera
// and is never surfaced to the operator.
var ErrNotACode = errors.New("payload does not carry a check-in code")

// Code is a canonical check-in code: 4-10 alphanumeric characters,
// upper-cased. Every Code value in the system satisfies this format;
// payloads that do not resolve to it never reach the coordinator.
type Code string

// ParseCode validates a bare token and canonicalizes it to upper case.
// This is the only branch the manual entry path goes through: typed input
// is always treated as a bare token, never as a URL.
func ParseCode(raw string) (Code, error) {
	raw = strings.TrimSpace(raw)
	if !codeRe.MatchString(raw) {
		return "", ErrNotACode
	}
	return Code(strings.ToUpper(raw)), nil
}

// Normalize extracts a canonical check-in code from a raw decoded payload.
//
// Badges may encode either a deep link (for sharing and printing) or a bare
// code (for minimal QR density); both are accepted. First match wins:
//
//  1. absolute URL with the code in a known query parameter
//  2. absolute URL whose last non-empty path segment is a valid token
//  3. the payload itself as a bare token
func Normalize(payload string) (Code, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return "", ErrNotACode
	}

	if u, err := url.Parse(payload); err == nil && u.Scheme != "" && u.Host != "" {
		q := u.Query()
		for _, param := range []string{codeParam, codeParamAlias} {
			if code, err := ParseCode(q.Get(param)); err == nil {
				return code, nil
			}
		}
		if code, err := ParseCode(lastPathSegment(u.Path)); err == nil {
			return code, nil
		}
		return "", ErrNotACode
	}

	return ParseCode(payload)
}

func lastPathSegment(path string) string {
	segments := strings.Split(path, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] != "" {
			return segments[i]
		}
	}
	return ""
}
