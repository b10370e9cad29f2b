package userauth

import "golang.org/x/text/secure/precis"

// normalizeUsername applies RFC 8265 PRECIS UsernameCaseMapped
// normalization to a username before it crosses the wire in either
// direction (SPEC_FULL.md section 11.4), closing a class of
// username-spoofing bugs from confusable Unicode code points that
// compare unequal byte-for-byte but render identically. A username
// that fails the profile (disallowed code points, bidi violations) is
// passed through unchanged rather than rejected here -- this package
// has no channel to report a normalization failure as anything other
// than the ordinary authentication failure the bad username will
// already produce downstream.
func normalizeUsername(username string) string {
	normalized, err := precis.UsernameCaseMapped.String(username)
	if err != nil {
		return username
	}
	return normalized
}
