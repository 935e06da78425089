package crawler

import "errors"

var (
	// ErrNavigation reports a browser load failure or navigation timeout.
	ErrNavigation = errors.New("navigation failed")
	// ErrFetch reports a network failure during a direct fetch.
	ErrFetch = errors.New("fetch failed")
	// ErrHTTPStatus reports a response outside the archived status set.
	ErrHTTPStatus = errors.New("unexpected http status")
	// ErrMalformedURL reports a URL that cannot be parsed.
	ErrMalformedURL = errors.New("malformed url")
)
