// Package crawler drives a single page through a browser tab and defines
// the collaborators the dispatcher plugs together: the browser, the direct
// fetcher, and the hooks that feed discoveries back to the frontier.
package crawler
