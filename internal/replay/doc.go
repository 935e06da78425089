// Package replay serves crawl archives over HTTP so a captured site can be
// browsed offline. Each archive gets its own listener on a port derived
// from the archive path; requests that miss the archive may be fetched
// from the live site and added to it.
package replay
