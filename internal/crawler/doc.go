// Package crawler implements the respectful fetching engine: the robots.txt
// policy cache, the per-domain rate limiter, the retry combinator, the domain
// blocklist, and the orchestrator that composes them with the light and
// rendered fetch strategies behind a single no-throw Fetch contract.
package crawler
