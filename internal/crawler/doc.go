// Package crawler implements the clinic crawl pipeline: the retrying fetcher
// with its courtesy throttle, the link and field extractors, the CSV record
// sink, and the engine that walks the root → region → clinic hierarchy.
package crawler
