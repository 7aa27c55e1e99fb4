// Package progress carries scan lifecycle events from the spider controller
// to pluggable sinks. Events are batched on a background goroutine so that
// emitting never blocks a scan.
package progress
