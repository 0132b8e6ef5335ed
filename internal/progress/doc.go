// Package progress provides the event primitives, non-blocking hub, and
// emitter interfaces that sessions use to report search progress. It batches
// events on a background goroutine and fans them out to pluggable sinks such
// as Prometheus metrics or structured logging.
package progress
