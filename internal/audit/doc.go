// Package audit buffers security events and hands them to a pluggable sink.
//
// The engine decides which events exist; this package only moves them.
// Sinks: [ChannelSink] for tests, [JSONWriterSink] for append-only files,
// [LogSink] to ride along with the service log, [MultiSink] to combine them.
package audit
