// Package pipeline moves normalized console events to their sinks.
//
// # Architecture
//
// Every capture adapter hands events to a Dispatcher. The dispatcher keeps
// one lane per source: a bounded queue, a consumer goroutine and a
// formatter created on first use. A formatter is therefore only ever
// touched by its lane's goroutine, and events from one page never shift
// the group depth or counters of another.
//
//	capture ──► Submit ──► lane[source] ──► Executor ──► Formatter ──► Sink
//
// In merged mode all sources share a single lane, so group depth and
// counters are shared as well.
//
// # Stages
//
// Before formatting, each event runs through an Executor: an ordered list
// of stages that can allow, deny or mutate it.
//
//	allow   pass the event on unchanged
//	deny    drop the event (logged at debug level)
//	mutate  replace the event with StageOutput.Event
package pipeline
