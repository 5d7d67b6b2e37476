// Package trace records what a build is doing: spans for the build, its
// stages and every module, written as text, NDJSON or Chrome trace events.
//
// Enable it from the command line:
//
//	quire build --trace=build.chrome.json --trace-level=detail
//
// A RingTracer keeps the last events in memory; with --trace-mode=ring (or
// both) the ring is dumped when a build fails.
//
// Tracers travel through the build in the context:
//
//	ctx = trace.WithTracer(ctx, tracer)
//	ctx, span := trace.Start(ctx, trace.ScopeStage, "graph")
//	defer span.End("")
package trace
