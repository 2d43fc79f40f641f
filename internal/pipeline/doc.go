// Package pipeline assembles the request handling chain of the dev server.
//
// A pipeline is an ordered list of stages. Each stage is a Handler that either
// produces the response or lets the request continue, possibly rewritten.
// Stages are kept in named slots so their order is data rather than the
// accident of call order:
//
//	before, compression, headers, proxy, build, static,
//	htmlFallback, historyFallback, favicon, after
//
// Assemble fills the slots from configuration, the user extension functions
// and a registry of lazily acquired factories. Besides the composed handler it
// returns the upgrade Multicaster, which fans raw protocol upgrade events out
// to every collected subscriber, and a Close routine that tears the build
// integration down once.
package pipeline
