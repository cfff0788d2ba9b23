// Package main hosts the Tsumugi CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into calls
// against the api facade: single-character enrichment, batch runs, catalog
// maintenance, cache administration, status reporting, and the admin HTTP
// server. It centralizes configuration resolution and structured logging
// setup so subcommands can focus on user experience instead of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
