// Package notifications delivers enrichment events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. Enumerated event types cover batch lifecycle milestones and
// terminal enrichment failures so callers can emit consistent messages without
// duplicating HTTP glue.
//
// Extend this package if you need alternative transports; all enrichment code
// depends only on the simple Service interface.
package notifications
