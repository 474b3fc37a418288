// Package notifications delivers workflow events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when no topic is set.
// Enumerated events cover the intake milestones, each gated by its own
// config toggle, so workflow code can emit consistent messages without
// duplicating HTTP glue. Identical notifications inside the configured dedup
// window are dropped to keep batch runs from flooding a topic.
//
// Extend this package if you need alternative transports; all workflow code
// depends only on the Service interface.
package notifications
