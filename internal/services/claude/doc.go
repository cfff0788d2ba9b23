// Package claude implements the AI invoker against the Anthropic Messages
// API. Calls are single-shot; errors carry classification markers from the
// services package so the central retry policy can reason about them.
package claude
