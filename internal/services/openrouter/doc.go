// Package openrouter implements the AI invoker against the OpenRouter chat
// completion API. Calls are single-shot; errors carry classification markers
// from the services package so the central retry policy can reason about them.
package openrouter
