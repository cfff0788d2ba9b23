// Package textutil provides small text normalization helpers used by the
// cache key builder.
package textutil
