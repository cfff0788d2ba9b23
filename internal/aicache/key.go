package aicache

import (
	"strings"

	"tsumugi/internal/textutil"
)

// Key builds the deterministic composite key for a category and its ordered
// parameter values. Segments are normalized so that casing and punctuation
// differences in upstream names cannot fork cache entries.
func Key(category string, params ...string) string {
	segments := make([]string, 0, len(params)+1)
	segments = append(segments, textutil.SanitizeToken(category))
	for _, param := range params {
		segments = append(segments, textutil.SanitizeToken(param))
	}
	return strings.Join(segments, ":")
}
