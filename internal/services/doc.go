// Package services holds cross-cutting helpers shared by Tsumugi's service
// boundaries: the sentinel error taxonomy with retry classification, error
// wrapping with component context, and context annotation helpers that let
// structured logs carry entity, category, and job identifiers without
// threading them through every call signature.
package services
