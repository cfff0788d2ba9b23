// Package preflight provides readiness checks for the directories, disk
// space, database, and AI provider that Tsumugi depends on.
//
// These checks run in two contexts:
//   - The serve and batch commands call RunAll before accepting work, so a
//     misconfigured provider or unwritable data directory fails fast instead
//     of surfacing as unit failures mid-batch.
//   - The CLI "tsumugi status" command uses individual check functions to
//     display component health.
package preflight
