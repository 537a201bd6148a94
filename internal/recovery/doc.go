// Package recovery implements the policy that governs repair of
// structurally inconsistent queue state, and the append-only recovery log
// that records every repair regardless of the policy's verbosity.
//
// Three policies exist: Silent repairs without surfacing anything, Warn
// repairs and logs a warning, FailFast refuses to repair and surfaces a
// fatal error. Handler adapts a policy plus a log into the repository's
// Recoverer hook.
package recovery
