// Package errors provides the structured error taxonomy shared by every
// engine bridge package.
//
// Errors fall into a small set of kinds:
//   - not_ready, disposed: precondition violations, surfaced immediately
//   - timeout: a transient channel race that outlived its retry budget
//   - communication: the native side rejected a call or the call failed
//   - missing_chunk, incomplete_transfer, checksum_mismatch, invalid_chunk,
//     invalid_envelope: binary transfer integrity failures
//   - unsupported, config: capability and configuration problems
//
// Each error carries a registry code (e.g. "EB010") plus the logical target,
// method and engine type it concerns, so a failure can be traced back to the
// call that produced it:
//
//	err := errors.New("EB010").
//	    WithCall("Player", "jump").
//	    WithEngine("unity").
//	    Wrap(cause)
//
// A Kind is itself an error, so callers match on kind with the standard
// library:
//
//	if errors.Is(err, errors.KindNotReady) {
//	    // retry after the engine reaches ready
//	}
package errors
