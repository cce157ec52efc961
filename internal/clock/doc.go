// Package clock abstracts timers so that every delay in the relay can be
// driven by a manual clock in tests.
//
// Scheduled callbacks are never trusted to be cancelled in time. Owners
// capture an Epoch token when scheduling and drop the callback when the
// token no longer matches.
package clock
