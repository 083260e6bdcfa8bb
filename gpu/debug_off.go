//go:build !harnessdebug

package gpu

// debugChecks turns precondition violations into panics.
const debugChecks = false
