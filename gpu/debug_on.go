//go:build harnessdebug

package gpu

const debugChecks = true
