// Package gpu holds the rendering surface contract an embedder implements:
// scoped make-current/clear-current of a GPU context plus present,
// framebuffer lookup and proc-address resolution.
//
// Every MakeCurrent is paired with a ClearCurrent on all exit paths through a
// ContextSwitch:
//
//	sw := delegate.GLContextMakeCurrent()
//	defer sw.Release()
//	if !sw.Result() {
//		return false
//	}
package gpu

import "sync"

// SwitchableContext is a context that can be bound to and unbound from the
// caller.
type SwitchableContext interface {
	// SetCurrent binds the context. Returns false on platform failure.
	SetCurrent() bool

	// RemoveCurrent unbinds the context. Safe to call when not current.
	RemoveCurrent() bool
}

// CurrentOps is the make/clear behaviour of a native context handle.
type CurrentOps interface {
	MakeCurrent() bool
	ClearCurrent() bool
}

// EmbeddedSwitchableContext adapts the CurrentOps of an embedder supplied
// context to SwitchableContext.
type EmbeddedSwitchableContext struct {
	ops CurrentOps
}

func NewEmbeddedSwitchableContext(ops CurrentOps) *EmbeddedSwitchableContext {
	if ops == nil {
		panic("gpu: nil CurrentOps")
	}
	return &EmbeddedSwitchableContext{ops: ops}
}

func (c *EmbeddedSwitchableContext) SetCurrent() bool    { return c.ops.MakeCurrent() }
func (c *EmbeddedSwitchableContext) RemoveCurrent() bool { return c.ops.ClearCurrent() }

// ContextSwitch is a scoped acquisition of a SwitchableContext.
// Release must be deferred by whoever acquired it; it calls RemoveCurrent
// exactly once, whether or not SetCurrent succeeded.
type ContextSwitch struct {
	ctx    SwitchableContext
	result bool
	once   sync.Once
}

// AcquireContext calls SetCurrent on ctx. A nil ctx yields a switch whose
// Result is false and whose Release is a no-op.
func AcquireContext(ctx SwitchableContext) *ContextSwitch {
	sw := &ContextSwitch{ctx: ctx}
	if ctx != nil {
		sw.result = ctx.SetCurrent()
	}
	return sw
}

// NewContextSwitchResult returns a switch with a fixed result and nothing to
// release, for delegates whose context is always current.
func NewContextSwitchResult(result bool) *ContextSwitch {
	return &ContextSwitch{result: result}
}

// Result reports whether SetCurrent succeeded.
func (s *ContextSwitch) Result() bool { return s.result }

// Release clears the context. Repeated calls are no-ops.
func (s *ContextSwitch) Release() {
	s.once.Do(func() {
		if s.ctx != nil {
			s.ctx.RemoveCurrent()
		}
	})
}

// WithContext runs fn while ctx is current. fn is skipped when SetCurrent
// fails. The context is cleared when fn returns, fails or panics.
func WithContext(ctx SwitchableContext, fn func() bool) bool {
	sw := AcquireContext(ctx)
	defer sw.Release()
	if !sw.Result() {
		return false
	}
	return fn()
}
