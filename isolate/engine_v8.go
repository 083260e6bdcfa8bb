//go:build v8

package isolate

import (
	"errors"
	"fmt"

	v8 "github.com/tommie/v8go"
)

// DefaultEngine returns the V8 engine.
func DefaultEngine() Engine { return V8Engine{} }

// V8Engine runs script on github.com/tommie/v8go. Each context gets its
// own v8 isolate.
type V8Engine struct{}

func (V8Engine) Name() string { return "v8" }

func (V8Engine) NewContext(opts ContextOptions) (ScriptContext, error) {
	var iso *v8.Isolate
	if opts.MemoryLimitMB > 0 {
		heapSize := uint64(opts.MemoryLimitMB) << 20
		iso = v8.NewIsolate(v8.WithResourceConstraints(heapSize/2, heapSize))
	} else {
		iso = v8.NewIsolate()
	}
	return newJSContext(&v8Backend{iso: iso, ctx: v8.NewContext(iso)})
}

type v8Backend struct {
	iso *v8.Isolate
	ctx *v8.Context
}

func (b *v8Backend) eval(source, name string) error {
	_, err := b.ctx.RunScript(source, name)
	return v8ScriptError(err)
}

func (b *v8Backend) evalString(js string) (string, error) {
	val, err := b.ctx.RunScript(js, "harness_eval.js")
	if err != nil {
		return "", v8ScriptError(err)
	}
	if val == nil || val.IsUndefined() || val.IsNull() {
		return "", nil
	}
	return val.String(), nil
}

func (b *v8Backend) registerRaw(name string, fn func(payload string) string) error {
	tmpl := v8.NewFunctionTemplate(b.iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		args := info.Args()
		if len(args) < 1 {
			msg, _ := v8.NewValue(b.iso, fmt.Sprintf("%s requires 1 argument", name))
			b.iso.ThrowException(msg)
			return nil
		}
		out, _ := v8.NewValue(b.iso, fn(args[0].String()))
		return out
	})
	return b.ctx.Global().Set(name, tmpl.GetFunction(b.ctx))
}

func (b *v8Backend) runMicrotasks() int {
	b.ctx.PerformMicrotaskCheckpoint()
	// v8 does not report how many jobs ran
	return 0
}

func (b *v8Backend) close() {
	b.ctx.Close()
	b.iso.Dispose()
}

func v8ScriptError(err error) error {
	if err == nil {
		return nil
	}
	var jsErr *v8.JSError
	if errors.As(err, &jsErr) {
		return &ScriptError{Message: jsErr.Message, Stack: jsErr.StackTrace}
	}
	return &ScriptError{Message: err.Error()}
}
