//go:build !v8

package isolate

import (
	"errors"
	"fmt"
	"reflect"
	"unsafe"

	"modernc.org/libc"
	lib "modernc.org/libquickjs"
	"modernc.org/quickjs"
)

// DefaultEngine returns the QuickJS engine. Build with -tags v8 for V8.
func DefaultEngine() Engine { return QuickJSEngine{} }

// QuickJSEngine runs script on modernc.org/quickjs.
type QuickJSEngine struct{}

func (QuickJSEngine) Name() string { return "quickjs" }

func (QuickJSEngine) NewContext(opts ContextOptions) (ScriptContext, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("quickjs: new vm: %w", err)
	}
	if opts.MemoryLimitMB > 0 {
		vm.SetMemoryLimit(uintptr(opts.MemoryLimitMB) << 20)
	}
	return newJSContext(&qjsBackend{vm: vm})
}

type qjsBackend struct {
	vm *quickjs.VM
}

func (b *qjsBackend) eval(source, name string) error {
	v, err := b.vm.EvalValue(source, quickjs.EvalGlobal)
	if err != nil {
		return qjsScriptError(err)
	}
	v.Free()
	return nil
}

func (b *qjsBackend) evalString(js string) (string, error) {
	r, err := b.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return "", qjsScriptError(err)
	}
	if r == nil {
		return "", nil
	}
	return fmt.Sprint(r), nil
}

func (b *qjsBackend) registerRaw(name string, fn func(payload string) string) error {
	return b.vm.RegisterFunc(name, fn, false)
}

// runMicrotasks calls JS_ExecutePendingJob directly; the Go wrapper never
// runs the job queue on its own.
func (b *qjsBackend) runMicrotasks() int {
	rt, tls, ok := qjsRuntime(b.vm)
	if !ok {
		return 0
	}
	n := 0
	for lib.XJS_ExecutePendingJob(tls, rt, 0) > 0 {
		n++
	}
	return n
}

func (b *qjsBackend) close() {
	b.vm.Close()
}

// qjsRuntime pulls the unexported runtime handle and TLS out of a VM.
// Layout as of modernc.org/quickjs v0.17.1:
//
//	type VM struct { ...; runtime *runtime; ... }
//	type runtime struct { cRuntime uintptr; tls *libc.TLS }
func qjsRuntime(vm *quickjs.VM) (uintptr, *libc.TLS, bool) {
	rtField := reflect.ValueOf(vm).Elem().FieldByName("runtime")
	if !rtField.IsValid() || rtField.IsNil() {
		return 0, nil, false
	}
	rtVal := reflect.NewAt(rtField.Type().Elem(), unsafe.Pointer(rtField.Pointer())).Elem()

	cRuntime := rtVal.FieldByName("cRuntime")
	tlsField := rtVal.FieldByName("tls")
	if !cRuntime.IsValid() || !tlsField.IsValid() || tlsField.IsNil() {
		return 0, nil, false
	}
	return uintptr(cRuntime.Uint()), (*libc.TLS)(unsafe.Pointer(tlsField.Pointer())), true
}

// qjsScriptError turns an uncaught evaluation error into a *ScriptError.
func qjsScriptError(err error) error {
	var se *ScriptError
	if errors.As(err, &se) {
		return err
	}
	return &ScriptError{Message: err.Error()}
}
