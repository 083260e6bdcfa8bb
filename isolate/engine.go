package isolate

import (
	"encoding/json"
	"fmt"
)

// Engine creates script contexts. One context backs one isolate.
type Engine interface {
	Name() string
	NewContext(opts ContextOptions) (ScriptContext, error)
}

// ContextOptions configures a new script context.
type ContextOptions struct {
	// MemoryLimitMB caps the heap. Zero means no limit.
	MemoryLimitMB int
}

// ScriptContext is a single script heap. It is not safe for concurrent use;
// an isolate only touches it from its own task runner.
type ScriptContext interface {
	// Eval runs source at global scope. name is used in stack traces.
	Eval(source, name string) error

	// RegisterNative installs fn as a global function.
	RegisterNative(name string, fn NativeFunction) error

	// HasFunction reports whether the dotted global path names a function.
	HasFunction(path string) (bool, error)

	// Invoke calls the function at the dotted global path and drains
	// microtasks. A thrown exception or rejected promise is a *ScriptError.
	Invoke(path string, args []string) error

	// RunMicrotasks drains pending promise jobs, returning how many ran.
	RunMicrotasks() int

	Close()
}

// backend is the engine specific part of a script context.
type backend interface {
	eval(source, name string) error
	evalString(js string) (string, error)
	// registerRaw installs fn under name. fn takes a JSON array of string
	// arguments and returns an error message, empty on success.
	registerRaw(name string, fn func(payload string) string) error
	runMicrotasks() int
	close()
}

const preludeJS = `(function(g) {
	g.__harness_describe = function(e) {
		if (e instanceof Error) {
			return { message: e.name + ": " + e.message, stack: String(e.stack || "") };
		}
		return { message: "Uncaught " + String(e), stack: "" };
	};
	g.__harness_rejection = null;
	g.__harness_lookup = function(path) {
		var parts = path.split(".");
		var self = g, fn = g;
		for (var i = 0; i < parts.length; i++) {
			if (fn === null || fn === undefined) return null;
			self = fn;
			fn = fn[parts[i]];
		}
		return typeof fn === "function" ? { self: self, fn: fn } : null;
	};
	g.__harness_has = function(path) {
		return g.__harness_lookup(path) !== null ? "1" : "0";
	};
	g.__harness_invoke = function(path, argsJSON) {
		try {
			var target = g.__harness_lookup(path);
			if (target === null) throw new ReferenceError(path + " is not defined");
			var r = target.fn.apply(target.self, JSON.parse(argsJSON));
			if (r && typeof r.then === "function") {
				r.then(null, function(e) {
					if (g.__harness_rejection === null) g.__harness_rejection = g.__harness_describe(e);
				});
			}
			return "";
		} catch (e) {
			return JSON.stringify(g.__harness_describe(e));
		}
	};
	g.__harness_take_rejection = function() {
		var r = g.__harness_rejection;
		g.__harness_rejection = null;
		return r === null ? "" : JSON.stringify(r);
	};
})(globalThis);`

const nativeWrapperJS = `(function(g) {
	var raw = g[%[1]s];
	delete g[%[1]s];
	g[%[2]s] = function() {
		var a = [];
		for (var i = 0; i < arguments.length; i++) a.push(String(arguments[i]));
		var err = raw(JSON.stringify(a));
		if (err) throw new Error(err);
	};
})(globalThis);`

// jsContext implements ScriptContext over any backend.
type jsContext struct {
	b      backend
	closed bool
}

func newJSContext(b backend) (*jsContext, error) {
	if err := b.eval(preludeJS, "harness_prelude.js"); err != nil {
		b.close()
		return nil, fmt.Errorf("install prelude: %w", err)
	}
	return &jsContext{b: b}, nil
}

func (c *jsContext) Eval(source, name string) error {
	if c.closed {
		return ErrIsolateShutdown
	}
	return c.b.eval(source, name)
}

func (c *jsContext) RegisterNative(name string, fn NativeFunction) error {
	if c.closed {
		return ErrIsolateShutdown
	}
	rawName := "__native_raw_" + name
	err := c.b.registerRaw(rawName, func(payload string) string {
		var args []string
		if err := json.Unmarshal([]byte(payload), &args); err != nil {
			return fmt.Sprintf("%s: bad arguments: %v", name, err)
		}
		if err := fn(args); err != nil {
			return err.Error()
		}
		return ""
	})
	if err != nil {
		return fmt.Errorf("register native %s: %w", name, err)
	}
	return c.b.eval(fmt.Sprintf(nativeWrapperJS, jsString(rawName), jsString(name)), "harness_native.js")
}

func (c *jsContext) HasFunction(path string) (bool, error) {
	if c.closed {
		return false, ErrIsolateShutdown
	}
	out, err := c.b.evalString(fmt.Sprintf("__harness_has(%s)", jsString(path)))
	if err != nil {
		return false, err
	}
	return out == "1", nil
}

func (c *jsContext) Invoke(path string, args []string) error {
	if c.closed {
		return ErrIsolateShutdown
	}
	if args == nil {
		args = []string{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return err
	}
	out, err := c.b.evalString(fmt.Sprintf("__harness_invoke(%s, %s)", jsString(path), jsString(string(argsJSON))))
	if err != nil {
		return err
	}
	if out != "" {
		return decodeScriptError(out)
	}
	c.b.runMicrotasks()
	out, err = c.b.evalString("__harness_take_rejection()")
	if err != nil {
		return err
	}
	if out != "" {
		return decodeScriptError(out)
	}
	return nil
}

func (c *jsContext) RunMicrotasks() int {
	if c.closed {
		return 0
	}
	return c.b.runMicrotasks()
}

func (c *jsContext) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.b.close()
}

func decodeScriptError(payload string) error {
	se := &ScriptError{}
	if err := json.Unmarshal([]byte(payload), se); err != nil {
		return &ScriptError{Message: payload}
	}
	return se
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
