// Package harness is a test harness for embedding a script VM behind a
// Chromium-style task runner model.
//
// The harness simulates what an embedder provides to an engine shell: a set of
// role task runners (platform, UI, raster, IO), a rendering surface with
// context switching, a simulated vsync source, a platform view tying them
// together, and isolates whose entrypoints report back through native
// callbacks.
//
// # Quick Start
//
// Build a fixture from a configuration and run an entrypoint:
//
//	fixture := harness.NewFixture(config.Default())
//	defer fixture.Close(context.Background())
//
//	running, err := fixture.RunInIsolate(ctx, "mainForPluginRegistrantTest", nil)
//	if err != nil {
//		return err
//	}
//	fmt.Println(fixture.Bridge().Messages())
//
// # Key Concepts
//
// TaskRunners: the four role runners. Roles may alias the same thread; which
// roles get dedicated threads is chosen by a ThreadMask.
//
// Isolate: a script context with its own heap, a lifecycle Phase and a task
// runner it executes on. The root isolate runs on the UI role; background
// isolates spawned from script run on the VM pool.
//
// Bridge: a named native callback that records messages in arrival order and
// signals waiters. Tests wait on the bridge instead of sleeping.
//
// PlatformView: the surface, vsync waiter and pointer dispatch strategy a
// shell asks for. GL and mock variants share one interface.
//
// # Build tags
//
// The default script engine is QuickJS, implemented in pure Go. Building with
// -tags v8 switches to V8. Building with -tags harnessdebug turns misuse of
// the rendering context into panics.
package harness
