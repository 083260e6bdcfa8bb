package isolate

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Swind/embedder-harness/core"
)

var (
	vmMu       sync.Mutex
	vmInstance *VM
	vmRefs     int
)

// VM is the process-wide script VM. It owns the pool background isolates
// run on. There is at most one; it is created by CreateVM and destroyed when
// the last reference is released.
type VM struct {
	id       string
	settings Settings
	pool     *core.GoroutineThreadPool
	logger   core.Logger
}

// VMRef keeps the VM alive.
type VMRef struct {
	vm       *VM
	once     sync.Once
	released atomic.Bool
}

// CreateVM returns a reference to the running VM, starting it with settings
// if none is running. Settings of later calls are ignored while a VM runs.
func CreateVM(settings Settings) (*VMRef, error) {
	vmMu.Lock()
	defer vmMu.Unlock()

	if vmInstance == nil {
		s := settings.withDefaults()
		pool := core.NewGoroutineThreadPoolWithConfig("isolate-pool", s.BackgroundWorkers,
			&core.RunnerConfig{Logger: s.Logger})
		pool.Start(context.Background())
		vmInstance = &VM{
			id:       uuid.NewString(),
			settings: s,
			pool:     pool,
			logger:   s.Logger,
		}
		vmInstance.logger.Info("vm created",
			core.F("vm", vmInstance.id), core.F("engine", s.Engine.Name()))
	}
	vmRefs++
	return &VMRef{vm: vmInstance}, nil
}

// IsInstanceRunning reports whether a VM exists.
func IsInstanceRunning() bool {
	vmMu.Lock()
	defer vmMu.Unlock()
	return vmInstance != nil
}

// VM returns the referenced VM, or nil after Release.
func (r *VMRef) VM() *VM {
	if r == nil || r.released.Load() {
		return nil
	}
	vmMu.Lock()
	defer vmMu.Unlock()
	if vmInstance != r.vm {
		return nil
	}
	return r.vm
}

// Release drops the reference. The last release stops the VM.
// Repeated calls are no-ops.
func (r *VMRef) Release() {
	r.once.Do(func() {
		r.released.Store(true)
		vmMu.Lock()
		defer vmMu.Unlock()
		if vmInstance != r.vm {
			return
		}
		vmRefs--
		if vmRefs > 0 {
			return
		}
		r.vm.pool.Stop()
		r.vm.logger.Info("vm destroyed", core.F("vm", r.vm.id))
		vmInstance = nil
	})
}

// ID identifies this VM instance.
func (v *VM) ID() string { return v.id }

// Settings returns the settings the VM was created with.
func (v *VM) Settings() Settings { return v.settings }

// Pool returns the pool background isolates run on.
func (v *VM) Pool() core.ThreadPool { return v.pool }

// Stats snapshots the background pool.
func (v *VM) Stats() core.PoolStats { return v.pool.Stats() }
