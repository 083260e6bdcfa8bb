package core

// RunnerStats represents runtime observability state for a task runner.
type RunnerStats struct {
	Name     string
	Type     string
	Pending  int
	Running  int
	Executed int64
	Rejected int64
	Closed   bool
}

// PoolStats represents runtime observability state for a thread pool.
type PoolStats struct {
	ID      string
	Workers int
	Queued  int
	Active  int
	Delayed int
	Running bool
}

// StatsProvider is implemented by runners that expose a snapshot of their state.
type StatsProvider interface {
	Stats() RunnerStats
}
