package filesystem

// ResizablePool is implemented by clients that hold a resizable session pool
// (SFTP). The application matches the pool to the protocol's throttle limit so
// that every admitted operation finds a free session.
type ResizablePool interface {
	// ResizePool sets the target pool size, clamped to [PoolMinSize, PoolMaxSize].
	// Scale-up is eager, scale-down is lazy.
	ResizePool(targetSize int)

	// PoolSize returns the current actual number of sessions in the pool.
	PoolSize() int

	// PoolTargetSize returns the current target pool size.
	PoolTargetSize() int

	// PoolMinSize returns the minimum allowed pool size.
	PoolMinSize() int

	// PoolMaxSize returns the maximum allowed pool size.
	PoolMaxSize() int
}
