package capture

// LogManager receives each finished snapshot. Rendering, encoding and
// delivery all happen behind this call.
type LogManager interface {
	Log(s *Snapshot)
}

// LogManagerFunc adapts a plain func to LogManager.
type LogManagerFunc func(s *Snapshot)

func (f LogManagerFunc) Log(s *Snapshot) { f(s) }
