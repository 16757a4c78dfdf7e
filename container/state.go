package container

// ResourceState tracks a resource instance through its lifecycle within
// one cache slot (a Scope entry, or the Container for process scope).
type ResourceState int32

const (
	Unacquired ResourceState = iota
	Acquiring
	Acquired
	Releasing
	Released
	// Failed means the last acquire attempt errored. Nothing is cached;
	// the next resolution starts a fresh acquire.
	Failed
)

func (s ResourceState) String() string {
	switch s {
	case Unacquired:
		return "UNACQUIRED"
	case Acquiring:
		return "ACQUIRING"
	case Acquired:
		return "ACQUIRED"
	case Releasing:
		return "RELEASING"
	case Released:
		return "RELEASED"
	case Failed:
		return "FAILED"
	}
	return "INVALID"
}
