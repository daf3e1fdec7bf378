package types

// BuildState is the lifecycle of the shared runtime build.
type BuildState int

const (
	BuildStateUnbuilt BuildState = iota
	BuildStateBuilding
	BuildStateSucceeded
	BuildStateFailed
)

func (s BuildState) String() string {
	switch s {
	case BuildStateUnbuilt:
		return "unbuilt"
	case BuildStateBuilding:
		return "building"
	case BuildStateSucceeded:
		return "built"
	case BuildStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Final reports whether the build has finished, successfully or not.
func (s BuildState) Final() bool {
	return s == BuildStateSucceeded || s == BuildStateFailed
}
