package jobs

// SupersessionPredicate decides whether an older open pull request became
// redundant once a new one exists. Both lists belong to the same repository
// and package manager; the caller guarantees that.
type SupersessionPredicate func(older, newer []Dependency) bool

// DefaultSupersession judges an older pull request superseded when every
// dependency it touches is also covered by the new one. A grouped PR that
// swallows a single-dependency PR is the common case.
func DefaultSupersession(older, newer []Dependency) bool {
	if len(older) == 0 {
		return false
	}
	covered := map[string]bool{}
	for _, dep := range newer {
		covered[dep.Name] = true
	}
	for _, dep := range older {
		if !covered[dep.Name] {
			return false
		}
	}
	return true
}
