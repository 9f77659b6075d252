package controller

import (
	"fmt"
	"strings"
)

// DependencyCycleError reports that the depends_on relation contains a
// cycle. No worker is started.
type DependencyCycleError struct {
	// Remaining are the workers that could not be ordered, in
	// configuration order.
	Remaining []string
}

func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("dependency cycle among workers: %s", strings.Join(e.Remaining, ", "))
}

// UnknownDependencyError reports a depends_on entry that names no configured
// worker. No worker is started.
type UnknownDependencyError struct {
	Worker     string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("worker %q depends on unknown worker %q", e.Worker, e.Dependency)
}
