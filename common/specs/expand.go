package specs

import (
	"fmt"
	"os"
	"strconv"
)

/**
A single interpreted child of a tier after array expansion: the synthetic
ident plus a self-contained spec with environment and working directory
already inherited from the enclosing group or array.
*/
type Expansion struct {
	Ident string
	Spec  Spec
}

/**
interpret a JobGroup or JobArray into the ordered child list a tier will
supervise. array repeats produce one expansion per index; when repeats is
greater than one the ident is suffixed by the zero-based index and
GATOR_ARRAY_INDEX is injected, while a single repeat keeps the plain ident
and no index. dependency lists are rewritten to name every expansion of the
original target.
*/
func ExpandChildren(spec Spec) ([]Expansion, error) {
	var children []Spec
	repeats := 1
	switch s := spec.(type) {
	case *JobGroup:
		children = s.Jobs
	case *JobArray:
		children = s.Jobs
		repeats = s.Repeats
	default:
		return nil, fmt.Errorf("cannot expand children of a %T", spec)
	}
	if repeats < 1 {
		return nil, &SpecError{Node: spec.Name(), Field: "repeats", Message: "repeats must be one or greater"}
	}

	// Map each original ident onto the idents it expands into, needed to
	// rewrite sibling dependency lists
	expandedIdents := make(map[string][]string)
	for _, child := range children {
		for index := 0; index < repeats; index++ {
			ident := child.Name()
			if repeats > 1 {
				ident = fmt.Sprintf("%s_%d", ident, index)
			}
			expandedIdents[child.Name()] = append(expandedIdents[child.Name()], ident)
		}
	}

	expansions := make([]Expansion, 0, len(children)*repeats)
	for _, child := range children {
		for index := 0; index < repeats; index++ {
			clone := cloneSpec(child)
			ident := child.Name()
			inheritInto(clone, spec)
			if repeats > 1 {
				ident = fmt.Sprintf("%s_%d", ident, index)
				setIdent(clone, ident)
				clone.Environment()[ENV_ARRAY_INDEX] = strconv.Itoa(index)
			}
			rewriteDependencies(clone, expandedIdents)
			expansions = append(expansions, Expansion{Ident: ident, Spec: clone})
		}
	}
	return expansions, nil
}

/**
overlay the parent's environment beneath the child's own and default the
child's working directory to the parent's
*/
func inheritInto(child Spec, parent Spec) {
	merged := make(map[string]string)
	for key, value := range parent.Environment() {
		merged[key] = value
	}
	for key, value := range child.Environment() {
		merged[key] = value
	}
	switch c := child.(type) {
	case *Job:
		c.Env = merged
		if c.Cwd == "" {
			c.Cwd = parent.WorkingDir()
		}
	case *JobGroup:
		c.Env = merged
		if c.Cwd == "" {
			c.Cwd = parent.WorkingDir()
		}
	case *JobArray:
		c.Env = merged
		if c.Cwd == "" {
			c.Cwd = parent.WorkingDir()
		}
	}
}

func setIdent(spec Spec, ident string) {
	switch s := spec.(type) {
	case *Job:
		s.Ident = ident
	case *JobGroup:
		s.Ident = ident
	case *JobArray:
		s.Ident = ident
	}
}

func rewriteDependencies(spec Spec, expanded map[string][]string) {
	rewrite := func(deps []string) []string {
		if len(deps) == 0 {
			return deps
		}
		rewritten := make([]string, 0, len(deps))
		for _, dep := range deps {
			targets, found := expanded[dep]
			if found {
				rewritten = append(rewritten, targets...)
			} else {
				rewritten = append(rewritten, dep)
			}
		}
		return rewritten
	}
	switch s := spec.(type) {
	case *Job:
		s.OnDone, s.OnPass, s.OnFail = rewrite(s.OnDone), rewrite(s.OnPass), rewrite(s.OnFail)
	case *JobGroup:
		s.OnDone, s.OnPass, s.OnFail = rewrite(s.OnDone), rewrite(s.OnPass), rewrite(s.OnFail)
	case *JobArray:
		s.OnDone, s.OnPass, s.OnFail = rewrite(s.OnDone), rewrite(s.OnPass), rewrite(s.OnFail)
	}
}

func cloneSpec(spec Spec) Spec {
	switch s := spec.(type) {
	case *Job:
		clone := *s
		clone.Args = append([]string{}, s.Args...)
		clone.Env = cloneMap(s.Env)
		clone.Resources = append([]Resource{}, s.Resources...)
		clone.OnDone = append([]string{}, s.OnDone...)
		clone.OnPass = append([]string{}, s.OnPass...)
		clone.OnFail = append([]string{}, s.OnFail...)
		return &clone
	case *JobGroup:
		clone := *s
		clone.Env = cloneMap(s.Env)
		clone.Jobs = cloneJobs(s.Jobs)
		clone.OnDone = append([]string{}, s.OnDone...)
		clone.OnPass = append([]string{}, s.OnPass...)
		clone.OnFail = append([]string{}, s.OnFail...)
		return &clone
	case *JobArray:
		clone := *s
		clone.Env = cloneMap(s.Env)
		clone.Jobs = cloneJobs(s.Jobs)
		clone.OnDone = append([]string{}, s.OnDone...)
		clone.OnPass = append([]string{}, s.OnPass...)
		clone.OnFail = append([]string{}, s.OnFail...)
		return &clone
	}
	return spec
}

func cloneMap(from map[string]string) map[string]string {
	cloned := make(map[string]string, len(from))
	for key, value := range from {
		cloned[key] = value
	}
	return cloned
}

func cloneJobs(from []Spec) []Spec {
	cloned := make([]Spec, 0, len(from))
	for _, job := range from {
		cloned = append(cloned, cloneSpec(job))
	}
	return cloned
}

/**
expand $NAME and ${NAME} references against the given environment, falling
back to the process environment. expansion happens at launch time so that
per-expansion variables such as GATOR_ARRAY_INDEX resolve correctly.
*/
func ExpandVars(value string, env map[string]string) string {
	return os.Expand(value, func(name string) string {
		if resolved, found := env[name]; found {
			return resolved
		}
		return os.Getenv(name)
	})
}
