package specs

import (
	"fmt"
	"strings"
)

/**
Resource requests attached to a job: !Cores, !Memory and !License. The
scheduler consumes the normalized form rather than the individual variants.
*/
type Resource interface {
	Check() error
}

type Cores struct {
	Count int
}

func (c *Cores) Check() error {
	// Zero is valid, a near-idle job may be scheduled without blocking others
	if c.Count < 0 {
		return &SpecError{Field: "count", Message: "core count must be zero or greater"}
	}
	return nil
}

type Memory struct {
	Size int64
	Unit string
}

var memoryUnitBytes = map[string]int64{
	"KB": 1_000,
	"MB": 1_000_000,
	"GB": 1_000_000_000,
	"TB": 1_000_000_000_000,
}

func (m *Memory) Check() error {
	if m.Size < 0 {
		return &SpecError{Field: "size", Message: "memory size must be zero or greater"}
	}
	_, known := memoryUnitBytes[strings.ToUpper(strings.TrimSpace(m.Unit))]
	if !known {
		return &SpecError{Field: "unit", Message: fmt.Sprintf("unknown unit '%s'", m.Unit)}
	}
	return nil
}

func (m *Memory) InBytes() int64 {
	return m.Size * memoryUnitBytes[strings.ToUpper(strings.TrimSpace(m.Unit))]
}

type License struct {
	LicenseName string
	Count       int
}

func (l *License) Check() error {
	if l.LicenseName == "" {
		return &SpecError{Field: "name", Message: "license name must be provided"}
	}
	if l.Count < 0 {
		return &SpecError{Field: "count", Message: "license count must be zero or greater"}
	}
	return nil
}

/**
the normalized (cores, bytes, licenses) triple handed to schedulers
*/
type ResourceRequest struct {
	Cores       int
	MemoryBytes int64
	Licenses    map[string]int
}

func Normalize(resources []Resource) ResourceRequest {
	request := ResourceRequest{
		Licenses: make(map[string]int),
	}
	for _, resource := range resources {
		switch res := resource.(type) {
		case *Cores:
			request.Cores = res.Count
		case *Memory:
			request.MemoryBytes = res.InBytes()
		case *License:
			request.Licenses[res.LicenseName] += res.Count
		}
	}
	return request
}
