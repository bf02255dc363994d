package specs

import (
	"fmt"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

/**
Serialization of a spec tree back into tagged YAML, used when a tier hands a
child its spec over the wire. Absent fields are omitted; a dumped spec parses
back to an equal structure.
*/
func Dump(spec Spec) (string, error) {
	node, nodeErr := specNode(spec)
	if nodeErr != nil {
		return "", nodeErr
	}
	content, marshalErr := yaml.Marshal(node)
	if marshalErr != nil {
		return "", marshalErr
	}
	return string(content), nil
}

func specNode(spec Spec) (*yaml.Node, error) {
	switch s := spec.(type) {
	case *Job:
		node := newMapping("!Job")
		appendScalar(node, "ident", s.Ident)
		appendScalar(node, "command", s.Command)
		appendScalarList(node, "args", s.Args)
		appendScalar(node, "cwd", s.Cwd)
		appendScalarMap(node, "env", s.Env)
		if len(s.Resources) > 0 {
			resources := &yaml.Node{Kind: yaml.SequenceNode}
			for _, resource := range s.Resources {
				resources.Content = append(resources.Content, resourceNode(resource))
			}
			appendKey(node, "resources", resources)
		}
		appendScalarList(node, "on_done", s.OnDone)
		appendScalarList(node, "on_pass", s.OnPass)
		appendScalarList(node, "on_fail", s.OnFail)
		return node, nil

	case *JobGroup:
		node := newMapping("!JobGroup")
		appendScalar(node, "ident", s.Ident)
		appendScalar(node, "cwd", s.Cwd)
		appendScalarMap(node, "env", s.Env)
		jobsErr := appendJobs(node, s.Jobs)
		if jobsErr != nil {
			return nil, jobsErr
		}
		appendScalarList(node, "on_done", s.OnDone)
		appendScalarList(node, "on_pass", s.OnPass)
		appendScalarList(node, "on_fail", s.OnFail)
		return node, nil

	case *JobArray:
		node := newMapping("!JobArray")
		appendScalar(node, "ident", s.Ident)
		appendKey(node, "repeats", scalar(strconv.Itoa(s.Repeats)))
		appendScalar(node, "cwd", s.Cwd)
		appendScalarMap(node, "env", s.Env)
		jobsErr := appendJobs(node, s.Jobs)
		if jobsErr != nil {
			return nil, jobsErr
		}
		appendScalarList(node, "on_done", s.OnDone)
		appendScalarList(node, "on_pass", s.OnPass)
		appendScalarList(node, "on_fail", s.OnFail)
		return node, nil

	default:
		return nil, fmt.Errorf("cannot serialize spec of type %T", spec)
	}
}

func resourceNode(resource Resource) *yaml.Node {
	switch r := resource.(type) {
	case *Cores:
		node := newMapping("!Cores")
		appendKey(node, "count", scalar(strconv.Itoa(r.Count)))
		return node
	case *Memory:
		node := newMapping("!Memory")
		appendKey(node, "size", scalar(strconv.FormatInt(r.Size, 10)))
		appendScalar(node, "unit", r.Unit)
		return node
	case *License:
		node := newMapping("!License")
		appendScalar(node, "name", r.LicenseName)
		appendKey(node, "count", scalar(strconv.Itoa(r.Count)))
		return node
	default:
		return scalar("")
	}
}

func newMapping(tag string) *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: tag}
}

func scalar(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: value}
}

func appendKey(node *yaml.Node, key string, value *yaml.Node) {
	node.Content = append(node.Content, scalar(key), value)
}

func appendScalar(node *yaml.Node, key string, value string) {
	if value == "" {
		return
	}
	appendKey(node, key, scalar(value))
}

func appendScalarList(node *yaml.Node, key string, values []string) {
	if len(values) == 0 {
		return
	}
	seq := &yaml.Node{Kind: yaml.SequenceNode}
	for _, value := range values {
		seq.Content = append(seq.Content, scalar(value))
	}
	appendKey(node, key, seq)
}

func appendScalarMap(node *yaml.Node, key string, values map[string]string) {
	if len(values) == 0 {
		return
	}
	keys := make([]string, 0, len(values))
	for name := range values {
		keys = append(keys, name)
	}
	sort.Strings(keys)
	mapping := &yaml.Node{Kind: yaml.MappingNode}
	for _, name := range keys {
		appendKey(mapping, name, scalar(values[name]))
	}
	appendKey(node, key, mapping)
}

func appendJobs(node *yaml.Node, jobs []Spec) error {
	if len(jobs) == 0 {
		return nil
	}
	seq := &yaml.Node{Kind: yaml.SequenceNode}
	for _, job := range jobs {
		child, childErr := specNode(job)
		if childErr != nil {
			return childErr
		}
		seq.Content = append(seq.Content, child)
	}
	appendKey(node, "jobs", seq)
	return nil
}
