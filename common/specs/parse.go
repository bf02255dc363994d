package specs

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

/**
Parsing of the tagged YAML specification format. Three node tags (!Job,
!JobGroup, !JobArray) select the spec variant; resource tags (!Cores,
!Memory, !License) may appear in sequence or mapping form.
*/

func ParseFile(path string) (Spec, error) {
	content, readErr := os.ReadFile(path)
	if readErr != nil {
		return nil, readErr
	}
	return ParseString(string(content))
}

func ParseString(content string) (Spec, error) {
	var document yaml.Node
	unmarshalErr := yaml.Unmarshal([]byte(content), &document)
	if unmarshalErr != nil {
		return nil, &SpecError{Field: "yaml", Message: unmarshalErr.Error()}
	}
	if document.Kind != yaml.DocumentNode || len(document.Content) == 0 {
		return nil, &SpecError{Field: "yaml", Message: "empty specification document"}
	}
	return parseSpecNode(document.Content[0])
}

func parseSpecNode(node *yaml.Node) (Spec, error) {
	switch node.Tag {
	case "!Job":
		return parseJob(node)
	case "!JobGroup":
		return parseGroup(node)
	case "!JobArray":
		return parseArray(node)
	default:
		return nil, &SpecError{Field: "yaml",
			Message: fmt.Sprintf("unknown specification tag '%s'", node.Tag)}
	}
}

func parseJob(node *yaml.Node) (*Job, error) {
	if node.Kind != yaml.MappingNode {
		return nil, &SpecError{Field: "yaml", Message: "!Job requires mapping form"}
	}
	job := &Job{Env: make(map[string]string)}
	parseErr := eachMappingEntry(node, func(key string, value *yaml.Node) error {
		switch key {
		case "ident":
			job.Ident = value.Value
		case "command":
			job.Command = value.Value
		case "args":
			args, err := scalarList(value)
			if err != nil {
				return err
			}
			job.Args = args
		case "cwd":
			job.Cwd = value.Value
		case "env":
			env, err := scalarMap(value)
			if err != nil {
				return err
			}
			job.Env = env
		case "resources":
			resources, err := parseResources(value)
			if err != nil {
				return err
			}
			job.Resources = resources
		case "on_done":
			deps, err := scalarList(value)
			if err != nil {
				return err
			}
			job.OnDone = deps
		case "on_pass":
			deps, err := scalarList(value)
			if err != nil {
				return err
			}
			job.OnPass = deps
		case "on_fail":
			deps, err := scalarList(value)
			if err != nil {
				return err
			}
			job.OnFail = deps
		default:
			return &SpecError{Node: job.Ident, Field: key, Message: "unknown field for !Job"}
		}
		return nil
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return job, nil
}

func parseGroup(node *yaml.Node) (*JobGroup, error) {
	if node.Kind != yaml.MappingNode {
		return nil, &SpecError{Field: "yaml", Message: "!JobGroup requires mapping form"}
	}
	group := &JobGroup{Env: make(map[string]string)}
	parseErr := eachMappingEntry(node, func(key string, value *yaml.Node) error {
		switch key {
		case "ident":
			group.Ident = value.Value
		case "cwd":
			group.Cwd = value.Value
		case "env":
			env, err := scalarMap(value)
			if err != nil {
				return err
			}
			group.Env = env
		case "jobs":
			jobs, err := parseJobList(value)
			if err != nil {
				return err
			}
			group.Jobs = jobs
		case "on_done":
			deps, err := scalarList(value)
			if err != nil {
				return err
			}
			group.OnDone = deps
		case "on_pass":
			deps, err := scalarList(value)
			if err != nil {
				return err
			}
			group.OnPass = deps
		case "on_fail":
			deps, err := scalarList(value)
			if err != nil {
				return err
			}
			group.OnFail = deps
		default:
			return &SpecError{Node: group.Ident, Field: key, Message: "unknown field for !JobGroup"}
		}
		return nil
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return group, nil
}

func parseArray(node *yaml.Node) (*JobArray, error) {
	if node.Kind != yaml.MappingNode {
		return nil, &SpecError{Field: "yaml", Message: "!JobArray requires mapping form"}
	}
	array := &JobArray{Repeats: 1, Env: make(map[string]string)}
	parseErr := eachMappingEntry(node, func(key string, value *yaml.Node) error {
		switch key {
		case "ident":
			array.Ident = value.Value
		case "repeats":
			repeats, err := strconv.Atoi(value.Value)
			if err != nil {
				return &SpecError{Node: array.Ident, Field: "repeats", Message: "repeats must be an integer"}
			}
			array.Repeats = repeats
		case "cwd":
			array.Cwd = value.Value
		case "env":
			env, err := scalarMap(value)
			if err != nil {
				return err
			}
			array.Env = env
		case "jobs":
			jobs, err := parseJobList(value)
			if err != nil {
				return err
			}
			array.Jobs = jobs
		case "on_done":
			deps, err := scalarList(value)
			if err != nil {
				return err
			}
			array.OnDone = deps
		case "on_pass":
			deps, err := scalarList(value)
			if err != nil {
				return err
			}
			array.OnPass = deps
		case "on_fail":
			deps, err := scalarList(value)
			if err != nil {
				return err
			}
			array.OnFail = deps
		default:
			return &SpecError{Node: array.Ident, Field: key, Message: "unknown field for !JobArray"}
		}
		return nil
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return array, nil
}

func parseJobList(node *yaml.Node) ([]Spec, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, &SpecError{Field: "jobs", Message: "jobs must be a sequence"}
	}
	jobs := make([]Spec, 0, len(node.Content))
	for _, item := range node.Content {
		job, parseErr := parseSpecNode(item)
		if parseErr != nil {
			return nil, parseErr
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func parseResources(node *yaml.Node) ([]Resource, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, &SpecError{Field: "resources", Message: "resources must be a sequence"}
	}
	resources := make([]Resource, 0, len(node.Content))
	for _, item := range node.Content {
		resource, parseErr := parseResource(item)
		if parseErr != nil {
			return nil, parseErr
		}
		resources = append(resources, resource)
	}
	return resources, nil
}

func parseResource(node *yaml.Node) (Resource, error) {
	switch node.Tag {
	case "!Cores":
		cores := &Cores{}
		switch node.Kind {
		case yaml.SequenceNode:
			if len(node.Content) != 1 {
				return nil, &SpecError{Field: "resources", Message: "!Cores sequence form takes one value"}
			}
			count, err := strconv.Atoi(node.Content[0].Value)
			if err != nil {
				return nil, &SpecError{Field: "resources", Message: "core count must be an integer"}
			}
			cores.Count = count
		case yaml.MappingNode:
			parseErr := eachMappingEntry(node, func(key string, value *yaml.Node) error {
				if key != "count" {
					return &SpecError{Field: "resources", Message: "unknown field for !Cores"}
				}
				count, err := strconv.Atoi(value.Value)
				if err != nil {
					return &SpecError{Field: "resources", Message: "core count must be an integer"}
				}
				cores.Count = count
				return nil
			})
			if parseErr != nil {
				return nil, parseErr
			}
		default:
			return nil, &SpecError{Field: "resources", Message: "!Cores requires sequence or mapping form"}
		}
		return cores, nil

	case "!Memory":
		memory := &Memory{Unit: "MB"}
		switch node.Kind {
		case yaml.SequenceNode:
			if len(node.Content) < 1 || len(node.Content) > 2 {
				return nil, &SpecError{Field: "resources", Message: "!Memory sequence form takes size and unit"}
			}
			size, err := strconv.ParseInt(node.Content[0].Value, 10, 64)
			if err != nil {
				return nil, &SpecError{Field: "resources", Message: "memory size must be an integer"}
			}
			memory.Size = size
			if len(node.Content) == 2 {
				memory.Unit = node.Content[1].Value
			}
		case yaml.MappingNode:
			parseErr := eachMappingEntry(node, func(key string, value *yaml.Node) error {
				switch key {
				case "size":
					size, err := strconv.ParseInt(value.Value, 10, 64)
					if err != nil {
						return &SpecError{Field: "resources", Message: "memory size must be an integer"}
					}
					memory.Size = size
				case "unit":
					memory.Unit = value.Value
				default:
					return &SpecError{Field: "resources", Message: "unknown field for !Memory"}
				}
				return nil
			})
			if parseErr != nil {
				return nil, parseErr
			}
		default:
			return nil, &SpecError{Field: "resources", Message: "!Memory requires sequence or mapping form"}
		}
		return memory, nil

	case "!License":
		license := &License{Count: 1}
		switch node.Kind {
		case yaml.SequenceNode:
			if len(node.Content) < 1 || len(node.Content) > 2 {
				return nil, &SpecError{Field: "resources", Message: "!License sequence form takes name and count"}
			}
			license.LicenseName = node.Content[0].Value
			if len(node.Content) == 2 {
				count, err := strconv.Atoi(node.Content[1].Value)
				if err != nil {
					return nil, &SpecError{Field: "resources", Message: "license count must be an integer"}
				}
				license.Count = count
			}
		case yaml.MappingNode:
			parseErr := eachMappingEntry(node, func(key string, value *yaml.Node) error {
				switch key {
				case "name":
					license.LicenseName = value.Value
				case "count":
					count, err := strconv.Atoi(value.Value)
					if err != nil {
						return &SpecError{Field: "resources", Message: "license count must be an integer"}
					}
					license.Count = count
				default:
					return &SpecError{Field: "resources", Message: "unknown field for !License"}
				}
				return nil
			})
			if parseErr != nil {
				return nil, parseErr
			}
		default:
			return nil, &SpecError{Field: "resources", Message: "!License requires sequence or mapping form"}
		}
		return license, nil

	default:
		return nil, &SpecError{Field: "resources",
			Message: fmt.Sprintf("unknown resource tag '%s'", node.Tag)}
	}
}

func eachMappingEntry(node *yaml.Node, visit func(key string, value *yaml.Node) error) error {
	for i := 0; i+1 < len(node.Content); i += 2 {
		visitErr := visit(node.Content[i].Value, node.Content[i+1])
		if visitErr != nil {
			return visitErr
		}
	}
	return nil
}

/**
decode a sequence of scalars, tolerating integers by taking their literal
rendering
*/
func scalarList(node *yaml.Node) ([]string, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, errors.New("expected a sequence of scalar values")
	}
	values := make([]string, 0, len(node.Content))
	for _, item := range node.Content {
		if item.Kind != yaml.ScalarNode {
			return nil, errors.New("expected a sequence of scalar values")
		}
		values = append(values, item.Value)
	}
	return values, nil
}

func scalarMap(node *yaml.Node) (map[string]string, error) {
	if node.Kind != yaml.MappingNode {
		return nil, errors.New("expected a mapping of scalar values")
	}
	values := make(map[string]string)
	mapErr := eachMappingEntry(node, func(key string, value *yaml.Node) error {
		if value.Kind != yaml.ScalarNode {
			return errors.New("expected a mapping of scalar values")
		}
		values[key] = value.Value
		return nil
	})
	if mapErr != nil {
		return nil, mapErr
	}
	return values, nil
}
