// Package runconfig stores a run's hyperparameters and metadata.
package runconfig

import (
	"fmt"

	"github.com/vistream/vistream/internal/pathtree"
	"github.com/wandb/simplejsonext"
	"gopkg.in/yaml.v3"
)

type Format int

const (
	FormatYaml Format = iota
	FormatJson
)

// RunConfig is the configuration of a run, usually hyperparameters
// plus some run metadata like the framework used.
//
// It is built up incrementally throughout the run's lifetime.
type RunConfig struct {
	tree *pathtree.PathTree
}

func New() *RunConfig {
	return &RunConfig{tree: pathtree.New()}
}

func NewFrom(data pathtree.TreeData) *RunConfig {
	return &RunConfig{tree: pathtree.NewFrom(data)}
}

// MergeTree sets all leaves of the given nested map, overwriting
// existing values.
func (rc *RunConfig) MergeTree(data pathtree.TreeData) {
	for _, item := range pathtree.NewFrom(data).Flatten() {
		rc.tree.Set(item.Path, item.Value)
	}
}

// Set updates a single configuration value.
func (rc *RunConfig) Set(path pathtree.TreePath, value any) {
	rc.tree.Set(path, value)
}

// CloneTree returns a nested-map representation of the config.
func (rc *RunConfig) CloneTree() pathtree.TreeData {
	return rc.tree.CloneTree()
}

// Serialize encodes the config in the run-file layout, where each
// top-level key is wrapped in a {"value": ...} object.
func (rc *RunConfig) Serialize(format Format) ([]byte, error) {
	value := make(map[string]any)
	for key, subtree := range rc.tree.CloneTree() {
		value[key] = map[string]any{"value": subtree}
	}

	switch format {
	case FormatYaml:
		return yaml.Marshal(value)
	case FormatJson:
		return simplejsonext.Marshal(value)
	default:
		return nil, fmt.Errorf("runconfig: unsupported format: %v", format)
	}
}

// Deserialize parses a config file in the run-file layout, undoing
// the {"value": ...} wrapping.
func Deserialize(data []byte, format Format) (pathtree.TreeData, error) {
	var wrapped map[string]any

	switch format {
	case FormatYaml:
		if err := yaml.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("runconfig: failed to parse: %v", err)
		}
	case FormatJson:
		parsed, err := simplejsonext.UnmarshalObject(data)
		if err != nil {
			return nil, fmt.Errorf("runconfig: failed to parse: %v", err)
		}
		wrapped = parsed
	default:
		return nil, fmt.Errorf("runconfig: unsupported format: %v", format)
	}

	tree := make(pathtree.TreeData, len(wrapped))
	for key, value := range wrapped {
		if obj, ok := value.(map[string]any); ok {
			if inner, ok := obj["value"]; ok && len(obj) == 1 {
				tree[key] = inner
				continue
			}
		}
		tree[key] = value
	}
	return tree, nil
}
