// Package runhistory accumulates one step's worth of logged metrics.
package runhistory

import (
	"strings"
	"time"

	"github.com/vistream/vistream/internal/pathtree"
)

// Reserved history keys written alongside user metrics.
const (
	StepKey      = "_step"
	TimestampKey = "_timestamp"
)

// RunHistory is the metric row for a single step of a run.
//
// Keys containing "/" address nested values, so "eval/loss" ends up
// under an "eval" object in the serialized row.
type RunHistory struct {
	tree *pathtree.PathTree
	step int64
}

func New(step int64) *RunHistory {
	rh := &RunHistory{
		tree: pathtree.New(),
		step: step,
	}
	rh.tree.Set(pathtree.TreePath{StepKey}, step)
	rh.tree.Set(
		pathtree.TreePath{TimestampKey},
		float64(time.Now().UnixMicro())/1e6,
	)
	return rh
}

// NewFrom rebuilds a history row from its serialized tree, keeping
// the recorded step and timestamp.
func NewFrom(data pathtree.TreeData) *RunHistory {
	rh := &RunHistory{tree: pathtree.NewFrom(data)}
	if step, ok := toFloat(data[StepKey]); ok {
		rh.step = int64(step)
	}
	return rh
}

// Step returns the step this row belongs to.
func (rh *RunHistory) Step() int64 {
	return rh.step
}

// IsEmpty returns whether no metrics were logged to this row.
//
// The reserved step and timestamp keys don't count.
func (rh *RunHistory) IsEmpty() bool {
	for _, item := range rh.tree.Flatten() {
		switch item.Path[0] {
		case StepKey, TimestampKey:
		default:
			return false
		}
	}
	return true
}

// SetScalar records a scalar metric value.
func (rh *RunHistory) SetScalar(key string, value float64) {
	rh.tree.Set(splitKey(key), value)
}

// SetValue records an arbitrary JSON-encodable value, such as image
// metadata.
func (rh *RunHistory) SetValue(key string, value any) {
	rh.tree.Set(splitKey(key), value)
}

// Scalars returns the scalar metrics in the row, keyed by their
// slash-joined paths.
func (rh *RunHistory) Scalars() map[string]float64 {
	scalars := make(map[string]float64)
	for _, item := range rh.tree.Flatten() {
		switch item.Path[0] {
		case StepKey, TimestampKey:
			continue
		}
		if value, ok := toFloat(item.Value); ok {
			scalars[strings.Join(item.Path, "/")] = value
		}
	}
	return scalars
}

// CloneTree returns a nested-map representation of the row.
func (rh *RunHistory) CloneTree() pathtree.TreeData {
	return rh.tree.CloneTree()
}

// ToExtendedJSON serializes the row as JSON extended with NaN and
// +-Infinity support.
func (rh *RunHistory) ToExtendedJSON() ([]byte, error) {
	return rh.tree.ToExtendedJSON()
}

// PrefixKey joins a metric prefix and a key with a forward slash.
//
// An empty prefix returns the key unchanged. This disambiguates
// homonymous metrics produced by different evaluators.
func PrefixKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

func splitKey(key string) pathtree.TreePath {
	return strings.Split(key, "/")
}

func toFloat(value any) (float64, bool) {
	switch value := value.(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int64:
		return float64(value), true
	case int:
		return float64(value), true
	default:
		return 0, false
	}
}
