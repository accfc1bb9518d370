// Package runsummary tracks the latest value of each logged metric.
package runsummary

import (
	"github.com/vistream/vistream/internal/pathtree"
	"github.com/vistream/vistream/internal/runhistory"
)

// RunSummary is the run's summary: for each metric, the value from
// the most recent history row that contained it.
type RunSummary struct {
	tree *pathtree.PathTree
}

func New() *RunSummary {
	return &RunSummary{tree: pathtree.New()}
}

// IsEmpty returns whether nothing has been recorded.
func (rs *RunSummary) IsEmpty() bool {
	return rs.tree.IsEmpty()
}

// UpdateFromHistory folds a history row into the summary.
//
// Reserved keys (step, timestamp) are skipped.
func (rs *RunSummary) UpdateFromHistory(rh *runhistory.RunHistory) {
	for _, item := range pathtree.NewFrom(rh.CloneTree()).Flatten() {
		switch item.Path[0] {
		case runhistory.StepKey, runhistory.TimestampKey:
			continue
		}
		rs.tree.Set(item.Path, item.Value)
	}
}

// Set records a summary value directly.
func (rs *RunSummary) Set(path pathtree.TreePath, value any) {
	rs.tree.Set(path, value)
}

// Get returns the summary value at the path.
func (rs *RunSummary) Get(path pathtree.TreePath) (any, bool) {
	return rs.tree.GetLeaf(path)
}

// ToExtendedJSON serializes the summary as JSON extended with NaN and
// +-Infinity support.
func (rs *RunSummary) ToExtendedJSON() ([]byte, error) {
	return rs.tree.ToExtendedJSON()
}
