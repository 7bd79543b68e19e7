package planner

import (
	"github.com/JunjieYu95/yukie-mvp-sub000/pkg/models"
	"github.com/rs/zerolog/log"
)

// ComputeExecutionOrder groups calls into batches by topological order:
// each pass collects every call whose dependencies are all absent or
// already scheduled. Calls within a batch may run concurrently; batches
// run strictly in sequence.
//
// If no call is ready but unscheduled calls remain, the dependency graph
// contains a cycle. The remaining calls go into one final batch rather
// than being dropped — a documented degraded ordering. Validation flags
// the cycle independently, so a plan reported valid never reaches the
// degraded path.
func ComputeExecutionOrder(calls []models.ToolCall) [][]string {
	order := make([][]string, 0)
	if len(calls) == 0 {
		return order
	}

	known := make(map[string]bool, len(calls))
	for _, c := range calls {
		known[c.ID] = true
	}

	scheduled := make(map[string]bool, len(calls))
	for len(scheduled) < len(calls) {
		var batch []string
		for _, c := range calls {
			if scheduled[c.ID] {
				continue
			}
			ready := true
			for _, dep := range c.DependsOn {
				if known[dep] && !scheduled[dep] {
					ready = false
					break
				}
			}
			if ready {
				batch = append(batch, c.ID)
			}
		}

		if len(batch) == 0 {
			// Cycle: dump the remainder into one final batch.
			var remaining []string
			for _, c := range calls {
				if !scheduled[c.ID] {
					remaining = append(remaining, c.ID)
				}
			}
			log.Warn().
				Strs("calls", remaining).
				Msg("dependency cycle detected; remaining calls placed in final batch")
			order = append(order, remaining)
			break
		}

		for _, id := range batch {
			scheduled[id] = true
		}
		order = append(order, batch)
	}
	return order
}
