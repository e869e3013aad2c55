package turnnode

import (
	"fmt"
	"sort"

	contractx "github.com/caretaker-labs/caretaker/agent/contract"
)

// Integrate merges tool results, retrieval snippets, and memory patches
// into the final turn context. The merge is commutative over execution
// order: results are sorted by tool name, and conflicting memory fields
// resolve last-write-by-timestamp.
func Integrate(in *GraphState) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	in.Phase = PhaseIntegrating

	if len(in.Results) == 0 {
		return in, nil
	}

	results := append([]contractx.ToolResult(nil), in.Results...)
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Tool < results[j].Tool
	})
	in.Results = results

	for _, res := range results {
		if res.Status == contractx.ToolStatusError {
			in.Degraded = append(in.Degraded, fmt.Sprintf("%s failed: %s", res.Tool, res.Detail))
			continue
		}
		if rr, ok := res.Payload.(contractx.RetrievalResult); ok {
			in.Snippets = append(in.Snippets, rr.Snippets...)
			if rr.Degraded {
				in.Degraded = append(in.Degraded, "knowledge grounding is unavailable")
			}
		}
	}

	in.Patch = mergePatches(results)
	return in, nil
}

// mergePatches folds per-result memory patches; when two results write
// the same field, the later CompletedAt wins.
func mergePatches(results []contractx.ToolResult) contractx.MemoryPatch {
	type stamped struct {
		value string
		at    int64
	}
	latest := make(map[string]stamped)

	for _, res := range results {
		if res.Status != contractx.ToolStatusOK {
			continue
		}
		at := res.CompletedAt.UnixNano()
		for key, value := range res.MemoryPatch {
			if cur, ok := latest[key]; ok && cur.at >= at {
				continue
			}
			latest[key] = stamped{value: value, at: at}
		}
	}

	if len(latest) == 0 {
		return nil
	}
	patch := make(contractx.MemoryPatch, len(latest))
	for key, s := range latest {
		patch[key] = s.value
	}
	return patch
}
