// Package trace derives run-level timing and status from raw span sets.
package trace

import (
	"time"

	"github.com/runlens/runlens/pkg/models"
)

// Derive computes the trace summary for one run's full span set. Returns nil
// when the set is empty. Timing math is done on the int64 nanosecond values;
// the display timestamps are a one-way millisecond-precision rendering and
// are never used to compute latency.
func Derive(runID string, spans []models.Span) *models.Trace {
	if len(spans) == 0 {
		return nil
	}

	start := spans[0].StartNano()
	end := spans[0].EndNano()
	status := models.TraceStatusOK

	for i := range spans {
		if s := spans[i].StartNano(); s < start {
			start = s
		}
		if e := spans[i].EndNano(); e > end {
			end = e
		}
		if spans[i].Status.Code == models.SpanStatusCodeError {
			status = models.TraceStatusError
		}
	}

	return &models.Trace{
		RunID:     runID,
		StartTime: displayTime(start),
		EndTime:   displayTime(end),
		LatencyNs: end - start,
		Status:    status,
	}
}

// displayTime renders a nanosecond epoch timestamp at millisecond precision.
func displayTime(unixNano int64) string {
	return time.Unix(0, unixNano).UTC().Format("2006-01-02T15:04:05.000Z")
}

// BuildForest reconstructs the parent/child span forest for one run. Spans
// are linked through an arena keyed by spanId; a span whose parent id is
// absent from the set is promoted to a root rather than dropped. Input order
// (start-time ascending from the merge layer) is preserved among siblings
// and roots.
func BuildForest(spans []models.Span) []*models.SpanNode {
	arena := make(map[string]*models.SpanNode, len(spans))
	nodes := make([]*models.SpanNode, len(spans))
	for i := range spans {
		n := &models.SpanNode{Span: spans[i]}
		nodes[i] = n
		arena[spans[i].SpanID] = n
	}

	var roots []*models.SpanNode
	for _, n := range nodes {
		parentID := n.Span.ParentSpanID
		if parentID == "" {
			roots = append(roots, n)
			continue
		}
		parent, ok := arena[parentID]
		if !ok || parent == n {
			// Unresolved parent — treat as root.
			roots = append(roots, n)
			continue
		}
		parent.Children = append(parent.Children, n)
	}
	return roots
}

// ModelInvocations summarizes the model-invocation spans of a run. A span
// counts as a model invocation when it carries a model name attribute
// (producers record it under "model_name" or the OTLP "gen_ai.request.model").
func ModelInvocations(runID string, spans []models.Span) *models.ModelInvocations {
	byModel := make(map[string]int)
	var order []string
	var totalNs int64
	count := 0

	for i := range spans {
		name := modelName(spans[i].Attributes)
		if name == "" {
			continue
		}
		count++
		totalNs += spans[i].EndNano() - spans[i].StartNano()
		if _, seen := byModel[name]; !seen {
			order = append(order, name)
		}
		byModel[name]++
	}

	out := &models.ModelInvocations{
		RunID:       runID,
		Invocations: count,
		TotalNs:     totalNs,
	}
	for _, name := range order {
		out.ByModel = append(out.ByModel, models.ModelCallCount{
			ModelName:   name,
			Invocations: byModel[name],
		})
	}
	return out
}

func modelName(attrs map[string]any) string {
	for _, key := range []string{"model_name", "gen_ai.request.model"} {
		if v, ok := attrs[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}
