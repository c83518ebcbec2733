package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runlens/runlens/pkg/models"
)

func TestDerive_Empty(t *testing.T) {
	assert.Nil(t, Derive("run-1", nil))
}

func TestDerive_MinMaxAndErrorStatus(t *testing.T) {
	spans := []models.Span{
		{SpanID: "s1", StartTimeUnixNano: "100", EndTimeUnixNano: "500",
			Status: models.SpanStatus{Code: models.SpanStatusCodeOK}},
		{SpanID: "s2", StartTimeUnixNano: "200", EndTimeUnixNano: "900",
			Status: models.SpanStatus{Code: models.SpanStatusCodeError}},
	}

	tr := Derive("run-1", spans)
	require.NotNil(t, tr)
	assert.Equal(t, "run-1", tr.RunID)
	assert.Equal(t, int64(800), tr.LatencyNs)
	assert.Equal(t, models.TraceStatusError, tr.Status)
}

func TestDerive_AllOK(t *testing.T) {
	spans := []models.Span{
		{SpanID: "s1", StartTimeUnixNano: "100", EndTimeUnixNano: "300",
			Status: models.SpanStatus{Code: models.SpanStatusCodeOK}},
	}

	tr := Derive("run-1", spans)
	require.NotNil(t, tr)
	assert.Equal(t, models.TraceStatusOK, tr.Status)
	assert.Equal(t, int64(200), tr.LatencyNs)
}

func TestDerive_NanosecondPrecisionBeyondFloat(t *testing.T) {
	// Values above 2^53 would lose precision as float64.
	spans := []models.Span{
		{SpanID: "s1",
			StartTimeUnixNano: "1767225600000000001",
			EndTimeUnixNano:   "1767225600000000005",
			Status:            models.SpanStatus{Code: models.SpanStatusCodeOK}},
	}

	tr := Derive("run-1", spans)
	require.NotNil(t, tr)
	assert.Equal(t, int64(4), tr.LatencyNs)
}

func TestBuildForest_LinksChildren(t *testing.T) {
	spans := []models.Span{
		{SpanID: "root", StartTimeUnixNano: "100"},
		{SpanID: "child", ParentSpanID: "root", StartTimeUnixNano: "200"},
		{SpanID: "grandchild", ParentSpanID: "child", StartTimeUnixNano: "300"},
	}

	roots := BuildForest(spans)
	require.Len(t, roots, 1)
	assert.Equal(t, "root", roots[0].Span.SpanID)
	require.Len(t, roots[0].Children, 1)
	require.Len(t, roots[0].Children[0].Children, 1)
	assert.Equal(t, "grandchild", roots[0].Children[0].Children[0].Span.SpanID)
}

func TestBuildForest_UnresolvedParentBecomesRoot(t *testing.T) {
	spans := []models.Span{
		{SpanID: "a", StartTimeUnixNano: "100"},
		{SpanID: "b", ParentSpanID: "missing", StartTimeUnixNano: "200"},
	}

	roots := BuildForest(spans)
	require.Len(t, roots, 2, "orphaned span must not be dropped")
	assert.Equal(t, "a", roots[0].Span.SpanID)
	assert.Equal(t, "b", roots[1].Span.SpanID)
}

func TestModelInvocations(t *testing.T) {
	spans := []models.Span{
		{SpanID: "s1", StartTimeUnixNano: "100", EndTimeUnixNano: "200",
			Attributes: map[string]any{"model_name": "gpt-large"}},
		{SpanID: "s2", StartTimeUnixNano: "200", EndTimeUnixNano: "500",
			Attributes: map[string]any{"gen_ai.request.model": "gpt-large"}},
		{SpanID: "s3", StartTimeUnixNano: "300", EndTimeUnixNano: "400",
			Attributes: map[string]any{"tool": "search"}},
	}

	inv := ModelInvocations("run-1", spans)
	assert.Equal(t, 2, inv.Invocations)
	assert.Equal(t, int64(400), inv.TotalNs)
	require.Len(t, inv.ByModel, 1)
	assert.Equal(t, "gpt-large", inv.ByModel[0].ModelName)
	assert.Equal(t, 2, inv.ByModel[0].Invocations)
}
