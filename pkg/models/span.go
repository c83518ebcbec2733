package models

import "strconv"

// Span status codes, following the OTLP convention: 0 unset, 1 ok, 2 error.
const (
	SpanStatusCodeOK    = 1
	SpanStatusCodeError = 2
)

// SpanStatus is the completion status of a span.
type SpanStatus struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// Span is one timed operation within a run's execution. ConversationID is
// the owning run id. Time bounds are nanosecond epoch timestamps carried as
// decimal strings — they can exceed double-precision safe-integer range, so
// they are parsed as int64 only when arithmetic is needed.
type Span struct {
	SpanID            string         `json:"spanId"`
	TraceID           string         `json:"traceId,omitempty"`
	ParentSpanID      string         `json:"parentSpanId,omitempty"`
	ConversationID    string         `json:"conversationId"`
	Name              string         `json:"name"`
	StartTimeUnixNano string         `json:"startTimeUnixNano"`
	EndTimeUnixNano   string         `json:"endTimeUnixNano"`
	Status            SpanStatus     `json:"status"`
	Attributes        map[string]any `json:"attributes,omitempty"`
	LatencyNs         int64          `json:"latencyNs"`
}

// StartNano parses the span's start timestamp. Unparseable values sort first.
func (s *Span) StartNano() int64 {
	n, err := strconv.ParseInt(s.StartTimeUnixNano, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// EndNano parses the span's end timestamp.
func (s *Span) EndNano() int64 {
	n, err := strconv.ParseInt(s.EndTimeUnixNano, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// SpanNode is one span in the reconstructed parent/child forest of a run.
// Sibling order follows the span set's start-time order.
type SpanNode struct {
	Span     Span        `json:"span"`
	Children []*SpanNode `json:"children,omitempty"`
}

// TraceStatus is the derived status of a whole trace.
type TraceStatus string

const (
	TraceStatusOK    TraceStatus = "OK"
	TraceStatusError TraceStatus = "ERROR"
)

// Trace is the derived timing/status summary for the full span set of a run.
// Never persisted; recomputed whenever the run's span set changes.
type Trace struct {
	RunID     string      `json:"runId"`
	StartTime string      `json:"startTime"`
	EndTime   string      `json:"endTime"`
	LatencyNs int64       `json:"latencyNs"`
	Status    TraceStatus `json:"status"`
}
