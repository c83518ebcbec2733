// Package merge reconciles ordered fact collections with incoming batches.
//
// All functions are pure: the existing slice is never mutated, because
// observers may still be iterating it. Reconciliation is replace-or-append
// by identity — an incoming record is the authoritative latest state for its
// identity — which makes delivery idempotent: applying the same batch twice
// yields the same collection as applying it once.
package merge

import (
	"sort"

	"github.com/runlens/runlens/pkg/models"
)

// byID folds batch into existing with replace-or-append semantics, keyed by
// the identity function. Returns a fresh slice.
func byID[T any](existing, batch []T, id func(*T) string) []T {
	out := make([]T, len(existing), len(existing)+len(batch))
	copy(out, existing)

	index := make(map[string]int, len(out))
	for i := range out {
		index[id(&out[i])] = i
	}

	for i := range batch {
		key := id(&batch[i])
		if at, ok := index[key]; ok {
			out[at] = batch[i]
		} else {
			index[key] = len(out)
			out = append(out, batch[i])
		}
	}
	return out
}

// Messages merges a batch of messages into an existing collection and
// re-sorts ascending by timestamp. The sort is stable: messages with equal
// timestamps keep their input order.
func Messages(existing, batch []models.Message) []models.Message {
	out := byID(existing, batch, func(m *models.Message) string { return m.ID })
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Replies merges a batch of replies into an existing collection by replyId.
// Replies keep insertion order; an incoming reply replaces the stored one
// wholesale except for its messages, which are concatenation-merged by
// message id and re-sorted by timestamp.
func Replies(existing, batch []models.Reply) []models.Reply {
	out := make([]models.Reply, len(existing), len(existing)+len(batch))
	copy(out, existing)

	index := make(map[string]int, len(out))
	for i := range out {
		index[out[i].ReplyID] = i
	}

	for i := range batch {
		incoming := batch[i]
		if at, ok := index[incoming.ReplyID]; ok {
			merged := incoming
			merged.Messages = Messages(out[at].Messages, incoming.Messages)
			out[at] = merged
		} else {
			incoming.Messages = Messages(nil, incoming.Messages)
			index[incoming.ReplyID] = len(out)
			out = append(out, incoming)
		}
	}
	return out
}

// Spans merges a batch of spans into an existing collection by spanId and
// re-sorts ascending by startTimeUnixNano. Stable, so spans with identical
// start times keep their relative order.
func Spans(existing, batch []models.Span) []models.Span {
	out := byID(existing, batch, func(s *models.Span) string { return s.SpanID })
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartNano() < out[j].StartNano()
	})
	return out
}

// InputRequests merges a batch of input requests by requestId, preserving
// FIFO arrival order.
func InputRequests(existing, batch []models.InputRequest) []models.InputRequest {
	return byID(existing, batch, func(r *models.InputRequest) string { return r.RequestID })
}

// AssistantReplies merges a batch of assistant replies by id. When override
// is set the batch replaces the collection wholesale (full reload), matching
// the replies fact's override flag.
func AssistantReplies(existing, batch []models.AssistantReply, override bool) []models.AssistantReply {
	if override {
		out := make([]models.AssistantReply, len(batch))
		copy(out, batch)
		return out
	}
	return byID(existing, batch, func(r *models.AssistantReply) string { return r.ID })
}
