package job

import (
	"fmt"
	"sort"
	"strings"
)

// Type names a kind of job. It selects the handler and the queue family.
type Type string

// Queue is a queue family. Families partition jobs for polling and carry
// their own priority ordering and concurrency policy.
type Queue string

// Queue families.
const (
	QueueDefault    Queue = "default"
	QueueHigh       Queue = "high"
	QueueLow        Queue = "low"
	QueueBulk       Queue = "bulk"
	QueueScreenshot Queue = "screenshot"
)

// Job types.
const (
	TypeSendNotification  Type = "send_notification"
	TypeSendEmail         Type = "send_email"
	TypeAITagging         Type = "ai_tagging"
	TypeGenerateEmbedding Type = "generate_embedding"
	TypeIndexSearch       Type = "index_search"
	TypeRecalculateRank   Type = "recalculate_rank"
	TypeCaptureScreenshot Type = "capture_screenshot"
)

// TypeSpec is one row of the compiled-in catalog.
type TypeSpec struct {
	Type            Type
	Queue           Queue
	DefaultPriority int
}

var catalog = map[Type]TypeSpec{
	TypeSendNotification:  {TypeSendNotification, QueueHigh, 10},
	TypeSendEmail:         {TypeSendEmail, QueueHigh, 10},
	TypeAITagging:         {TypeAITagging, QueueDefault, 5},
	TypeGenerateEmbedding: {TypeGenerateEmbedding, QueueDefault, 5},
	TypeIndexSearch:       {TypeIndexSearch, QueueLow, 0},
	TypeRecalculateRank:   {TypeRecalculateRank, QueueBulk, 0},
	TypeCaptureScreenshot: {TypeCaptureScreenshot, QueueScreenshot, 0},
}

// LookupType returns the catalog entry for t.
func LookupType(t Type) (TypeSpec, error) {
	spec, ok := catalog[t]
	if !ok {
		return TypeSpec{}, fmt.Errorf("%w: %q", ErrUnknownJobType, t)
	}
	return spec, nil
}

// AllTypes returns every catalog type in name order.
func AllTypes() []Type {
	types := make([]Type, 0, len(catalog))
	for t := range catalog {
		types = append(types, t)
	}
	sort.Slice(types, func(i, k int) bool { return types[i] < types[k] })
	return types
}

// AllQueues returns every queue family.
func AllQueues() []Queue {
	return []Queue{QueueHigh, QueueDefault, QueueLow, QueueBulk, QueueScreenshot}
}

// ParseQueue converts a family name into a Queue.
func ParseQueue(s string) (Queue, error) {
	q := Queue(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllQueues() {
		if q == known {
			return q, nil
		}
	}
	return "", fmt.Errorf("unknown queue family %q", s)
}
