package analytics

import "time"

type EventType string

const (
	EventAnswered EventType = "answered"
	EventCacheHit EventType = "cache_hit"
	EventFailed   EventType = "failed"
)

// QAEvent summarises one question-answering request.
type QAEvent struct {
	Type         EventType `json:"type"`
	RequestID    string    `json:"request_id"`
	DocumentHash string    `json:"document_hash"`
	Questions    int       `json:"questions"`
	Failed       int       `json:"failed"`
	NotFound     int       `json:"not_found"`
	Backend      string    `json:"backend,omitempty"`
	Reason       string    `json:"selection_reason,omitempty"`
	Chunks       int       `json:"chunks"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	CacheHit     bool      `json:"cache_hit"`
	LatencyMs    int64     `json:"latency_ms"`
	Timestamp    time.Time `json:"timestamp"`
}
