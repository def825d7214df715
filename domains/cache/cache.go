package cache

import "context"

type Kind string

const (
	KindQueue         Kind = "queue"
	KindAllocDedupe   Kind = "allocation_dedupe"
	KindActivityDedup Kind = "activity_dedupe"
	KindMedia         Kind = "media"
)

type CacheStats struct {
	Kind      Kind   `json:"kind"`
	Entries   int    `json:"entries"`
	TotalSize int64  `json:"total_size,omitempty"`
	HumanSize string `json:"human_size,omitempty"`
}

type ICacheUsecase interface {
	GetStats(ctx context.Context) ([]CacheStats, error)
	Flush(ctx context.Context, kind Kind) error
	FlushAll(ctx context.Context) error
}
