package service

import (
	"context"
	"time"

	"github.com/PaolaCartala/compliance-local-ai/internal/store"
	"github.com/PaolaCartala/compliance-local-ai/internal/store/model"
	"github.com/PaolaCartala/compliance-local-ai/internal/util"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	StatsWindow       = 24 * time.Hour
	defaultStatsTTL   = 5 * time.Second
	queueStatsCacheID = "queue"
)

// QueueService reports backlog and latency over the last StatsWindow.
type QueueService struct {
	store store.Store
	cache *expirable.LRU[string, model.QueueStats]
}

func NewQueueService(s store.Store) *QueueService {
	return NewQueueServiceWithTTL(s, defaultStatsTTL)
}

func NewQueueServiceWithTTL(s store.Store, ttl time.Duration) *QueueService {
	return &QueueService{
		store: s,
		cache: expirable.NewLRU[string, model.QueueStats](1, nil, ttl),
	}
}

func (q *QueueService) Stats(ctx context.Context) (model.QueueStats, error) {
	if stats, ok := q.cache.Get(queueStatsCacheID); ok {
		return stats, nil
	}

	since := util.Now().Add(-StatsWindow)
	counts, err := q.store.Job().CountByStatus(ctx, since)
	if err != nil {
		return model.QueueStats{}, err
	}

	avg, err := q.store.Job().AverageProcessingTime(ctx, since)
	if err != nil {
		return model.QueueStats{}, err
	}

	stats := model.NewQueueStats(counts, avg)
	q.cache.Add(queueStatsCacheID, stats)
	return stats, nil
}
