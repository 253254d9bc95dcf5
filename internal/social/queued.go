package social

import (
	"context"

	"github.com/kalambet/chirpd/internal/queue"
)

// QueuedReader routes timeline and thread reads through the request queue so
// they never overlap with writes.
type QueuedReader struct {
	client *Client
	queue  *queue.Queue
}

// NewQueuedReader wraps c with q.
func NewQueuedReader(c *Client, q *queue.Queue) *QueuedReader {
	return &QueuedReader{client: c, queue: q}
}

func (r *QueuedReader) FetchTimeline(ctx context.Context, limit int) ([]Item, error) {
	return queue.Do(ctx, r.queue, func(ctx context.Context) ([]Item, error) {
		return r.client.FetchTimeline(ctx, limit)
	})
}

func (r *QueuedReader) FetchThread(ctx context.Context, itemID string, depth int) ([]Item, error) {
	return queue.Do(ctx, r.queue, func(ctx context.Context) ([]Item, error) {
		return r.client.FetchThread(ctx, itemID, depth)
	})
}
