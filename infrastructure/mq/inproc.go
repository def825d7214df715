package mq

import (
	"context"
	"time"

	"github.com/atendezap/zapdesk/domains/inbound"
	"github.com/atendezap/zapdesk/pkg/jobs"
)

// Executor runs one deferred media download attempt. Bounded retries are
// the executor's business: it re-enqueues itself with attempt+1 or gives
// up, the queue only delivers.
type Executor func(ctx context.Context, job inbound.MediaRetryJob) error

// InProcQueue schedules media retries on the sharded worker pool of the
// same process. Jobs do not survive a restart; the default when no
// AMQP_URI is configured.
type InProcQueue struct {
	pool *jobs.Pool
	exec Executor
}

func NewInProcQueue(pool *jobs.Pool) *InProcQueue {
	return &InProcQueue{pool: pool}
}

// SetExecutor must be called before the first enqueue. Split from the
// constructor because the media usecase both consumes the queue and
// provides the executor.
func (q *InProcQueue) SetExecutor(exec Executor) {
	q.exec = exec
}

func (q *InProcQueue) EnqueueMediaRetry(_ context.Context, job inbound.MediaRetryJob, delay time.Duration) error {
	q.pool.DispatchAfter(delay, jobs.Job{
		TenantID: job.TenantID,
		ChatKey:  job.ChatKey,
		Name:     "media_retry",
		Handler: func(ctx context.Context) error {
			return q.exec(ctx, job)
		},
	})
	return nil
}
