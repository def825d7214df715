package jobs

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Job es una unidad de trabajo del pipeline: el procesamiento de un evento
// entrante o el reintento diferido de un download de media. Los jobs del
// mismo (TenantID, ChatKey) van siempre al mismo worker para conservar el
// orden por conversación.
type Job struct {
	TenantID string
	ChatKey  string
	Name     string // etiqueta para logs y métricas: inbound | media_retry | allocation
	Handler  func(ctx context.Context) error
}

// PoolStats contiene métricas en tiempo real del pool.
type PoolStats struct {
	NumWorkers      int           `json:"num_workers"`
	QueueSize       int           `json:"queue_size"`
	ActiveWorkers   int           `json:"active_workers"`
	TotalDispatched int64         `json:"total_dispatched"`
	TotalScheduled  int64         `json:"total_scheduled"`
	TotalProcessed  int64         `json:"total_processed"`
	TotalDropped    int64         `json:"total_dropped"`
	TotalErrors     int64         `json:"total_errors"`
	PendingTimers   int           `json:"pending_timers"`
	WorkerStats     []WorkerStats `json:"worker_stats"`
}

// WorkerStats contiene métricas por worker individual.
type WorkerStats struct {
	WorkerID      int   `json:"worker_id"`
	QueueDepth    int   `json:"queue_depth"`
	IsProcessing  bool  `json:"is_processing"`
	JobsProcessed int64 `json:"jobs_processed"`
}

// Pool maneja un conjunto de workers shardeados por conversación.
type Pool struct {
	numWorkers int
	queueSize  int
	workers    []*worker
	wg         sync.WaitGroup
	stopOnce   sync.Once
	stopped    int32
	stopCh     chan struct{}

	totalDispatched int64
	totalScheduled  int64
	totalProcessed  int64
	totalDropped    int64
	totalErrors     int64

	timersMu sync.Mutex
	timers   map[*time.Timer]struct{}
}

type worker struct {
	id            int
	jobQueue      chan Job
	ctx           context.Context
	cancel        context.CancelFunc
	isProcessing  int32
	jobsProcessed int64
	pool          *Pool
}

// NewPool crea el pool. No arranca los workers hasta Start.
func NewPool(numWorkers, queueSize int) *Pool {
	if numWorkers <= 0 {
		numWorkers = 10
	}
	if queueSize <= 0 {
		queueSize = 100
	}

	return &Pool{
		numWorkers: numWorkers,
		queueSize:  queueSize,
		workers:    make([]*worker, numWorkers),
		stopCh:     make(chan struct{}),
		timers:     make(map[*time.Timer]struct{}),
	}
}

// Start inicia todos los workers del pool.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		workerCtx, cancel := context.WithCancel(ctx)
		w := &worker{
			id:       i,
			jobQueue: make(chan Job, p.queueSize),
			ctx:      workerCtx,
			cancel:   cancel,
			pool:     p,
		}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run(&p.wg)
	}

	logrus.Infof("[JOBS] Pool started with %d workers, queue size: %d", p.numWorkers, p.queueSize)
}

// TryDispatch encola el job en el worker que le corresponde por shard, sin
// bloquear. Devuelve false si la cola está llena o el pool ya paró; el
// caller decide si eso es backpressure o pérdida aceptable.
func (p *Pool) TryDispatch(job Job) bool {
	if atomic.LoadInt32(&p.stopped) == 1 {
		atomic.AddInt64(&p.totalDropped, 1)
		return false
	}

	shard := p.shardFor(job.TenantID, job.ChatKey)
	atomic.AddInt64(&p.totalDispatched, 1)

	sent := func() (ok bool) {
		defer func() {
			if r := recover(); r != nil {
				ok = false
			}
		}()
		select {
		case p.workers[shard].jobQueue <- job:
			return true
		default:
			return false
		}
	}()

	if sent {
		return true
	}

	atomic.AddInt64(&p.totalDropped, 1)
	logrus.Warnf("[JOBS] Worker %d queue full (or stopped), dropping %s job for %s|%s",
		shard, job.Name, job.TenantID, job.ChatKey)
	return false
}

// Dispatch encola sin reportar el resultado.
func (p *Pool) Dispatch(job Job) {
	_ = p.TryDispatch(job)
}

// DispatchAfter programa el job para encolarse después de delay. Se usa
// para los reintentos diferidos de media: el handler entrante nunca espera
// el backoff inline.
func (p *Pool) DispatchAfter(delay time.Duration, job Job) {
	if atomic.LoadInt32(&p.stopped) == 1 {
		atomic.AddInt64(&p.totalDropped, 1)
		return
	}
	if delay <= 0 {
		p.Dispatch(job)
		return
	}

	atomic.AddInt64(&p.totalScheduled, 1)

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		p.timersMu.Lock()
		delete(p.timers, timer)
		p.timersMu.Unlock()
		p.Dispatch(job)
	})

	p.timersMu.Lock()
	p.timers[timer] = struct{}{}
	p.timersMu.Unlock()
}

// Stop detiene el pool de forma graceful: cancela timers pendientes, cierra
// las colas y espera a que los workers terminen los jobs en curso.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		atomic.StoreInt32(&p.stopped, 1)
		close(p.stopCh)
		logrus.Info("[JOBS] Stopping workers...")

		p.timersMu.Lock()
		for timer := range p.timers {
			timer.Stop()
		}
		p.timers = make(map[*time.Timer]struct{})
		p.timersMu.Unlock()

		for _, w := range p.workers {
			w.cancel()
			close(w.jobQueue)
		}

		p.wg.Wait()

		logrus.Info("[JOBS] All workers stopped")
	})
}

// shardFor calcula el worker para una conversación usando hash consistente.
func (p *Pool) shardFor(tenantID, chatKey string) int {
	key := tenantID + "|" + chatKey
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(p.numWorkers))
}

// GetStats retorna estadísticas en tiempo real del pool.
func (p *Pool) GetStats() PoolStats {
	workerStats := make([]WorkerStats, len(p.workers))
	activeWorkers := 0

	for i, w := range p.workers {
		isProcessing := atomic.LoadInt32(&w.isProcessing) == 1
		if isProcessing {
			activeWorkers++
		}

		workerStats[i] = WorkerStats{
			WorkerID:      w.id,
			QueueDepth:    len(w.jobQueue),
			IsProcessing:  isProcessing,
			JobsProcessed: atomic.LoadInt64(&w.jobsProcessed),
		}
	}

	p.timersMu.Lock()
	pendingTimers := len(p.timers)
	p.timersMu.Unlock()

	return PoolStats{
		NumWorkers:      p.numWorkers,
		QueueSize:       p.queueSize,
		ActiveWorkers:   activeWorkers,
		TotalDispatched: atomic.LoadInt64(&p.totalDispatched),
		TotalScheduled:  atomic.LoadInt64(&p.totalScheduled),
		TotalProcessed:  atomic.LoadInt64(&p.totalProcessed),
		TotalDropped:    atomic.LoadInt64(&p.totalDropped),
		TotalErrors:     atomic.LoadInt64(&p.totalErrors),
		PendingTimers:   pendingTimers,
		WorkerStats:     workerStats,
	}
}

func (w *worker) run(wg *sync.WaitGroup) {
	defer wg.Done()

	logrus.Debugf("[JOBS] Worker %d started", w.id)

	for {
		select {
		case job, ok := <-w.jobQueue:
			if !ok {
				logrus.Debugf("[JOBS] Worker %d shutting down", w.id)
				return
			}

			func() {
				atomic.StoreInt32(&w.isProcessing, 1)
				defer func() {
					if r := recover(); r != nil {
						atomic.AddInt64(&w.pool.totalErrors, 1)
						logrus.Errorf("[JOBS] Worker %d panic on %s job for %s|%s: %v",
							w.id, job.Name, job.TenantID, job.ChatKey, r)
					}
					atomic.StoreInt32(&w.isProcessing, 0)
					atomic.AddInt64(&w.jobsProcessed, 1)
					atomic.AddInt64(&w.pool.totalProcessed, 1)
				}()

				if err := job.Handler(w.ctx); err != nil {
					atomic.AddInt64(&w.pool.totalErrors, 1)
					logrus.WithError(err).Errorf("[JOBS] Worker %d %s job failed for %s|%s",
						w.id, job.Name, job.TenantID, job.ChatKey)
				}
			}()

		case <-w.ctx.Done():
			// Contexto cancelado: drenar lo pendiente antes de salir.
			logrus.Debugf("[JOBS] Worker %d context cancelled, draining queue...", w.id)
			w.drainQueue()
			return
		}
	}
}

func (w *worker) drainQueue() {
	for {
		select {
		case job, ok := <-w.jobQueue:
			if !ok {
				return
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						atomic.AddInt64(&w.pool.totalErrors, 1)
						logrus.Errorf("[JOBS] Worker %d drain panic: %v", w.id, r)
					}
				}()
				if err := job.Handler(w.ctx); err != nil {
					logrus.WithError(err).Errorf("[JOBS] Worker %d drain job failed", w.id)
				}
			}()
		default:
			return
		}
	}
}
