package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/san-kum/medassist/server/models"
)

type ProcessingQueue struct {
	items      chan *QueueItem
	workers    int
	workerFunc func(*QueueItem)
	wg         sync.WaitGroup
	shutdown   chan struct{}
	isRunning  bool
	mutex      sync.RWMutex
}

// Task is one diagnosis run. Key is the report cache key; empty disables
// caching. Job is set for asynchronous submissions.
type Task struct {
	Key string
	Job *Job
	Run func(ctx context.Context) (*models.Report, error)
}

type QueueItem struct {
	Ctx        context.Context
	Task       *Task
	ResultChan chan *ProcessingResult
	StartTime  time.Time
}

type ProcessingResult struct {
	Report *models.Report
	Error  error
}

func NewProcessingQueue(queueSize, workers int, workerFunc func(*QueueItem)) *ProcessingQueue {
	queue := &ProcessingQueue{
		items:      make(chan *QueueItem, queueSize),
		workers:    workers,
		workerFunc: workerFunc,
		shutdown:   make(chan struct{}),
		isRunning:  true,
	}

	for i := 0; i < workers; i++ {
		queue.wg.Add(1)
		go queue.worker(i)
	}

	return queue
}

func (pq *ProcessingQueue) worker(id int) {
	defer pq.wg.Done()

	for {
		select {
		case item := <-pq.items:
			if item != nil {
				func() {
					defer func() {
						if r := recover(); r != nil {
							item.reply(&ProcessingResult{Error: fmt.Errorf("worker %d panic: %v", id, r)})
						}
					}()

					pq.workerFunc(item)
				}()
			}
		case <-pq.shutdown:
			return
		}
	}
}

// reply never blocks; ResultChan is buffered and read at most once.
func (item *QueueItem) reply(result *ProcessingResult) {
	select {
	case item.ResultChan <- result:
	default:
	}
}

func (pq *ProcessingQueue) Enqueue(item *QueueItem) bool {
	pq.mutex.RLock()
	defer pq.mutex.RUnlock()
	if !pq.isRunning {
		return false
	}

	select {
	case pq.items <- item:
		return true
	default:
		return false
	}
}

func (pq *ProcessingQueue) Size() int {
	return len(pq.items)
}

func (pq *ProcessingQueue) Capacity() int {
	return cap(pq.items)
}

func (pq *ProcessingQueue) IsRunning() bool {
	pq.mutex.RLock()
	defer pq.mutex.RUnlock()
	return pq.isRunning
}

func (pq *ProcessingQueue) Workers() int {
	return pq.workers
}

// Shutdown stops the workers; items still queued are answered with an
// error.
func (pq *ProcessingQueue) Shutdown(timeout time.Duration) error {
	pq.mutex.Lock()
	if !pq.isRunning {
		pq.mutex.Unlock()
		return nil
	}
	pq.isRunning = false
	pq.mutex.Unlock()

	close(pq.shutdown)

	done := make(chan struct{})
	go func() {
		pq.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("shutdown timeout exceeded")
	}
	pq.DrainQueue()
	return err
}

func (pq *ProcessingQueue) DrainQueue() int {
	drained := 0

	for {
		select {
		case item := <-pq.items:
			if item != nil {
				item.reply(&ProcessingResult{
					Error: fmt.Errorf("processing cancelled - queue shutting down"),
				})
				drained++
			}
		default:
			return drained
		}
	}
}

func (pq *ProcessingQueue) GetQueueStats() QueueStats {
	pq.mutex.RLock()
	defer pq.mutex.RUnlock()

	return QueueStats{
		CurrentSize:        pq.Size(),
		MaxCapacity:        pq.Capacity(),
		ActiveWorkers:      pq.workers,
		IsRunning:          pq.isRunning,
		UtilizationPercent: float64(pq.Size()) / float64(pq.Capacity()) * 100,
	}
}

type QueueStats struct {
	CurrentSize        int     `json:"current_size"`
	MaxCapacity        int     `json:"max_capacity"`
	ActiveWorkers      int     `json:"active_workers"`
	IsRunning          bool    `json:"is_running"`
	UtilizationPercent float64 `json:"utilization_percent"`
}
