package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"catchup/internal/delivery"
	"catchup/internal/models"
)

var (
	// ErrDispatcherBusy is returned when the job queue has no room left.
	ErrDispatcherBusy = errors.New("dispatcher busy")
	// ErrDispatcherClosed is returned after Close.
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

const (
	defaultQueueSize       = 64
	defaultDeliveryTimeout = 30 * time.Second
	statusWriteTimeout     = 3 * time.Second
)

type JobType string

const (
	Notify JobType = "notify"
	Stop   JobType = "stop"
)

type Job struct {
	Type         JobType
	Notification models.Notification
}

// Notifier delivers one notification to its student.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

type DispatcherConfig struct {
	MinWorkers        int
	MaxWorkers        int
	QueueSize         int
	WorkerIdleTimeout time.Duration
	DeliveryTimeout   time.Duration
}

type studentQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher hands notifications from request goroutines to delivery workers.
// Jobs of one student run in submission order; students take turns.
type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan Job // interface for outer jobs get in the dispatcher

	notifier Notifier
	statuses delivery.Store
	logger   *zap.Logger
	timeout  time.Duration

	mu        sync.Mutex
	queues    map[string]*studentQueue // job queue for each student
	ready     *list.List               // LRU queue storing student IDs
	positions map[string]*list.Element

	quit      chan struct{}
	closeOnce sync.Once
}

func NewDispatcher(cfg DispatcherConfig, notifier Notifier, statuses delivery.Store, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if statuses == nil {
		statuses = delivery.NewMemoryStore(delivery.DefaultStatusTTL)
	}
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = defaultDeliveryTimeout
	}

	d := &Dispatcher{
		JobQueue:  make(chan Job, cfg.QueueSize),
		notifier:  notifier,
		statuses:  statuses,
		logger:    logger,
		timeout:   cfg.DeliveryTimeout,
		queues:    make(map[string]*studentQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		quit:      make(chan struct{}),
	}
	d.pool = newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.WorkerIdleTimeout, d.deliver)

	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit queues a notification without blocking and returns its id.
func (d *Dispatcher) Submit(ctx context.Context, n models.Notification) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	select {
	case <-d.quit:
		return "", ErrDispatcherClosed
	default:
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	d.record(n, models.DeliveryQueued, "")
	select {
	case d.JobQueue <- Job{Type: Notify, Notification: n}:
		d.logger.Debug("notification queued",
			zap.String("notification_id", n.ID),
			zap.String("student_id", n.StudentID),
		)
		return n.ID, nil
	default:
		d.record(n, models.DeliveryFailed, ErrDispatcherBusy.Error())
		return n.ID, ErrDispatcherBusy
	}
}

// Close stops dispatching. Jobs not yet handed to a worker are marked failed.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.quit)
		d.pool.close()

		d.mu.Lock()
		var pending []Job
		for id, q := range d.queues {
			pending = append(pending, q.jobs...)
			delete(d.queues, id)
		}
		d.ready.Init()
		d.positions = make(map[string]*list.Element)
		d.mu.Unlock()

	drain:
		for {
			select {
			case job := <-d.JobQueue:
				pending = append(pending, job)
			default:
				break drain
			}
		}
		for _, job := range pending {
			d.record(job.Notification, models.DeliveryFailed, ErrDispatcherClosed.Error())
		}
	})
}

func (d *Dispatcher) run() {
	for {
		// dispatch one job of the student in the front of LRU queue
		if !d.dispatchOne() {
			select {
			case job := <-d.JobQueue: // force congestion
				d.enqueueJob(job)
			case <-d.quit:
				return
			}
			continue
		}
		select {
		case job := <-d.JobQueue: // non-congestion
			d.enqueueJob(job)
		case <-d.quit:
			return
		default:
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	select {
	case <-d.quit:
		d.record(job.Notification, models.DeliveryFailed, ErrDispatcherClosed.Error())
		return
	default:
	}
	studentID := job.Notification.StudentID

	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[studentID]
	if q == nil {
		q = &studentQueue{}
		d.queues[studentID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[studentID] = d.ready.PushBack(studentID)
}

// dispatchOne takes the first student in the LRU and dispatches one job.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	studentID := elem.Value.(string)
	q := d.queues[studentID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, studentID)
		delete(d.queues, studentID)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	workerChan, workerID := d.pool.acquire()
	if workerChan == nil {
		d.record(job.Notification, models.DeliveryFailed, ErrDispatcherClosed.Error())
		return false
	}
	d.logger.Debug("assign notification to worker",
		zap.String("notification_id", job.Notification.ID),
		zap.String("student_id", studentID),
		zap.Int("worker", workerID),
	)
	workerChan <- job
	return true
}

func (d *Dispatcher) deliver(n models.Notification) {
	d.record(n, models.DeliverySending, "")

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	err := d.safeNotify(ctx, n)
	if err != nil {
		d.logger.Warn("notification delivery failed",
			zap.String("notification_id", n.ID),
			zap.String("student_id", n.StudentID),
			zap.Error(err),
		)
		d.record(n, models.DeliveryFailed, err.Error())
		return
	}
	d.logger.Info("notification delivered",
		zap.String("notification_id", n.ID),
		zap.String("student_id", n.StudentID),
		zap.String("topic", n.Topic),
	)
	d.record(n, models.DeliveryDelivered, "")
}

func (d *Dispatcher) safeNotify(ctx context.Context, n models.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("notifier panic", zap.Any("panic", r), zap.String("notification_id", n.ID))
			err = errors.New("notifier panic")
		}
	}()
	if d.notifier == nil {
		return errors.New("no notifier configured")
	}
	return d.notifier.Notify(ctx, n)
}

func (d *Dispatcher) record(n models.Notification, state models.DeliveryState, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), statusWriteTimeout)
	defer cancel()
	status := models.DeliveryStatus{
		ID:        n.ID,
		StudentID: n.StudentID,
		Topic:     n.Topic,
		State:     state,
		Error:     reason,
		UpdatedAt: time.Now().UTC(),
	}
	if err := d.statuses.Put(ctx, status); err != nil {
		d.logger.Warn("record delivery status", zap.String("notification_id", n.ID), zap.Error(err))
	}
}
