package worker

import "catchup/internal/models"

type Worker struct {
	id         int
	pool       *jobChannelPool
	jobChannel chan Job
	handle     func(models.Notification)
}

func newWorker(id int, pool *jobChannelPool, handle func(models.Notification)) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		jobChannel: make(chan Job),
		handle:     handle,
	}
}

func (w *Worker) Start() {
	go func() {
		for {
			if !w.pool.Release(w.jobChannel) {
				return
			}
			job := <-w.jobChannel
			switch job.Type {
			case Stop:
				w.pool.retire(w.jobChannel)
				return
			case Notify:
				w.handle(job.Notification)
			}
		}
	}()
}
