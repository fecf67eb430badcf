package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const sessionJobQueueCapacity = 10

// sessionJob is one unit of serialized session work. The runtime runs jobs
// strictly in submission order on its single goroutine.
type sessionJob struct {
	ctx      context.Context
	run      func(ctx context.Context)
	queuedAt time.Time
}

// sessionRuntime is the single-writer owner of one session. Every turn-log
// mutation is submitted as a job and executed on the runtime goroutine, so
// concurrent callers queue rather than interleave.
type sessionRuntime struct {
	queue   chan sessionJob
	closeCh chan struct{}
	done    chan struct{}

	startOnce sync.Once
	endOnce   sync.Once

	started atomic.Bool
}

func newSessionRuntime() *sessionRuntime {
	return &sessionRuntime{
		queue:   make(chan sessionJob, sessionJobQueueCapacity),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (runtime *sessionRuntime) start() (started bool) {
	if runtime == nil || runtime.isClosed() {
		return false
	}

	runtime.startOnce.Do(func() {
		if runtime.isClosed() {
			return
		}

		started = true
		runtime.started.Store(true)
		go func() {
			defer close(runtime.done)

			for {
				select {
				case <-runtime.closeCh:
					return
				case job := <-runtime.queue:
					if runtime.isClosed() {
						return
					}
					runtime.processJob(job)
				}
			}
		}()
	})

	return started
}

func (runtime *sessionRuntime) end() {
	if runtime == nil {
		return
	}

	runtime.endOnce.Do(func() {
		close(runtime.closeCh)
	})
}

func (runtime *sessionRuntime) waitUntilEnded() {
	if runtime == nil {
		return
	}

	if runtime.started.Load() {
		<-runtime.done
	}
}

// submit queues a job for serialized execution. It reports false when the
// runtime has already been closed.
func (runtime *sessionRuntime) submit(ctx context.Context, run func(ctx context.Context)) bool {
	if runtime == nil || runtime.isClosed() {
		return false
	}

	job := sessionJob{ctx: ctx, run: run, queuedAt: time.Now()}
	select {
	case <-runtime.closeCh:
		return false
	case runtime.queue <- job:
		return true
	}
}

func (runtime *sessionRuntime) isClosed() bool {
	if runtime == nil {
		return false
	}

	select {
	case <-runtime.closeCh:
		return true
	default:
		return false
	}
}

func (runtime *sessionRuntime) queuedJobCount() int {
	if runtime == nil {
		return 0
	}
	return len(runtime.queue)
}

func (runtime *sessionRuntime) processJob(job sessionJob) {
	jobCtx, jobCancel := context.WithCancel(job.ctx)
	defer jobCancel()

	go func() {
		select {
		case <-runtime.closeCh:
			jobCancel()
		case <-jobCtx.Done():
		}
	}()

	ctx, span := tracer.Start(jobCtx, "process session job")
	defer span.End()

	queuedTime := time.Since(job.queuedAt).Seconds()
	span.AddEvent("taken out of queue", trace.WithAttributes(attribute.Float64("session_job.queued_time", queuedTime)))
	span.SetAttributes(attribute.Int("session_job.queued_jobs", runtime.queuedJobCount()))

	job.run(ctx)
}
