package imagecache

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Togather-Foundation/catalog/internal/metrics"
)

// DefaultConcurrency bounds simultaneous image transfers within one batch.
const DefaultConcurrency = 5

// Task describes one image to resolve and the callback that receives it.
type Task struct {
	Site        string
	URL         string
	BaseURL     string
	FallbackKey string
	// Done runs on the worker goroutine once the image is resolved.
	Done func(Result, error)
}

// Pool runs image resolutions with bounded concurrency. Submit never blocks
// on the concurrency limit; tasks queue until a slot frees up.
type Pool struct {
	cache *Cache
	ctx   context.Context
	group errgroup.Group

	mu      sync.Mutex
	queue   []Task
	wake    chan struct{}
	closed  bool
	drained chan struct{}
}

func (c *Cache) NewPool(ctx context.Context, limit int) *Pool {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	p := &Pool{
		cache:   c,
		ctx:     ctx,
		wake:    make(chan struct{}, 1),
		drained: make(chan struct{}),
	}
	p.group.SetLimit(limit)
	go p.dispatch()
	return p
}

func (p *Pool) Submit(task Task) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		panic("imagecache: Submit after Wait")
	}
	p.queue = append(p.queue, task)
	p.mu.Unlock()
	p.signal()
}

// Wait stops accepting tasks and blocks until every submitted task's Done
// callback has returned.
func (p *Pool) Wait() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.signal()
	<-p.drained
	_ = p.group.Wait()
}

func (p *Pool) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pool) dispatch() {
	defer close(p.drained)
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			closed := p.closed
			p.mu.Unlock()
			if closed {
				return
			}
			<-p.wake
			continue
		}
		task := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.group.Go(func() error {
			metrics.ImageFetchesInFlight.Inc()
			defer metrics.ImageFetchesInFlight.Dec()
			res, err := p.cache.Resolve(p.ctx, task.Site, task.URL, task.BaseURL, task.FallbackKey)
			if task.Done != nil {
				task.Done(res, err)
			}
			return nil
		})
	}
}
