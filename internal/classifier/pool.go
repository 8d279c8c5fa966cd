// Package classifier runs behavior classification on background workers.
//
// The experiment loop must never block on inference, so the pool accepts
// skeletons through a non-blocking Submit and hands completed results
// back through a non-blocking Poll. A frame submitted while every worker
// is busy is dropped; the caller simply re-submits on a later frame.
package classifier

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/clementpouget/DeepLabStream/internal/pose"
)

// Result is one completed inference.
type Result struct {
	// Prob is the classifier's confidence for the target behavior.
	Prob float64

	// Class is the predicted class label for classifiers that emit
	// discrete classes instead of probabilities.
	Class int
}

// Scorer adapts a trained model: feature extraction plus inference for
// one frame's skeletons.
type Scorer interface {
	Score(skels []pose.Skeleton) (Result, error)
}

// Pool fans frames out to a fixed set of scoring workers.
type Pool struct {
	scorer  Scorer
	size    int
	jobs    chan []pose.Skeleton
	results chan Result
	quit    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool

	startOnce sync.Once
	endOnce   sync.Once
}

// NewPool returns a pool of size workers around the given scorer.
func NewPool(scorer Scorer, size int) (*Pool, error) {
	if scorer == nil {
		return nil, fmt.Errorf("classifier pool: scorer is nil")
	}
	if size < 1 {
		return nil, fmt.Errorf("classifier pool: size must be at least 1, got %d", size)
	}
	return &Pool{
		scorer:  scorer,
		size:    size,
		jobs:    make(chan []pose.Skeleton, 1),
		results: make(chan Result, size),
		quit:    make(chan struct{}),
	}, nil
}

// Start launches the workers. Safe to call once; later calls are no-ops.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.running.Store(true)
		for i := 0; i < p.size; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
		Diagf("pool started with %d workers", p.size)
	})
}

// End shuts the workers down and waits for any in-flight inference to
// finish. Safe to call repeatedly and before Start.
func (p *Pool) End() {
	p.endOnce.Do(func() {
		p.running.Store(false)
		close(p.quit)
		p.wg.Wait()
		Diagf("pool stopped")
	})
}

// Submit offers one frame's skeletons for scoring without blocking.
// It reports false when the pool is stopped or already saturated.
func (p *Pool) Submit(skels []pose.Skeleton) bool {
	if !p.running.Load() {
		return false
	}
	select {
	case p.jobs <- skels:
		Tracef("submitted frame for scoring")
		return true
	default:
		return false
	}
}

// Poll returns a completed result if one is ready. It never blocks; a
// false return means inference is still pending.
func (p *Pool) Poll() (Result, bool) {
	select {
	case r := <-p.results:
		Tracef("poll: prob=%.3f class=%d", r.Prob, r.Class)
		return r, true
	default:
		return Result{}, false
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case skels := <-p.jobs:
			res, err := p.scorer.Score(skels)
			if err != nil {
				Diagf("worker %d: score failed: %v", id, err)
				continue
			}
			select {
			case p.results <- res:
			case <-p.quit:
				return
			}
		}
	}
}
