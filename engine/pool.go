package engine

import (
	iface "YogaPoseServer/interface"
	"YogaPoseServer/logger"
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrPoolClosed = errors.New("estimator pool is closed")

type JobPackage struct {
	ctx    context.Context
	image  iface.ImageData
	Result chan jobResult
}

type jobResult struct {
	set *iface.LandmarkSet
	err error
}

// Pool fans estimation jobs out to a fixed set of estimators, one goroutine each,
// so a single estimator is never used by two requests at once.
type Pool struct {
	estimators []iface.PoseEstimator
	jobQueue   chan JobPackage
	closeOnce  sync.Once
	done       chan struct{}
	wg         sync.WaitGroup
}

// NewPool starts one worker per estimator. factory is called workersNum times.
func NewPool(workersNum int, factory func() (iface.PoseEstimator, error)) (*Pool, error) {
	if workersNum <= 0 {
		workersNum = 1
	}
	p := &Pool{
		jobQueue: make(chan JobPackage, workersNum),
		done:     make(chan struct{}),
	}
	for i := 0; i < workersNum; i++ {
		est, err := factory()
		if err != nil {
			_ = p.closeEstimators()
			return nil, fmt.Errorf("create estimator %d: %w", i, err)
		}
		p.estimators = append(p.estimators, est)
	}
	for i, est := range p.estimators {
		p.wg.Add(1)
		go p.runWorker(i, est)
	}
	return p, nil
}

func (p *Pool) runWorker(workerID int, est iface.PoseEstimator) {
	defer p.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	logger.Log().Debug("estimator worker created", zap.Int("worker", workerID))
	for {
		select {
		case <-p.done:
			return
		case job := <-p.jobQueue:
			job.Result <- p.process(workerID, est, job)
		}
	}
}

func (p *Pool) process(workerID int, est iface.PoseEstimator, job JobPackage) (res jobResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Error("estimator worker panic recovered", zap.Int("worker", workerID), zap.Any("panic", r))
			res = jobResult{err: fmt.Errorf("estimator panic: %v", r)}
			// give a crashing native backend a moment before the next job
			time.Sleep(100 * time.Millisecond)
		}
	}()
	if err := job.ctx.Err(); err != nil {
		return jobResult{err: err}
	}
	set, err := est.Estimate(job.ctx, job.image)
	return jobResult{set: set, err: err}
}

func (p *Pool) Estimate(ctx context.Context, img iface.ImageData) (*iface.LandmarkSet, error) {
	job := JobPackage{ctx: ctx, image: img, Result: make(chan jobResult, 1)}
	select {
	case <-p.done:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case p.jobQueue <- job:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-job.Result:
		return res.set, res.err
	}
}

func (p *Pool) Size() int {
	return len(p.estimators)
}

// Close stops the workers and releases every estimator.
func (p *Pool) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		err = p.closeEstimators()
	})
	return err
}

func (p *Pool) closeEstimators() error {
	var errs []error
	for _, est := range p.estimators {
		if err := est.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
