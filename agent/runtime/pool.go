package runtime

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog/log"
)

var ErrPoolClosed = errors.New("turn pool is closed")

// TurnHandler processes one turn for one customer.
type TurnHandler interface {
	HandleTurn(ctx context.Context, customerID, utterance string) (string, error)
}

type TurnResult struct {
	Reply string
	Err   error
}

type turnJob struct {
	ctx        context.Context
	customerID string
	utterance  string
	done       chan TurnResult
}

// Pool schedules turns so that turns for the same customer run strictly
// in submission order while different customers proceed in parallel.
// Each customer hashes onto a fixed lane; a lane is a single goroutine
// draining an ordered queue.
type Pool struct {
	handler TurnHandler
	lanes   []chan turnJob

	// mu is held shared for the whole enqueue so Close cannot close a
	// lane out from under an in-flight Submit.
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type PoolConfig struct {
	Lanes     int `envconfig:"LANES" split_words:"true" default:"8"`
	QueueSize int `envconfig:"QUEUE_SIZE" split_words:"true" default:"16"`
}

func NewPool(handler TurnHandler, cfg PoolConfig) (*Pool, error) {
	if handler == nil {
		return nil, errors.New("turn handler is required")
	}
	if cfg.Lanes <= 0 {
		cfg.Lanes = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}

	p := &Pool{
		handler: handler,
		lanes:   make([]chan turnJob, cfg.Lanes),
	}
	for i := range p.lanes {
		p.lanes[i] = make(chan turnJob, cfg.QueueSize)
		p.wg.Add(1)
		go p.drain(i)
	}
	return p, nil
}

// Submit enqueues a turn and returns a channel that receives exactly one
// result. The channel is buffered; the caller may abandon it safely.
func (p *Pool) Submit(ctx context.Context, customerID, utterance string) (<-chan TurnResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPoolClosed
	}

	job := turnJob{
		ctx:        ctx,
		customerID: customerID,
		utterance:  utterance,
		done:       make(chan TurnResult, 1),
	}

	select {
	case p.lanes[p.laneFor(customerID)] <- job:
		return job.done, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops intake and waits for every queued turn to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, lane := range p.lanes {
		close(lane)
	}
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) laneFor(customerID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(customerID))
	return int(h.Sum32() % uint32(len(p.lanes)))
}

func (p *Pool) drain(lane int) {
	defer p.wg.Done()
	for job := range p.lanes[lane] {
		if err := job.ctx.Err(); err != nil {
			job.done <- TurnResult{Err: err}
			continue
		}
		reply, err := p.handler.HandleTurn(job.ctx, job.customerID, job.utterance)
		if err != nil {
			log.Warn().
				Int("lane", lane).
				Str("customer_id", job.customerID).
				Err(err).
				Msg("turn failed")
		}
		job.done <- TurnResult{Reply: reply, Err: err}
	}
}
