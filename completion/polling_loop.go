package completion

import (
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fabriclink/rdmatransport/metrics"
	"github.com/fabriclink/rdmatransport/msgtype"
)

// maxBatch bounds how many entries one drain pass removes from the queue
// before dispatching, so a burst of completions can't starve Stop().
const maxBatch = 1024

// idleCheckBound is the nominal upper bound on the interval between
// shutdown-flag checks while busy-polling. run does not consult it: the
// loop rechecks the flag on every spin iteration, and no timer enforces
// this bound if the scheduler starves the goroutine between spins.
const idleCheckBound = 50 * time.Millisecond

// Registry is the subset of *msgtype.Registry the polling loop needs,
// kept as an interface so tests can supply a stub.
type Registry interface {
	ByTag(tag uint64) (msgtype.MessageType, bool)
	ShiftBits() uint
}

// PollingLoop is the single background task (C6) that drains the shared
// completion queue and dispatches handlers by tag.
type PollingLoop struct {
	cq       *Queue
	registry Registry
	metrics  *metrics.Recorder
	logger   *zap.SugaredLogger

	interruptMode atomic.Bool
	shutdown      chan struct{}
	done          chan struct{}
}

// NewPollingLoop constructs a loop over cq, dispatching through registry.
// rec and logger may be nil.
func NewPollingLoop(cq *Queue, registry Registry, rec *metrics.Recorder, logger *zap.SugaredLogger) *PollingLoop {
	return &PollingLoop{
		cq:       cq,
		registry: registry,
		metrics:  rec,
		logger:   logger,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// SetInterruptMode toggles between polling (busy-poll) and interrupt-driven
// (blocking) modes.
func (p *PollingLoop) SetInterruptMode(interrupt bool) {
	p.interruptMode.Store(interrupt)
}

// Start launches the polling goroutine. It returns immediately.
func (p *PollingLoop) Start() {
	go p.run()
}

// Stop sets the shutdown flag and waits for the loop to exit. After Stop
// returns, no further handler is invoked even if the queue held unobserved
// entries.
func (p *PollingLoop) Stop() {
	close(p.shutdown)
	<-p.done
}

func (p *PollingLoop) run() {
	defer close(p.done)
	for {
		select {
		case <-p.shutdown:
			return
		default:
		}

		batch := p.cq.drainNonBlocking(maxBatch)
		if len(batch) == 0 {
			if p.interruptMode.Load() {
				e, ok := p.cq.blockingPop(p.shutdown)
				if !ok {
					return
				}
				batch = append(batch, e)
			} else {
				// Busy-poll: yield briefly and re-check the
				// shutdown flag next iteration.
				select {
				case <-p.shutdown:
					return
				default:
				}
				runtime.Gosched()
				continue
			}
		}

		if p.metrics != nil {
			p.metrics.SetCQDepth(len(batch))
		}
		for _, e := range batch {
			p.dispatch(e)
		}
	}
}

func (p *PollingLoop) dispatch(e Entry) {
	tag, wrID := msgtype.Unpack(e.Context, p.registry.ShiftBits())
	if tag == msgtype.MaxTag {
		return // ignored() sentinel: completed normally, no dispatch
	}

	mt, ok := p.registry.ByTag(tag)
	if !ok {
		if p.logger != nil {
			p.logger.Warnw("completion for unknown tag", "tag", tag, "wr_id", wrID)
		}
		return
	}

	switch e.Kind {
	case KindSend:
		mt.OnSend(wrID, e.Success, e.Length, e.Immediate)
	case KindReceive:
		mt.OnReceive(wrID, e.Success, e.Length, e.Immediate)
	case KindWrite:
		mt.OnWrite(wrID, e.Success, e.Length, e.Immediate)
	}

	if p.metrics != nil {
		p.metrics.ObserveCompletion(e.Kind.String(), tag)
	}
}
