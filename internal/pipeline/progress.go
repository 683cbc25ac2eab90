package pipeline

import (
	"sync"
	"time"

	"github.com/smallbiznis/cloudcost/internal/clock"
	"go.uber.org/zap"
)

// progress logs done/total with an ETA every `every` scopes.
type progress struct {
	mu      sync.Mutex
	total   int
	done    int
	every   int
	started time.Time
	clock   clock.Clock
	log     *zap.Logger
}

func newProgress(total, every int, clk clock.Clock, log *zap.Logger) *progress {
	if clk == nil {
		clk = clock.New()
	}
	return &progress{total: total, every: every, started: clk.Now(), clock: clk, log: log}
}

func (p *progress) tick() {
	p.mu.Lock()
	p.done++
	done := p.done
	p.mu.Unlock()

	if p.every <= 0 || (done%p.every != 0 && done != p.total) {
		return
	}
	elapsed := p.clock.Now().Sub(p.started)
	p.log.Info("progress",
		zap.Int("done", done),
		zap.Int("total", p.total),
		zap.Duration("elapsed", elapsed),
		zap.Duration("eta", estimateRemaining(elapsed, done, p.total)),
	)
}

func estimateRemaining(elapsed time.Duration, done, total int) time.Duration {
	if done <= 0 || done >= total {
		return 0
	}
	perScope := elapsed / time.Duration(done)
	return perScope * time.Duration(total-done)
}
