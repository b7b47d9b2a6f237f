package accountmanager

import (
	"context"
	"log"

	"github.com/prometheus/client_golang/prometheus"
)

// gateTask is one unit of work submitted to the serialization gate.
type gateTask struct {
	traceID string
	fn      func(ctx context.Context)
	done    chan struct{}
}

// gate is the single FIFO execution lane dedicated to account-handle
// mutations (spec.md §4.5). Modeled on the teacher's hub/topic run loops
// (server/hub.go, server/topic.go): a single goroutine selecting over a
// channel, guaranteeing linear ordering instead of relying on a mutex.
type gate struct {
	tasks chan gateTask
	stop  chan chan bool

	queueDepth prometheus.Gauge
}

func newGate(reg prometheus.Registerer) *gate {
	g := &gate{
		tasks: make(chan gateTask, 64),
		stop:  make(chan chan bool),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "accountmanager",
			Subsystem: "gate",
			Name:      "queue_depth",
			Help:      "Number of tasks currently queued on the serialization gate.",
		}),
	}
	reg.MustRegister(g.queueDepth)
	go g.run()
	return g
}

func (g *gate) run() {
	for {
		select {
		case t := <-g.tasks:
			g.queueDepth.Set(float64(len(g.tasks)))
			log.Printf("accountmanager: gate dispatching task %s", t.traceID)
			t.fn(context.Background())
			close(t.done)
		case done := <-g.stop:
			done <- true
			return
		}
	}
}

// Submit enqueues fn and blocks until it has run. Callers must not call
// into the gate recursively from within fn — the driver loop in
// manager.go runs its follow-up events inline within the same task
// instead of resubmitting, precisely to avoid that deadlock. Satisfies
// constellation.GateSubmitter.
func (g *gate) Submit(fn func(ctx context.Context)) {
	traceID := nextTraceID()
	done := make(chan struct{})
	g.tasks <- gateTask{traceID: traceID, fn: fn, done: done}
	g.queueDepth.Set(float64(len(g.tasks)))
	<-done
}

func (g *gate) shutdown() {
	done := make(chan bool)
	g.stop <- done
	<-done
	log.Printf("accountmanager: gate shut down")
}
