package accountmanager

// uiDispatcher is the UI-facing dispatch context from spec.md §5: a
// serial lane, distinct from the gate, that delivers observer
// notifications in the order they were produced. Modeled on the gate's single-goroutine-over-a-channel shape,
// but fire-and-forget — callers never block waiting for a UI task to run.
type uiDispatcher struct {
	tasks chan func()
	stop  chan chan bool
}

func newUIDispatcher() *uiDispatcher {
	d := &uiDispatcher{
		tasks: make(chan func(), 256),
		stop:  make(chan chan bool),
	}
	go d.run()
	return d
}

func (d *uiDispatcher) run() {
	for {
		select {
		case fn := <-d.tasks:
			fn()
		case done := <-d.stop:
			done <- true
			return
		}
	}
}

// Dispatch enqueues fn to run on the UI lane. Satisfies
// constellation.Dispatcher.
func (d *uiDispatcher) Dispatch(fn func()) {
	d.tasks <- fn
}

func (d *uiDispatcher) shutdown() {
	done := make(chan bool)
	d.stop <- done
	<-done
}
