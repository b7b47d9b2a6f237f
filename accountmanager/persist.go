package accountmanager

import (
	"context"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mozilla-mobile/account-manager-go/accountmanager/fxaclient"
	"github.com/mozilla-mobile/account-manager-go/accountmanager/secretstore"
)

// persistenceCoordinator bridges the handle's persist callback to the
// secret store (spec.md §4.4). Each invocation serializes the live
// handle and writes it on a background context; failures are logged and
// swallowed so the operation that triggered the persist never fails
// because persistence failed.
type persistenceCoordinator struct {
	store secretstore.Store

	writes  prometheus.Counter
	failures prometheus.Counter
}

func newPersistenceCoordinator(store secretstore.Store, reg prometheus.Registerer) *persistenceCoordinator {
	p := &persistenceCoordinator{
		store: store,
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "accountmanager",
			Subsystem: "persist",
			Name:      "writes_total",
			Help:      "Successful persist-store writes.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "accountmanager",
			Subsystem: "persist",
			Name:      "failures_total",
			Help:      "Failed persist-store writes.",
		}),
	}
	reg.MustRegister(p.writes, p.failures)
	return p
}

// installOn registers a persist callback on handle that serializes it and
// writes the blob on a background context, per-call, fire-and-forget.
func (p *persistenceCoordinator) installOn(handle fxaclient.Handle) {
	handle.RegisterPersistCallback(func() {
		go p.persistNow(handle)
	})
}

func (p *persistenceCoordinator) persistNow(handle fxaclient.Handle) {
	blob, err := handle.ToJSON()
	if err != nil {
		log.Printf("accountmanager: persist: serialize failed: %v", err)
		p.failures.Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.store.Write(ctx, blob); err != nil {
		log.Printf("accountmanager: persist: write failed: %v", err)
		p.failures.Inc()
		return
	}
	p.writes.Inc()
}

// clear removes the stored blob, best-effort, used on logout.
func (p *persistenceCoordinator) clear(ctx context.Context) {
	if err := p.store.Clear(ctx); err != nil {
		log.Printf("accountmanager: persist: clear failed: %v", err)
	}
}
