package ledger

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/OKaluzny/wallet-custody/pkg/models"
)

// Observer receives every accepted transition, once.
type Observer interface {
	OnTransactionUpdate(rec models.TransactionRecord)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(models.TransactionRecord)

func (f ObserverFunc) OnTransactionUpdate(rec models.TransactionRecord) { f(rec) }

// Subscription identifies a registered observer.
type Subscription uuid.UUID

func (s Subscription) String() string { return uuid.UUID(s).String() }

type subscriber struct {
	ctx context.Context
	obs Observer
}

// observers is the concurrency-safe observer set. An observer whose context
// is done is dead and is dropped on the next dispatch.
type observers struct {
	mu   sync.RWMutex
	subs map[Subscription]subscriber
}

func (o *observers) add(ctx context.Context, obs Observer) Subscription {
	sub := Subscription(uuid.New())
	o.mu.Lock()
	o.subs[sub] = subscriber{ctx: ctx, obs: obs}
	o.mu.Unlock()
	return sub
}

func (o *observers) remove(sub Subscription) {
	o.mu.Lock()
	delete(o.subs, sub)
	o.mu.Unlock()
}

func (o *observers) len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.subs)
}

func (o *observers) dispatch(rec models.TransactionRecord) {
	var live []Observer
	var dead []Subscription

	o.mu.RLock()
	for sub, s := range o.subs {
		if s.ctx.Err() != nil {
			dead = append(dead, sub)
			continue
		}
		live = append(live, s.obs)
	}
	o.mu.RUnlock()

	if len(dead) > 0 {
		o.mu.Lock()
		for _, sub := range dead {
			delete(o.subs, sub)
		}
		o.mu.Unlock()
	}

	for _, obs := range live {
		obs.OnTransactionUpdate(rec)
	}
}
