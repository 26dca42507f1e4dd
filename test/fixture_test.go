// Package test contains the invariant test suite for the sourcing runtime.
package test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/sourcing-go/application"
	"github.com/felixgeelhaar/sourcing-go/domain/behavior"
	"github.com/felixgeelhaar/sourcing-go/domain/event"
	"github.com/felixgeelhaar/sourcing-go/domain/view"
	journalmem "github.com/felixgeelhaar/sourcing-go/infrastructure/journal/memory"
	"github.com/felixgeelhaar/sourcing-go/infrastructure/resilience"
	viewmem "github.com/felixgeelhaar/sourcing-go/infrastructure/view/memory"
)

// The suite runs against the catalog domain the runtime ships as its
// sample: products with a name, description, and price.

type product struct {
	Name        string
	Description string
	Price       int
}

type createProduct struct {
	Name        string
	Description string
	Price       int
}

type changeName struct {
	Name string
}

type changePrice struct {
	Price int
}

type productCreated struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int    `json:"price"`
}

func (productCreated) EventType() event.Type { return "product.created" }

type nameChanged struct {
	Name string `json:"name"`
}

func (nameChanged) EventType() event.Type { return "product.name_changed" }

type priceChanged struct {
	Price int `json:"price"`
}

func (priceChanged) EventType() event.Type { return "product.price_changed" }

var (
	errPriceTooLow   = errors.New("Price is too low!")
	errPriceDecrease = errors.New("Can't decrease the price")
)

func productBehavior() *behavior.Behavior[product] {
	return behavior.Define[product]().
		WhenConstructing(behavior.Construction[product]{
			Commands: []behavior.CreationClause[product]{
				behavior.Construct[product](func(_ context.Context, c createProduct) behavior.Result {
					if c.Price <= 0 {
						return behavior.Reject(errPriceTooLow)
					}
					return behavior.One(productCreated{Name: c.Name, Description: c.Description, Price: c.Price})
				}),
			},
			Events: []behavior.CreationApplier[product]{
				behavior.InitialState[product](func(f productCreated) product {
					return product{Name: f.Name, Description: f.Description, Price: f.Price}
				}),
			},
		}).
		WhenUpdating(behavior.Update[product]{
			Commands: []behavior.UpdateClause[product]{
				behavior.Handle[product](func(_ context.Context, _ product, c changeName) behavior.Result {
					return behavior.One(nameChanged{Name: c.Name})
				}),
				behavior.Handle[product](func(_ context.Context, s product, c changePrice) behavior.Result {
					if c.Price < s.Price {
						return behavior.Reject(errPriceDecrease)
					}
					return behavior.One(priceChanged{Price: c.Price})
				}),
			},
			Events: []behavior.UpdateApplier[product]{
				behavior.Transition[product](func(s product, f nameChanged) product {
					s.Name = f.Name
					return s
				}),
				behavior.Transition[product](func(s product, f priceChanged) product {
					s.Price = f.Price
					return s
				}),
			},
		}).
		Build()
}

// productView is the read-side shape.
type productView struct {
	Name  string `json:"name"`
	Price int    `json:"price"`
}

// viewProjection derives productView rows from the journal feed,
// idempotent by event id.
type viewProjection struct {
	name string
	repo view.Repository[productView]

	mu      sync.Mutex
	applied map[string]struct{}
}

func newViewProjection(name string, repo view.Repository[productView]) *viewProjection {
	return &viewProjection{name: name, repo: repo, applied: make(map[string]struct{})}
}

func (p *viewProjection) Name() string { return p.name }

func (p *viewProjection) Handle(ctx context.Context, e event.Event) error {
	p.mu.Lock()
	if _, dup := p.applied[e.Meta.EventID]; dup {
		p.mu.Unlock()
		return nil
	}
	p.applied[e.Meta.EventID] = struct{}{}
	p.mu.Unlock()

	switch f := e.Data.(type) {
	case productCreated:
		return p.repo.Save(ctx, e.Meta.AggregateID, productView{Name: f.Name, Price: f.Price})
	case nameChanged:
		return p.repo.UpdateByID(ctx, e.Meta.AggregateID, func(v productView) productView {
			v.Name = f.Name
			return v
		})
	case priceChanged:
		return p.repo.UpdateByID(ctx, e.Meta.AggregateID, func(v productView) productView {
			v.Price = f.Price
			return v
		})
	}
	return nil
}

// runtime bundles the wired fixture.
type runtime struct {
	journal *journalmem.Journal
	manager *application.Manager[product]
	repo    *viewmem.Repository[productView]
	proj    *viewProjection
}

// newRuntime wires a manager, a ProductView projection, and the in-memory
// backend.
func newRuntime(t *testing.T) *runtime {
	t.Helper()

	journal := journalmem.NewJournal()
	repo := viewmem.NewRepository[productView]()
	proj := newViewProjection("ProductView", repo)

	projections, err := application.NewProjections(application.ProjectionsConfig{
		Journal: journal,
		Retry:   resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("NewProjections() error = %v", err)
	}
	if err := projections.Attach(proj, event.Filter{Tags: []string{"product"}}); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		projections.Wait()
	})
	if err := projections.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	manager, err := application.NewManager(application.ManagerConfig[product]{
		Kind:        "product",
		Behavior:    productBehavior(),
		Journal:     journal,
		Projections: projections,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(manager.Close)

	return &runtime{journal: journal, manager: manager, repo: repo, proj: proj}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}
