// Command product demonstrates the runtime on a small catalog domain:
// commands validated against folded state, a projection deriving a
// read-side view, and a projection join coupling the two.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/felixgeelhaar/sourcing-go/application"
	"github.com/felixgeelhaar/sourcing-go/domain/aggregate"
	"github.com/felixgeelhaar/sourcing-go/domain/behavior"
	"github.com/felixgeelhaar/sourcing-go/domain/event"
	journalmem "github.com/felixgeelhaar/sourcing-go/infrastructure/journal/memory"
	viewmem "github.com/felixgeelhaar/sourcing-go/infrastructure/view/memory"
)

// Write-side state.

type Product struct {
	Name        string
	Description string
	Price       int
}

// Commands.

type CreateProduct struct {
	Name        string
	Description string
	Price       int
}

type ChangeName struct {
	Name string
}

type ChangePrice struct {
	Price int
}

// Events.

type ProductCreated struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int    `json:"price"`
}

func (ProductCreated) EventType() event.Type { return "product.created" }

type NameChanged struct {
	Name string `json:"name"`
}

func (NameChanged) EventType() event.Type { return "product.name_changed" }

type PriceChanged struct {
	Price int `json:"price"`
}

func (PriceChanged) EventType() event.Type { return "product.price_changed" }

var (
	errPriceTooLow   = errors.New("Price is too low!")
	errPriceDecrease = errors.New("Can't decrease the price")
)

// ProductBehavior declares how commands become events and how events fold
// into state.
func ProductBehavior() *behavior.Behavior[Product] {
	return behavior.Define[Product]().
		WhenConstructing(behavior.Construction[Product]{
			Commands: []behavior.CreationClause[Product]{
				behavior.Construct[Product](func(_ context.Context, c CreateProduct) behavior.Result {
					if c.Price <= 0 {
						return behavior.Reject(errPriceTooLow)
					}
					return behavior.One(ProductCreated{Name: c.Name, Description: c.Description, Price: c.Price})
				}),
			},
			Events: []behavior.CreationApplier[Product]{
				behavior.InitialState[Product](func(f ProductCreated) Product {
					return Product{Name: f.Name, Description: f.Description, Price: f.Price}
				}),
			},
		}).
		WhenUpdating(behavior.Update[Product]{
			Commands: []behavior.UpdateClause[Product]{
				behavior.Handle[Product](func(_ context.Context, _ Product, c ChangeName) behavior.Result {
					return behavior.One(NameChanged{Name: c.Name})
				}),
				behavior.Handle[Product](func(_ context.Context, s Product, c ChangePrice) behavior.Result {
					if c.Price < s.Price {
						return behavior.Reject(errPriceDecrease)
					}
					return behavior.One(PriceChanged{Price: c.Price})
				}),
			},
			Events: []behavior.UpdateApplier[Product]{
				behavior.Transition[Product](func(s Product, f NameChanged) Product {
					s.Name = f.Name
					return s
				}),
				behavior.Transition[Product](func(s Product, f PriceChanged) Product {
					s.Price = f.Price
					return s
				}),
			},
		}).
		Build()
}

// ProductView is the read-side shape.
type ProductView struct {
	Name  string `json:"name"`
	Price int    `json:"price"`
}

// viewProjection keeps the view repository in sync with the journal.
type viewProjection struct {
	repo *viewmem.Repository[ProductView]
}

func (viewProjection) Name() string { return "ProductView" }

func (p viewProjection) Handle(ctx context.Context, e event.Event) error {
	switch f := e.Data.(type) {
	case ProductCreated:
		return p.repo.Save(ctx, e.Meta.AggregateID, ProductView{Name: f.Name, Price: f.Price})
	case NameChanged:
		return p.repo.UpdateByID(ctx, e.Meta.AggregateID, func(v ProductView) ProductView {
			v.Name = f.Name
			return v
		})
	case PriceChanged:
		return p.repo.UpdateByID(ctx, e.Meta.AggregateID, func(v ProductView) ProductView {
			v.Price = f.Price
			return v
		})
	}
	return nil
}

func main() {
	ctx := context.Background()

	journal := journalmem.NewJournal()
	repo := viewmem.NewRepository[ProductView]()

	projections, err := application.NewProjections(application.ProjectionsConfig{Journal: journal})
	if err != nil {
		log.Fatal(err)
	}
	if err := projections.Attach(viewProjection{repo: repo}, event.Filter{Tags: []string{"product"}}); err != nil {
		log.Fatal(err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := projections.Start(runCtx); err != nil {
		log.Fatal(err)
	}

	manager, err := application.NewManager(application.ManagerConfig[Product]{
		Kind:        "product",
		Behavior:    ProductBehavior(),
		Journal:     journal,
		Projections: projections,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer manager.Close()

	// Create, then read the write side.
	if _, err := manager.Ask(ctx, aggregate.NewEnvelope("P1", CreateProduct{Name: "a", Description: "d", Price: 10})); err != nil {
		log.Fatal(err)
	}
	state, err := manager.State(ctx, "P1")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("P1 state: %+v\n", state)

	// A creation below the price floor leaves nothing behind.
	if _, err := manager.Ask(ctx, aggregate.NewEnvelope("P2", CreateProduct{Name: "a", Description: "d", Price: 0})); err != nil {
		fmt.Printf("P2 rejected: %v\n", err)
	}
	exists, _ := manager.Exists(ctx, "P2")
	fmt.Printf("P2 exists: %v\n", exists)

	// Price can only go up.
	if _, err := manager.Ask(ctx, aggregate.NewEnvelope("P1", ChangePrice{Price: 5})); err != nil {
		fmt.Printf("price change rejected: %v\n", err)
	}
	if _, err := manager.Ask(ctx, aggregate.NewEnvelope("P1", ChangeName{Name: "b"})); err != nil {
		log.Fatal(err)
	}

	// The join completes only after the view holds the write.
	if _, err := manager.AskJoin(ctx, aggregate.NewEnvelope("P3", CreateProduct{Name: "x", Description: "y", Price: 7}),
		"ProductView", application.AllEvents(), 5*time.Second); err != nil {
		log.Fatal(err)
	}
	v, err := repo.Find(ctx, "P3")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("P3 view after join: %+v\n", v)
}
