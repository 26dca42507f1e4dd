package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/sourcing-go/application"
	"github.com/felixgeelhaar/sourcing-go/domain/aggregate"
	"github.com/felixgeelhaar/sourcing-go/domain/behavior"
	"github.com/felixgeelhaar/sourcing-go/domain/event"
	journalmem "github.com/felixgeelhaar/sourcing-go/infrastructure/journal/memory"
	viewmem "github.com/felixgeelhaar/sourcing-go/infrastructure/view/memory"
)

// The demo runs a minimal inventory aggregate end-to-end on the in-memory
// backend: create, update, reject, and a projection join.

type demoItem struct {
	Name  string
	Stock int
}

type demoCreate struct {
	Name  string
	Stock int
}

type demoRestock struct {
	By int
}

type demoItemCreated struct {
	Name  string `json:"name"`
	Stock int    `json:"stock"`
}

func (demoItemCreated) EventType() event.Type { return "item.created" }

type demoItemRestocked struct {
	By int `json:"by"`
}

func (demoItemRestocked) EventType() event.Type { return "item.restocked" }

func demoBehavior() *behavior.Behavior[demoItem] {
	return behavior.Define[demoItem]().
		WhenConstructing(behavior.Construction[demoItem]{
			Commands: []behavior.CreationClause[demoItem]{
				behavior.Construct[demoItem](func(_ context.Context, c demoCreate) behavior.Result {
					if c.Stock < 0 {
						return behavior.Reject(fmt.Errorf("stock must not be negative"))
					}
					return behavior.One(demoItemCreated{Name: c.Name, Stock: c.Stock})
				}),
			},
			Events: []behavior.CreationApplier[demoItem]{
				behavior.InitialState[demoItem](func(f demoItemCreated) demoItem {
					return demoItem{Name: f.Name, Stock: f.Stock}
				}),
			},
		}).
		WhenUpdating(behavior.Update[demoItem]{
			Commands: []behavior.UpdateClause[demoItem]{
				behavior.Handle[demoItem](func(_ context.Context, s demoItem, c demoRestock) behavior.Result {
					if c.By <= 0 {
						return behavior.Reject(fmt.Errorf("restock must be positive"))
					}
					return behavior.One(demoItemRestocked{By: c.By})
				}),
			},
			Events: []behavior.UpdateApplier[demoItem]{
				behavior.Transition[demoItem](func(s demoItem, f demoItemRestocked) demoItem {
					s.Stock += f.By
					return s
				}),
			},
		}).
		Build()
}

// demoProjection mirrors items into a view repository.
type demoProjection struct {
	repo *viewmem.Repository[demoItem]
}

func (demoProjection) Name() string { return "item-view" }

func (p demoProjection) Handle(ctx context.Context, e event.Event) error {
	switch f := e.Data.(type) {
	case demoItemCreated:
		return p.repo.Save(ctx, e.Meta.AggregateID, demoItem{Name: f.Name, Stock: f.Stock})
	case demoItemRestocked:
		return p.repo.UpdateByID(ctx, e.Meta.AggregateID, func(v demoItem) demoItem {
			v.Stock += f.By
			return v
		})
	}
	return nil
}

// newDemoCmd creates the demo command.
func (a *App) newDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run the inventory sample end-to-end on the in-memory backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			journal := journalmem.NewJournal()
			repo := viewmem.NewRepository[demoItem]()

			projections, err := application.NewProjections(application.ProjectionsConfig{Journal: journal})
			if err != nil {
				return err
			}
			if err := projections.Attach(demoProjection{repo: repo}, event.Filter{}); err != nil {
				return err
			}
			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			if err := projections.Start(runCtx); err != nil {
				return err
			}

			manager, err := application.NewManager(application.ManagerConfig[demoItem]{
				Kind:        "item",
				Behavior:    demoBehavior(),
				Journal:     journal,
				Projections: projections,
			})
			if err != nil {
				return err
			}
			defer manager.Close()

			events, err := manager.AskJoin(ctx, aggregate.NewEnvelope("I1", demoCreate{Name: "widget", Stock: 10}),
				"item-view", application.AllEvents(), 5*time.Second)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "created I1: %d event(s) committed and projected\n", len(events))

			if _, err := manager.Ask(ctx, aggregate.NewEnvelope("I1", demoRestock{By: 5})); err != nil {
				return err
			}
			if _, err := manager.Ask(ctx, aggregate.NewEnvelope("I1", demoRestock{By: -1})); err != nil {
				fmt.Fprintf(a.stdout, "restock by -1 rejected: %v\n", err)
			}

			state, err := manager.State(ctx, "I1")
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "write-side state: %+v\n", state)

			deadline := time.Now().Add(5 * time.Second)
			for {
				v, err := repo.Find(ctx, "I1")
				if err == nil && v.Stock == state.Stock {
					fmt.Fprintf(a.stdout, "read-side view:   %+v\n", v)
					return nil
				}
				if time.Now().After(deadline) {
					return fmt.Errorf("view did not catch up")
				}
				time.Sleep(10 * time.Millisecond)
			}
		},
	}
}
