// Package engine wires components A-G into the actor-shaped owner
// spec §9 calls for: a GridEngine holding Grid, Accountant, Strategy,
// and Reconciler, driving one bot's single-threaded cooperative cycle
// loop (spec §5).
package engine

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"gridmm/internal/accountant"
	"gridmm/internal/exchange"
	"gridmm/internal/grid"
	"gridmm/internal/metrics"
	"gridmm/internal/money"
	"gridmm/internal/reconcile"
	"gridmm/internal/recovery"
	"gridmm/internal/store"
	"gridmm/internal/strategy"
	"gridmm/pkg/logging"
)

// eventKind is the engine's internal notification channel (spec §9:
// "Where a subsystem needs to notify another... use a typed event
// channel owned by the engine, drained inside the actor loop").
type eventKind int

const (
	eventDrift eventKind = iota
	eventBroadcastFailure
)

type engineEvent struct {
	kind   eventKind
	detail string
}

// Params bundles the engine's static, session-fixed configuration.
type Params struct {
	BotKey       string
	Pair         money.Pair
	NativeAsset  string
	Window       strategy.WindowConfig
	Weight       strategy.SideFloat
	Increment    float64
	DryRun       bool
	CycleInterval time.Duration
}

// GridEngine owns one bot's grid, funds, and planning subsystems.
// Subsystems are passed by explicit parameter, never via stored
// back-references (spec §9 "Cyclic references").
type GridEngine struct {
	params Params

	grid        *grid.Grid
	accountant  *accountant.Accountant
	strategy    *strategy.Strategy
	reconciler  *reconcile.Reconciler
	broadcaster *reconcile.Broadcaster
	recoveryC   *recovery.Coordinator
	client      exchange.Client
	store       *store.SQLiteStore
	metrics     *metrics.Registry
	logger      logging.Logger

	events chan engineEvent

	// fillProcessing serializes fill ingestion so at most one cycle is
	// in flight (spec §5 "Fill-processing lock").
	fillProcessing chan struct{}
}

// New constructs a GridEngine from already-built subsystems.
func New(
	params Params,
	g *grid.Grid,
	acct *accountant.Accountant,
	strat *strategy.Strategy,
	reconciler *reconcile.Reconciler,
	broadcaster *reconcile.Broadcaster,
	recoveryC *recovery.Coordinator,
	client exchange.Client,
	st *store.SQLiteStore,
	reg *metrics.Registry,
	logger logging.Logger,
) *GridEngine {
	return &GridEngine{
		params:         params,
		grid:           g,
		accountant:     acct,
		strategy:       strat,
		reconciler:     reconciler,
		broadcaster:    broadcaster,
		recoveryC:      recoveryC,
		client:         client,
		store:          st,
		metrics:        reg,
		logger:         logger.WithField("bot", params.BotKey),
		events:         make(chan engineEvent, 16),
		fillProcessing: make(chan struct{}, 1),
	}
}

// Run drives the actor loop until ctx is cancelled: a fill listener
// goroutine, a cycle timer goroutine, and event draining, all
// supervised by an errgroup (spec §5 "no parallelism inside one bot's
// grid state" — concurrency here is only between I/O-bound listeners;
// all grid/fund mutation happens on cycle boundaries).
func (e *GridEngine) Run(ctx context.Context) error {
	grp, ctx := errgroup.WithContext(ctx)

	fills, err := e.client.Fills(ctx)
	if err != nil {
		return err
	}

	var pendingFills []strategy.FillEvent
	fillsMu := make(chan struct{}, 1)
	fillsMu <- struct{}{}

	grp.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case f, ok := <-fills:
				if !ok {
					return nil
				}
				<-fillsMu
				pendingFills = append(pendingFills, e.translateFill(f))
				fillsMu <- struct{}{}
			}
		}
	})

	grp.Go(func() error {
		ticker := time.NewTicker(e.cycleInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				<-fillsMu
				batch := pendingFills
				pendingFills = nil
				fillsMu <- struct{}{}

				if err := e.runCycle(ctx, batch); err != nil {
					e.logger.Error("cycle failed", "error", err)
				}
			case ev := <-e.events:
				e.handleEvent(ctx, ev)
			}
		}
	})

	return grp.Wait()
}

func (e *GridEngine) cycleInterval() time.Duration {
	if e.params.CycleInterval <= 0 {
		return 5 * time.Second
	}
	return e.params.CycleInterval
}

func (e *GridEngine) translateFill(f exchange.Fill) strategy.FillEvent {
	side := grid.SELL
	if f.ReceivesAssetID == e.params.Pair.B.ID {
		side = grid.BUY
	}
	return strategy.FillEvent{Side: side, IsPartial: f.IsPartial}
}

// runCycle is the single-in-flight unit of work per spec §5
// "Fill-processing lock": ingest fills, recalc funds, plan, commit,
// broadcast.
func (e *GridEngine) runCycle(ctx context.Context, fills []strategy.FillEvent) error {
	select {
	case e.fillProcessing <- struct{}{}:
		defer func() { <-e.fillProcessing }()
	default:
		return nil // a cycle is already in flight; this tick is absorbed by the next one
	}

	e.accountant.Recalculate(e.grid)
	funds := e.accountant.Funds()

	if violations := e.accountant.DriftCheck(); len(violations) > 0 {
		e.notify(eventDrift, "fund ledger drift detected")
	}

	plan, err := e.strategy.Rebalance(e.grid, funds, fills, strategy.Params{
		Window:           e.params.Window,
		Weight:           e.params.Weight,
		IncrementPercent: e.params.Increment,
		NativeAssetID:    e.params.NativeAsset,
	})
	if err != nil {
		return err
	}
	if plan.Empty() {
		if e.metrics != nil {
			e.metrics.CyclesTotal.WithLabelValues(e.params.BotKey).Inc()
		}
		return nil
	}

	working := reconcile.NewWorkingGrid(e.grid)
	if err := working.ProjectPlan(plan); err != nil {
		return err
	}

	if ok, shortfall := reconcile.ValidateFunds(working, funds); !ok {
		e.logger.Warn("plan rejected: fund shortfall", "shortfall", shortfall)
		if e.metrics != nil {
			e.metrics.PlanRejections.WithLabelValues(e.params.BotKey, string(reconcile.RejectFundShortfall)).Inc()
		}
		return nil
	}

	e.accountant.PauseRecalc()
	defer e.accountant.ResumeRecalc()

	if err := reconcile.Commit(e.grid, working, plan); err != nil {
		if e.metrics != nil {
			if rej, ok := err.(*reconcile.CommitRejection); ok {
				e.metrics.PlanRejections.WithLabelValues(e.params.BotKey, string(rej.Reason)).Inc()
			}
		}
		e.logger.Warn("plan rejected at commit gate", "error", err)
		return nil
	}

	if e.params.DryRun {
		e.logger.Info("dry run: plan committed locally, broadcast skipped", "actions", len(plan.Actions))
		return nil
	}

	results := e.broadcaster.Broadcast(ctx, plan)
	for _, r := range results {
		if r.Err != nil {
			e.notify(eventBroadcastFailure, r.Err.Error())
			continue
		}
		// A confirmed CREATE moves its slot VIRTUAL->ACTIVE with the
		// exchange's id; UPDATE/CANCEL already reached their committed
		// state in the working-grid projection (spec §3
		// Lifecycle, §4.4 plan production).
		if r.Action.Kind == strategy.Create {
			e.grid.ApplyOrderConfirmation(r.Action.SlotID, r.OrderID)
		}
	}

	if e.metrics != nil {
		e.metrics.CyclesTotal.WithLabelValues(e.params.BotKey).Inc()
	}
	return nil
}

func (e *GridEngine) notify(kind eventKind, detail string) {
	select {
	case e.events <- engineEvent{kind: kind, detail: detail}:
	default:
		e.logger.Warn("event channel full, dropping notification", "detail", detail)
	}
}

func (e *GridEngine) handleEvent(ctx context.Context, ev engineEvent) {
	switch ev.kind {
	case eventDrift, eventBroadcastFailure:
		err := e.recoveryC.Attempt(ctx, e.params.BotKey, func(ctx context.Context) error {
			_, err := e.reconciler.Sync(ctx, e.grid, e.params.Window)
			return err
		})
		outcome := "ok"
		if err != nil {
			outcome = "failed"
			e.logger.Error("recovery sync failed", "error", err)
		}
		if e.metrics != nil {
			e.metrics.RecoveryAttempts.WithLabelValues(e.params.BotKey, outcome).Inc()
		}
	}
}
