package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"gridmm/internal/accountant"
	"gridmm/internal/config"
	"gridmm/internal/engine"
	"gridmm/internal/exchange"
	"gridmm/internal/feetable"
	"gridmm/internal/grid"
	"gridmm/internal/metrics"
	"gridmm/internal/money"
	"gridmm/internal/oracle"
	"gridmm/internal/reconcile"
	"gridmm/internal/recovery"
	"gridmm/internal/store"
	"gridmm/internal/strategy"
	"gridmm/pkg/logging"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/gridbot.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("gridbot version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Info("starting gridbot", "version", version, "bot_key", cfg.System.BotKey, "pair", cfg.Pair.AssetA+"/"+cfg.Pair.AssetB)

	pair := money.Pair{
		A: money.Asset{ID: cfg.Pair.AssetA, Symbol: cfg.Pair.AssetA, Precision: cfg.Pair.PrecisionA},
		B: money.Asset{ID: cfg.Pair.AssetB, Symbol: cfg.Pair.AssetB, Precision: cfg.Pair.PrecisionB},
	}

	fees := feetable.New()
	fees.Set(feetable.AssetFees{Asset: pair.A, MakerFeePercent: decimal.NewFromFloat(0.1), TakerFeePercent: decimal.NewFromFloat(0.3)})
	fees.Set(feetable.AssetFees{Asset: pair.B, MakerFeePercent: decimal.NewFromFloat(0.1), TakerFeePercent: decimal.NewFromFloat(0.3)})
	fees.Freeze()

	st, err := store.Open(cfg.System.SnapshotPath)
	if err != nil {
		logger.Fatal("failed to open snapshot store", "error", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("error closing snapshot store", "error", err)
		}
	}()

	client := buildExchangeClient(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, dryRunFromSnapshot, err := buildOrRestoreGrid(ctx, cfg, pair, client, st)
	if err != nil {
		logger.Fatal("failed to build grid", "error", err)
	}

	acct := accountant.New(pair, fees, pair.A.ID, 0, logger)
	seedChainTotals(ctx, acct, pair, cfg, client, logger)

	strat := strategy.New(logger)
	reconciler := reconcile.NewReconciler(client, st, logger)
	broadcaster := reconcile.NewBroadcaster(client, pair, logger)
	recoveryC := recovery.New(recovery.Config{
		MaxAttemptsPerCycle: cfg.Concurrency.MaxRecoveryAttempts,
		Cooldown:            time.Duration(cfg.Timing.RecoveryCooldownSeconds) * time.Second,
		DecayWindow:         time.Duration(cfg.Timing.RecoveryDecaySeconds) * time.Second,
	}, logger)

	registry := prometheus.NewRegistry()
	metricsReg := metrics.New(registry)
	if cfg.Telemetry.EnableMetrics {
		startMetricsServer(cfg.Telemetry.MetricsPort, registry, logger)
	}

	dryRun := cfg.Grid.DryRun || dryRunFromSnapshot
	eng := engine.New(engine.Params{
		BotKey:        cfg.System.BotKey,
		Pair:          pair,
		NativeAsset:   pair.A.ID,
		Window:        cfg.Grid.ActiveOrders,
		Weight:        cfg.Grid.WeightDistribution,
		Increment:     cfg.Grid.IncrementPercent,
		DryRun:        dryRun,
		CycleInterval: time.Duration(cfg.Timing.CycleIntervalSeconds) * time.Second,
	}, g, acct, strat, reconciler, broadcaster, recoveryC, client, st, metricsReg, logger)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run(sigCtx) }()

	select {
	case <-sigCtx.Done():
		logger.Info("shutdown signal received, stopping engine")
	case err := <-runErr:
		if err != nil && err != context.Canceled {
			logger.Error("engine stopped with error", "error", err)
		}
	}

	if cfg.System.CancelOnExit {
		cancelAllOnExit(g, client, logger)
	}

	if closer, ok := client.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("error closing exchange client", "error", err)
		}
	}

	persistSnapshot(context.Background(), st, g, cfg, dryRun, logger)
	logger.Info("gridbot stopped")
}

// buildExchangeClient returns the simulated paper-trading client,
// started with no balances and wrapped in exchange.NewRetryingClient.
// It does so for every configuration, dry-run or not; no live exchange
// client is built here.
func buildExchangeClient(cfg *config.Config, logger logging.Logger) exchange.Client {
	sim := exchange.NewSimulatedClient(nil)
	return exchange.NewRetryingClient(sim, 25, 25, logger)
}

// buildOrRestoreGrid loads a persisted snapshot for this bot key if one
// exists, otherwise derives start/min/max prices and builds a fresh
// grid (spec §6 price_mode resolution, §4.1 BuildGrid).
func buildOrRestoreGrid(ctx context.Context, cfg *config.Config, pair money.Pair, client exchange.Client, st *store.SQLiteStore) (*grid.Grid, bool, error) {
	snap, err := st.LoadGridSnapshot(ctx, cfg.System.BotKey)
	if err != nil {
		return nil, false, fmt.Errorf("load snapshot: %w", err)
	}
	if snap != nil {
		g, err := gridFromSnapshot(pair, snap, cfg)
		if err != nil {
			return nil, false, fmt.Errorf("restore snapshot: %w", err)
		}
		return g, snap.DryRun, nil
	}

	startPrice, err := resolveStartPrice(ctx, cfg, client)
	if err != nil {
		return nil, false, fmt.Errorf("resolve start_price: %w", err)
	}
	minPrice, err := resolveBoundPrice(cfg.Grid.MinPrice, startPrice, true)
	if err != nil {
		return nil, false, fmt.Errorf("resolve min_price: %w", err)
	}
	maxPrice, err := resolveBoundPrice(cfg.Grid.MaxPrice, startPrice, false)
	if err != nil {
		return nil, false, fmt.Errorf("resolve max_price: %w", err)
	}

	g, err := grid.BuildGrid(pair, startPrice, minPrice, maxPrice,
		decimal.NewFromFloat(cfg.Grid.IncrementPercent), decimal.NewFromFloat(cfg.Grid.TargetSpreadPercent))
	if err != nil {
		return nil, false, fmt.Errorf("build grid: %w", err)
	}
	return g, cfg.Grid.DryRun, nil
}

// resolveStartPrice resolves a literal start_price, or derives one via
// the price oracle when start_price requests pool/market/auto mode.
func resolveStartPrice(ctx context.Context, cfg *config.Config, client exchange.Client) (decimal.Decimal, error) {
	switch cfg.Grid.StartPrice {
	case "pool", "market", "auto":
		src := orderBookSource{client: client}
		p, err := oracle.DerivePrice(ctx, src, cfg.Pair.AssetA, cfg.Pair.AssetB, oracle.Mode(cfg.Grid.PriceMode))
		if err != nil {
			return decimal.Zero, err
		}
		return p, nil
	default:
		return decimal.RequireFromString(cfg.Grid.StartPrice), nil
	}
}

// resolveBoundPrice resolves min_price/max_price: a literal number, or
// an "Nx" multiplier of the resolved start_price (e.g. "3x" means
// 3*start_price for max, start_price/3 for min).
func resolveBoundPrice(token string, startPrice decimal.Decimal, isMin bool) (decimal.Decimal, error) {
	if strings.HasSuffix(strings.ToLower(token), "x") {
		n, err := strconv.ParseFloat(strings.TrimSuffix(strings.ToLower(token), "x"), 64)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid multiplier token %q: %w", token, err)
		}
		mult := decimal.NewFromFloat(n)
		if isMin {
			return startPrice.Div(mult), nil
		}
		return startPrice.Mul(mult), nil
	}
	return decimal.RequireFromString(token), nil
}

// orderBookSource adapts exchange.Client's open-order book to the
// oracle.Source interface. Pool-reserve derivation is unsupported
// without an AMM-aware exchange collaborator, so pool mode always
// fails over to market mode under ModeAuto.
type orderBookSource struct {
	client exchange.Client
}

func (s orderBookSource) PoolReserves(ctx context.Context, assetA, assetB string) (oracle.PoolReserves, error) {
	return oracle.PoolReserves{}, fmt.Errorf("orderBookSource: pool reserves unsupported")
}

func (s orderBookSource) OrderBookTop(ctx context.Context, assetA, assetB string) (oracle.OrderBookTop, error) {
	orders, err := s.client.ReadOpenOrders(ctx)
	if err != nil {
		return oracle.OrderBookTop{}, err
	}
	if len(orders) == 0 {
		return oracle.OrderBookTop{}, nil
	}
	var bestBid, bestAsk decimal.Decimal
	for _, o := range orders {
		p, err := decimal.NewFromString(o.Price)
		if err != nil {
			continue
		}
		// A BUY order sells B to acquire A; a SELL order sells A to
		// acquire B (spec §3) — SellAsset distinguishes book side here
		// since OpenOrder.Side is the accounting side, not BUY/SELL.
		if o.SellAsset == assetB && p.GreaterThan(bestBid) {
			bestBid = p
		}
		if o.SellAsset == assetA && (bestAsk.IsZero() || p.LessThan(bestAsk)) {
			bestAsk = p
		}
	}
	return oracle.OrderBookTop{BestBid: bestBid, BestAsk: bestAsk, HasBook: !bestBid.IsZero() && !bestAsk.IsZero()}, nil
}

func gridFromSnapshot(pair money.Pair, snap *store.Snapshot, cfg *config.Config) (*grid.Grid, error) {
	slots := make([]*grid.Slot, len(snap.Slots))
	for i, ss := range snap.Slots {
		price, err := decimal.NewFromString(ss.Price)
		if err != nil {
			return nil, fmt.Errorf("slot %d: bad price %q: %w", i, ss.Price, err)
		}
		slots[i] = &grid.Slot{
			ID:              ss.ID,
			Price:           price,
			Type:            parseSlotType(ss.Type),
			State:           parseSlotState(ss.State),
			Size:            money.Amount(ss.Size),
			ExchangeOrderID: ss.ExchangeOrderID,
		}
	}
	// Gap is re-derived from configured geometry rather than persisted:
	// it is a pure function of increment/spread, not session state.
	gap := grid.GapSize(decimal.NewFromFloat(cfg.Grid.TargetSpreadPercent), decimal.NewFromFloat(cfg.Grid.IncrementPercent))
	return grid.New(pair, slots, snap.BoundaryIndex, gap), nil
}

func parseSlotType(s string) grid.Type {
	switch s {
	case "BUY":
		return grid.BUY
	case "SELL":
		return grid.SELL
	default:
		return grid.SPREAD
	}
}

func parseSlotState(s string) grid.State {
	switch s {
	case "ACTIVE":
		return grid.ACTIVE
	case "PARTIAL":
		return grid.PARTIAL
	default:
		return grid.VIRTUAL
	}
}

func snapshotFromGrid(g *grid.Grid, cfg *config.Config, dryRun bool) store.Snapshot {
	g.RLock()
	defer g.RUnlock()

	slots := make([]store.SlotSnapshot, len(g.Slots))
	for i, s := range g.Slots {
		slots[i] = store.SlotSnapshot{
			ID:              s.ID,
			Price:           s.Price.String(),
			Type:            s.Type.String(),
			State:           s.State.String(),
			Size:            int64(s.Size),
			ExchangeOrderID: s.ExchangeOrderID,
		}
	}
	return store.Snapshot{
		BotKey:        cfg.System.BotKey,
		Slots:         slots,
		BoundaryIndex: g.BoundaryIndex,
		AssetA:        cfg.Pair.AssetA,
		AssetB:        cfg.Pair.AssetB,
		PrecisionA:    cfg.Pair.PrecisionA,
		PrecisionB:    cfg.Pair.PrecisionB,
		DryRun:        dryRun,
		Version:       g.Version,
		WrittenAtUnix: time.Now().Unix(),
	}
}

// seedChainTotals reads the authoritative wallet balance per side, then
// caps it at the configured bot_funds allocation (an absolute amount or
// a "P%" share of the free balance) so this bot never commits capital
// outside its configured allowance.
func seedChainTotals(ctx context.Context, acct *accountant.Accountant, pair money.Pair, cfg *config.Config, client exchange.Client, logger logging.Logger) {
	sides := []struct {
		s     money.Side
		ast   money.Asset
		token string
	}{
		{money.SideA, pair.A, cfg.Funds.Sell}, // SideA (asset A) capital backs SELL orders
		{money.SideB, pair.B, cfg.Funds.Buy},  // SideB (asset B) capital backs BUY orders
	}
	for _, side := range sides {
		totals, err := client.ReadAccountTotals(ctx, side.ast.ID)
		if err != nil {
			logger.Warn("failed to read account totals at startup", "asset", side.ast.ID, "error", err)
			continue
		}
		allocated, err := resolveFundsAllocation(side.token, totals.Free, side.ast.Precision)
		if err != nil {
			logger.Warn("invalid bot_funds token, falling back to full free balance", "asset", side.ast.ID, "error", err)
			allocated = totals.Free
		}
		if allocated > totals.Free {
			allocated = totals.Free
		}
		acct.SetChainTotals(side.s, allocated, allocated)
	}
}

// resolveFundsAllocation resolves a bot_funds token (absolute display
// amount or "P%" of free balance) to a capital ceiling in integer
// precision units.
func resolveFundsAllocation(token string, free money.Amount, precision int) (money.Amount, error) {
	if strings.HasSuffix(token, "%") {
		pct, err := strconv.ParseFloat(strings.TrimSuffix(token, "%"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid percentage token %q: %w", token, err)
		}
		return money.Amount(float64(free) * pct / 100), nil
	}
	abs, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid absolute token %q: %w", token, err)
	}
	return money.FloatToAmount(abs, precision)
}

func cancelAllOnExit(g *grid.Grid, client exchange.Client, logger logging.Logger) {
	g.RLock()
	ids := make([]string, 0)
	for _, s := range g.Slots {
		if s.State.IsOnBook() && s.ExchangeOrderID != "" {
			ids = append(ids, s.ExchangeOrderID)
		}
	}
	g.RUnlock()

	for _, id := range ids {
		if err := client.CancelOrder(context.Background(), id); err != nil {
			logger.Warn("cancel_on_exit: failed to cancel order", "order_id", id, "error", err)
		}
	}
}

func persistSnapshot(ctx context.Context, st *store.SQLiteStore, g *grid.Grid, cfg *config.Config, dryRun bool, logger logging.Logger) {
	snap := snapshotFromGrid(g, cfg, dryRun)
	if err := st.StoreGridSnapshot(ctx, snap); err != nil {
		logger.Error("failed to persist final snapshot", "error", err)
	}
}

func startMetricsServer(port int, registry *prometheus.Registry, logger logging.Logger) {
	if port == 0 {
		port = 9090
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		logger.Info("metrics server listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
}
