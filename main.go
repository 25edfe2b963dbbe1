package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"executor-core/internal/account"
	"executor-core/internal/api"
	"executor-core/internal/audit"
	"executor-core/internal/emergency"
	"executor-core/internal/events"
	"executor-core/internal/market"
	"executor-core/internal/monitor"
	"executor-core/internal/notify"
	"executor-core/internal/order"
	"executor-core/internal/risk"
	"executor-core/internal/strategy"
	"executor-core/internal/transport"
	"executor-core/pkg/config"
	"executor-core/pkg/db"
	"executor-core/pkg/identity"
)

// storeAdapter bridges pkg/db to the audit writer's Store interface.
type storeAdapter struct {
	db *db.Database
}

func (a storeAdapter) InsertAudit(kind string, payload any) error {
	return a.db.InsertAudit(kind, payload)
}

func (a storeAdapter) UpsertCommand(row audit.CommandRow) error {
	return a.db.UpsertCommand(db.CommandRow{
		ID:         row.ID,
		StrategyID: row.StrategyID,
		Type:       row.Type,
		Symbol:     row.Symbol,
		Side:       row.Side,
		Lots:       row.Lots,
		Priority:   row.Priority,
		Status:     row.Status,
		RetryCount: row.RetryCount,
		LastError:  row.LastError,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	})
}

func (a storeAdapter) InsertSafetyRejection(strategyID, reason, detail string) error {
	return a.db.InsertSafetyRejection(strategyID, reason, detail)
}

func (a storeAdapter) InsertEmergencyEvent(state, reason, severity string, at time.Time) error {
	return a.db.InsertEmergencyEvent(state, reason, severity, at)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	instanceID := identity.InstanceID()
	version := os.Getenv("APP_VERSION")
	if version == "" {
		version = "v1.0-dev"
	}
	log.Printf("executor-core %s starting (instance %.12s, port %s)", version, instanceID, cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}
	defer database.Close()

	auditor := audit.NewWriter(storeAdapter{db: database}, 1024)
	go auditor.Run(ctx)
	unsubAudit := auditor.ForwardBus(bus)
	defer unsubAudit()

	// Market data and transport
	var source market.DataSource
	var trans order.Transport
	var terminal account.TerminalClient

	if cfg.UseMockFeed || cfg.DryRun {
		mock := market.NewMockSource(1.1000, 0.0003)
		if cfg.MockSeed != 0 {
			mock.Seed(cfg.MockSeed)
		}
		mock.Prewarm(cfg.MockSymbols, market.M15, 200)
		source = mock
		trans = &transport.Mock{}
		log.Printf("using mock feed and transport (dry run, %d symbols, seed %d)",
			len(cfg.MockSymbols), cfg.MockSeed)
	} else {
		bridge := transport.NewBridge(cfg.BridgeURL)
		defer bridge.Close()
		source = bridge
		trans = bridge
		terminal = bridge
		log.Printf("using terminal bridge at %s", cfg.BridgeURL)
	}

	// Account snapshots
	accounts := account.NewManager(terminal, bus, time.Duration(cfg.AccountRefreshSec)*time.Second)
	if terminal == nil {
		accounts.SetSnapshot(account.Snapshot{
			Balance:    cfg.DryRunInitialBalance,
			Equity:     cfg.DryRunInitialBalance,
			FreeMargin: cfg.DryRunInitialBalance,
			Currency:   "USD",
			SyncedAt:   time.Now(),
		})
		log.Printf("account initialized with dry-run balance %.2f", cfg.DryRunInitialBalance)
	} else {
		accounts.Start(ctx)
	}

	// Safety gate
	limits := risk.Limits{
		MaxDailyLoss:        cfg.MaxDailyLoss,
		MaxDailyLossPercent: cfg.MaxDailyLossPercent,
		MaxDrawdownPercent:  cfg.MaxDrawdownPercent,
		MaxPositions:        cfg.MaxPositions,
		MaxLotSize:          cfg.MaxLotSize,
		MaxTotalExposure:    cfg.MaxTotalExposure,
		MaxCorrelation:      cfg.MaxCorrelation,
		EventBlackoutHard:   cfg.EventBlackoutHard,
		EventPauseBeforeMin: 30,
		EventPauseAfterMin:  30,
		EventHighImpactOnly: true,
	}
	if err := limits.Validate(); err != nil {
		log.Fatalf("invalid risk limits: %v", err)
	}
	calendar := risk.NewCalendar(cfg.CalendarFeedURL)
	correlator := &risk.BarCorrelator{Source: source}
	validator := risk.NewValidator(limits, calendar, correlator, source)

	// Command flow
	queue := order.NewQueue(cfg.QueueCapacity, bus)

	// Emergency stop; the registry is wired in right after construction
	// since the two reference each other.
	emCfg := emergency.Config{
		DailyLossTrigger:       cfg.EmergencyDailyLoss,
		DrawdownTrigger:        cfg.EmergencyDrawdown,
		ConsecutiveLossTrigger: cfg.EmergencyLossStreak,
		CycleErrorRateTrigger:  cfg.EmergencyCycleErrors,
	}
	em := emergency.NewController(emCfg, bus, queue, validator, nil, auditor)

	// Strategy monitors
	registry := strategy.NewRegistry(ctx, strategy.Deps{
		Source:    source,
		Validator: validator,
		Queue:     queue,
		Accounts:  accounts,
		Gate:      em,
		Bus:       bus,
	})
	em.SetHalter(registry)

	dispatcher := order.NewDispatcher(queue, trans, em, validator, bus)
	go dispatcher.Run(ctx)

	// Feed account snapshots into the automatic emergency monitors.
	accountStream, unsubAccount := bus.Subscribe(events.EventAccountUpdate, 64)
	defer unsubAccount()
	go func() {
		for msg := range accountStream {
			if snap, ok := msg.(account.Snapshot); ok {
				em.Observe(snap)
			}
		}
	}()

	// Notifications
	forwarder := notify.NewForwarder(notify.LogNotifier{})
	unsubNotify := forwarder.Attach(bus)
	defer unsubNotify()

	// Metrics
	registryProm := prometheus.NewRegistry()
	metrics := monitor.NewMetrics(registryProm)
	go metrics.Collect(ctx, bus, queue, registry, em)

	// Strategies from file, if configured
	if cfg.StrategyFile != "" {
		defs, err := strategy.LoadFile(cfg.StrategyFile)
		if err != nil {
			log.Fatalf("strategy file load failed: %v", err)
		}
		for _, def := range defs {
			if err := registry.Start(def); err != nil {
				log.Printf("strategy %s: start failed: %v", def.ID, err)
				continue
			}
		}
		log.Printf("loaded %d strategies from %s", len(defs), cfg.StrategyFile)
	}

	// Control plane
	server := api.NewServer(bus, database, registry, validator, accounts, em, queue,
		registryProm, api.SystemMeta{
			InstanceID:  instanceID,
			DryRun:      cfg.DryRun,
			UseMockFeed: cfg.UseMockFeed,
			Version:     version,
		}, cfg.JWTSecret, cfg.AdminUser, cfg.AdminPassHash)

	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server failed: %v", err)
		}
	}()

	// Shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received %s, shutting down", sig)

	// Halting enqueues the close-out commands, closing the queue lets the
	// dispatcher drain them, and only then is the context cancelled.
	registry.HaltAll("shutdown")
	queue.Close()
	select {
	case <-dispatcher.Done():
	case <-time.After(10 * time.Second):
		log.Printf("dispatcher drain timed out")
	}
	cancel()
	<-auditor.Done()
	log.Printf("shutdown complete")
}
