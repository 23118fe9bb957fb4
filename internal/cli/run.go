package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"okx-core/internal/api"
	"okx-core/internal/balance"
	"okx-core/internal/events"
	"okx-core/internal/monitor"
	"okx-core/internal/order"
	"okx-core/internal/reconciliation"
	"okx-core/internal/risk"
	"okx-core/internal/strategy"
	"okx-core/pkg/exchanges/common"
	"okx-core/pkg/exchanges/okx"
)

const (
	requestTimeout = 15 * time.Second
	warmupCandles  = 100
)

var forceOwner bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the trading daemon",
	Long: `Start the daemon: reconcile pending orders, subscribe to the private and candle
streams, and submit one order per strategy signal until interrupted.

With execution_enabled=false orders are filled by a local simulator priced from the
live candle stream, and no private credentials are needed.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&forceOwner, "force-owner", false, "take over a state store owned by another host")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, database, st, err := openStore()
	if err != nil {
		return err
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dryRun := !cfg.ExecutionEnabled
	log.Printf("✓ config loaded: inst=%s td_mode=%s leverage=%dx demo=%v dry_run=%v db=%s",
		cfg.InstID, cfg.TdMode, cfg.Leverage, cfg.Demo, dryRun, cfg.DBDriver)

	if err := st.ClaimOwner(ctx, instanceID(), forceOwner); err != nil {
		return fmt.Errorf("claim state store: %w", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	bus := events.NewBus()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitor.NewMetrics(reg)
	(&monitor.Monitor{Bus: bus, Metrics: metrics}).Start(ctx)

	breaker := risk.NewBreaker(st, loc, cfg.DailyLossLimitPct, bus)
	if err := breaker.Load(ctx); err != nil {
		return fmt.Errorf("load breaker: %w", err)
	}

	client := newOKXClient(cfg)
	client.TimeSync().Start(ctx)

	queue := order.NewQueue(1024)
	prices := &priceCache{}

	var gateway common.Gateway = client
	if dryRun {
		gateway = order.NewDryRunGateway(order.DryRunSimConfig{SlippageBps: 2, LatencyMinMs: 20, LatencyMaxMs: 120},
			prices.get,
			func(ev common.StreamEvent) bool { return queue.Enqueue(ctx, ev) })
		log.Println("⚠️ execution disabled: orders are simulated locally")
	} else {
		if err := withTimeout(ctx, client.Bootstrap); err != nil {
			return fmt.Errorf("bootstrap account: %w", err)
		}
		err := withTimeout(ctx, func(ctx context.Context) error {
			return client.ConfigureLeverage(ctx, cfg.InstID, cfg.Leverage, cfg.TdMode)
		})
		if errors.Is(err, common.ErrLeverageConfiguration) {
			log.Fatalf("❌ %v", err)
		}
		if err != nil {
			return err
		}
	}

	balanceMgr := balance.NewManager(client, breaker, bus, 30*time.Second)
	if dryRun {
		balanceMgr.SetInitialBalance(cfg.DryRunBalance)
		log.Printf("✓ simulated balance %.2f", cfg.DryRunBalance)
	}
	balanceMgr.Start(ctx)

	engine := order.NewEngine(order.Config{
		TdMode:            cfg.TdMode,
		Leverage:          cfg.Leverage,
		MarginBufferRatio: cfg.MarginBufferRatio,
		MaxPositions:      cfg.MaxPositions,
		RiskPct:           cfg.RiskPct,
		StopLossPct:       cfg.StopLossPct,
		TakeProfitPct:     cfg.TakeProfitPct,
		OrderTimeout:      cfg.OrderTimeout,
		TickInterval:      cfg.TickInterval,
		CancelRetries:     cfg.CancelRetries,
		RejectCooldown:    cfg.RejectCooldown,
		NotFoundGrace:     cfg.NotFoundGrace,
	}, st, gateway, breaker, balanceMgr, bus)
	engine.SetAccountObserver(balanceMgr)
	engine.SetPositionReader(balanceMgr)

	recon := reconciliation.NewService(st, gateway, engine, bus, cfg.ReconcileInterval, cfg.NotFoundGrace)
	report, err := recon.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("startup reconciliation: %w", err)
	}
	log.Printf("✓ startup reconciliation: %d pending checked, %d errors", report.Checked, report.Errors)
	recon.Start(ctx)

	var wg sync.WaitGroup
	goRun := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
			log.Printf("%s stopped", name)
		}()
	}

	if !dryRun {
		stream := okx.NewPrivateStream(cfg.PrivateWSURL, cfg.OKXAPIKey, cfg.OKXSecretKey, cfg.OKXPassphrase)
		// Pushes missed while disconnected are recovered by a reconciliation pass.
		stream.OnConnect = func(ctx context.Context) {
			if _, err := recon.Reconcile(ctx); err != nil {
				log.Printf("reconcile after reconnect: %v", err)
			}
		}
		stream.OnDisconnect = func(err error) {
			bus.Publish(events.EventAlarm, events.Alarm{
				Kind:    events.AlarmStreamDown,
				Message: err.Error(),
				Time:    time.Now(),
			})
		}
		goRun("private stream", func() {
			if err := stream.Run(ctx, func(ev common.StreamEvent) bool { return queue.Enqueue(ctx, ev) }); err != nil && ctx.Err() == nil {
				log.Printf("❌ private stream: %v", err)
			}
		})
	}

	strat := strategy.NewEMACrossStrategy(cfg.StrategyName, cfg.InstID, cfg.FastEMA, cfg.SlowEMA)
	runner := strategy.NewRunner(strat, bus)
	if err := withTimeout(ctx, func(ctx context.Context) error {
		return runner.Warmup(ctx, client, cfg.InstID, cfg.Bar, warmupCandles)
	}); err != nil {
		log.Printf("⚠️ strategy warm-up failed, starting cold: %v", err)
	}

	rawCandles := make(chan common.Candle, 64)
	candles := make(chan common.Candle, 64)
	signals := make(chan order.Signal, 16)

	goRun("candle stream", func() {
		_ = okx.NewCandleStream(cfg.PublicWSURL, cfg.InstID, cfg.Bar).Run(ctx, rawCandles)
	})
	goRun("price cache", func() {
		for {
			select {
			case <-ctx.Done():
				return
			case c := <-rawCandles:
				prices.set(c.InstID, c.Close)
				select {
				case candles <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	})
	goRun("strategy", func() { runner.Run(ctx, candles, signals) })
	goRun("executor", func() { engine.Run(ctx, queue.Chan(), signals) })

	server := api.NewServer(api.Options{
		Bus:          bus,
		Store:        st,
		Journal:      database,
		Risk:         breaker,
		Account:      balanceMgr,
		Queue:        queue,
		Metrics:      metrics,
		Gatherer:     reg,
		JWTSecret:    cfg.JWTSecret,
		PasswordHash: cfg.APIPasswordHash,
		Meta: api.SystemMeta{
			DryRun:    dryRun,
			Demo:      cfg.Demo,
			Venue:     "okx-swap",
			InstID:    cfg.InstID,
			Strategy:  strat.String(),
			Version:   version,
			StartedAt: time.Now(),
		},
	})
	goRun("api", func() {
		if err := server.Start(ctx, ":"+cfg.Port); err != nil {
			log.Printf("❌ api server: %v", err)
		}
	})

	log.Printf("🚀 okx-core %s running (%s %s, EMA %d/%d)", version, cfg.InstID, cfg.Bar, cfg.FastEMA, cfg.SlowEMA)
	<-ctx.Done()
	log.Println("shutting down...")
	wg.Wait()
	log.Println("✓ shutdown complete")
	return nil
}
