package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fadebot/internal/api"
	"fadebot/internal/engine"
	"fadebot/internal/events"
	"fadebot/internal/market"
	"fadebot/internal/monitor"
	"fadebot/internal/sched"
	sig "fadebot/internal/signal"
	"fadebot/internal/stream"
	"fadebot/internal/trader"
	"fadebot/pkg/cache"
	"fadebot/pkg/config"
	"fadebot/pkg/db"
	"fadebot/pkg/exchanges/binance/futures"
	"fadebot/pkg/exchanges/common"
)

func main() {
	tokenName := flag.String("token", "", "mint an operator token for the given name and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if *tokenName != "" {
		token, err := api.GenerateToken(*tokenName, cfg.JWTSecret, time.Now().Add(30*24*time.Hour))
		if err != nil {
			log.Fatalf("generate token: %v", err)
		}
		fmt.Println(token)
		return
	}

	if err := run(cfg); err != nil {
		log.Fatalf("fadebot: %v", err)
	}
}

func run(cfg *config.Config) error {
	params, err := config.LoadTradingParams(cfg.ParamsPath)
	if err != nil {
		return fmt.Errorf("load trading params: %w", err)
	}

	ctx, stop := signalContext()
	defer stop()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	store := db.NewStore(database)

	bus := events.NewBus()
	scheduler := sched.New()
	defer scheduler.Shutdown()

	metrics := monitor.NewSystemMetrics()
	go metrics.Watch(ctx, bus)

	prices := cache.NewPriceCache()
	go func() {
		ticks, unsub := bus.Subscribe(events.EventPriceTick, 256)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-ticks:
				if tick, ok := msg.(events.PriceTick); ok {
					prices.Set(tick.Symbol, tick.Price)
				}
			}
		}
	}()

	exchange := futures.NewClient(futures.Config{
		APIKey:    cfg.BinanceAPIKey,
		APISecret: cfg.BinanceAPISecret,
		Testnet:   cfg.BinanceTestnet,
	})
	exchange.StartTimeSync(ctx)

	managers := make(map[string]*engine.Manager, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		managers[symbol] = engine.New(engine.Config{
			Symbol:           symbol,
			Leverage:         params.Leverage,
			PositionLiveTime: params.PositionLiveTime.Std(),
			Params: engine.Params{
				TakeThresholds: params.TakeThresholds,
				StopModifier:   params.StopModifier,
			},
		}, exchange, scheduler, bus, store)
	}

	t := trader.New(trader.Config{
		Leverage:        params.Leverage,
		PollInterval:    cfg.PollInterval,
		ReconcileOnBoot: cfg.ReconcileOnBoot,
		DryRun:          cfg.DryRun,
	}, exchange, scheduler, bus, managers)

	if cfg.DryRun {
		log.Println("dry run: skipping account bootstrap, signals are logged but no orders are placed")
	} else if err := t.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer t.Shutdown()

	// Market data in, signals out.
	if cfg.UseMockFeed {
		mock := &market.MockFeed{Bus: bus, Symbols: cfg.Symbols}
		go mock.Run(ctx)
	} else {
		go market.NewFeed(bus, cfg.Symbols, cfg.BinanceTestnet).Run(ctx)
	}
	for _, symbol := range cfg.Symbols {
		det := sig.New(sig.Config{
			Symbol:  symbol,
			MinSize: params.ImbalanceMinSize,
			Window:  params.ImbalanceWindow.Std(),
			Settle:  params.ImbalanceSettle.Std(),
		}, bus)
		go det.Run(ctx)
	}

	// Push channel with polling fallback while it is down.
	if !cfg.DryRun {
		userStream := stream.New(exchange, func(ctx context.Context, symbol, clientOrderID string, status common.OrderStatus) {
			t.HandlePushUpdate(ctx, symbol, clientOrderID, status)
		}, cfg.BinanceTestnet)
		userStream.OnUp = t.PushUp
		userStream.OnDown = t.PushDown
		go userStream.Run(ctx)
	}
	go t.Run(ctx)

	server := api.NewServer(managers, store, metrics, bus, prices, cfg.JWTSecret)
	log.Printf("fadebot: serving on :%s (%d symbols, dry_run=%v)", cfg.Port, len(cfg.Symbols), cfg.DryRun)
	return server.Run(ctx, ":"+cfg.Port)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		select {
		case s := <-ch:
			log.Printf("fadebot: received %s, shutting down", s)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
