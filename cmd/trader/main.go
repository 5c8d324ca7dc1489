package main

import (
	"context"
	"flag"
	"os"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"golang.org/x/time/rate"

	"qtrader/internal/broker"
	"qtrader/internal/datasource"
	"qtrader/internal/ledger"
	"qtrader/internal/obs"
	"qtrader/internal/operator"
	"qtrader/internal/ops"
	"qtrader/internal/recorder"
	"qtrader/internal/schema"
	"qtrader/internal/trader"
	"qtrader/pkg/conn"
)

const stopGrace = 10 * time.Second

func main() {
	configPath := flag.String("config", "config/trader.yaml", "Path to YAML config")
	profileAddr := flag.String("profile-addr", "", "Pyroscope server address (empty=disabled)")
	flag.Parse()

	cfg, err := ops.Load(*configPath)
	if err != nil {
		logs.Errorf("load config %s: %+v", *configPath, err)
		os.Exit(1)
	}

	if *profileAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "qtrader",
			ServerAddress:   *profileAddr,
			Tags:            map[string]string{"exchange": cfg.Exchange},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileInuseObjects,
			},
		})
		if err != nil {
			logs.Errorf("pyroscope start failed: %+v", err)
			os.Exit(1)
		}
		defer func() { _ = profiler.Stop() }()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rec ledger.Recorder
	if cfg.PostgresDSN != "" {
		client, err := conn.Open(conn.Config{DSN: cfg.PostgresDSN})
		if err != nil {
			logs.Errorf("connect postgres: %+v", err)
			os.Exit(1)
		}
		defer client.Close()
		rec, err = ledger.NewGormRecorder(client.DB())
		if err != nil {
			logs.Errorf("init ledger recorder: %+v", err)
			os.Exit(1)
		}
		logs.Info("ledger backed by postgres")
	} else {
		rec = ledger.NewMemoryRecorder()
		logs.Info("ledger backed by memory, records are lost on exit")
	}
	books := ledger.NewBooks(rec)

	account, err := books.OpenAccount(cfg.Owner, cfg.InitCash, time.Now().In(cfg.Location))
	if err != nil {
		logs.Errorf("open account: %+v", err)
		os.Exit(1)
	}
	logs.Infof("account %d opened for %s with cash %s", account.ID, cfg.Owner, cfg.InitCash)

	var source datasource.Source
	if cfg.CandlePath != "" {
		source = datasource.NewSQLite(cfg.CandlePath)
	} else {
		source = datasource.NewMemory()
	}
	defer source.Close()

	brk := broker.New(broker.Config{
		QueueSize: cfg.BrokerQueueSize,
		OrderRate: rate.Limit(cfg.BrokerRate),
		Burst:     cfg.BrokerBurst,
		Fill:      broker.FullFill(cfg.FeeRate),
		PollEvery: cfg.BrokerPoll,
	})

	op, err := operator.New(&operator.Crossover{
		Name:     "ma-cross",
		Fast:     5,
		Slow:     20,
		Lot:      decimal.NewFromInt(100),
		Interval: 30 * time.Minute,
	})
	if err != nil {
		logs.Errorf("build operator: %+v", err)
		os.Exit(1)
	}

	messages := trader.NewMessageLog(obs.NewSequence(0))
	metrics := obs.NewMetrics()

	tr := trader.New(trader.Config{
		Session:         cfg.Session,
		Calendar:        cfg.Calendar,
		Location:        cfg.Location,
		Delivery:        cfg.Delivery,
		AssetPool:       cfg.AssetPool,
		AccountID:       account.ID,
		TradingInterval: cfg.TradingInterval,
		IdleInterval:    cfg.IdleInterval,
		Broker:          brk,
		Books:           books,
		Source:          source,
		Operator:        op,
		Messages:        messages,
		Metrics:         metrics,
	})

	if cfg.MessagePath != "" {
		audit, err := recorder.Open(cfg.MessagePath)
		if err != nil {
			logs.Errorf("open message recorder: %+v", err)
			os.Exit(1)
		}
		defer audit.Close()
		go audit.Run(ctx, messages, time.Second)
	}

	go func() {
		err := ops.Watch(ctx, *configPath, func(next ops.Loaded) {
			tr.UpdateIntervals(next.TradingInterval, next.IdleInterval)
		})
		if err != nil && ctx.Err() == nil {
			logs.Errorf("config watcher stopped: %+v", err)
		}
	}()

	go brk.Run(ctx)

	traderDone := make(chan struct{})
	go func() {
		defer close(traderDone)
		tr.Run(ctx)
	}()

	logs.Infof("trader up on %s, assets %v", cfg.Exchange, cfg.AssetPool)

	<-sys.Shutdown()
	logs.Info("shutdown signal received")
	if err := tr.AddTask(trader.Task{Name: schema.TaskStop}); err != nil {
		logs.Errorf("queue stop task: %+v", err)
	}
	select {
	case <-traderDone:
	case <-time.After(stopGrace):
		logs.Errorf("trader did not stop within %s, forcing exit", stopGrace)
	}
	cancel()

	snap := metrics.Snapshot()
	logs.Infof("tasks executed: %v, whitelist drops: %d, handler errors: %d",
		snap.TaskCounts, snap.WhitelistDrops, snap.HandlerErrors)
}
