package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"orderpipe/api/grpcserver"
	"orderpipe/api/httpapi"
	"orderpipe/config"
	"orderpipe/domain/order"
	"orderpipe/infra/clock"
	"orderpipe/infra/kafka"
	"orderpipe/infra/logging"
	"orderpipe/infra/metrics"
	"orderpipe/infra/outbox"
	"orderpipe/infra/remote"
	"orderpipe/infra/statestore"
	"orderpipe/jobs/broadcaster"
	"orderpipe/service/inventory"
	"orderpipe/service/notification"
	"orderpipe/service/orders"
)

func run(ctx context.Context, cfg config.Config, r role) error {
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer log.Sync()

	p := newProcess(ctx, log)
	defer p.close()

	clk := clock.Real{}

	// ---------------- Metrics ----------------

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	p.serveHTTP("metrics", &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second})

	// ---------------- Remote store ----------------

	backend, err := openRemote(cfg, p)
	if err != nil {
		return err
	}
	rs := remote.NewBreaker(backend, remote.BreakerConfig{
		Name:        cfg.Store.Backend,
		OpenFor:     cfg.Orders.RetryInterval,
		MaxFailures: 5,
	}, log)

	// ---------------- Outbox ----------------

	var ob *outbox.Outbox
	if cfg.Outbox.Dir != "" {
		ob, err = outbox.Open(cfg.Outbox.Dir, clk)
		if err != nil {
			return err
		}
		p.onClose(ob.Close)

		producer, err := broadcaster.NewSyncProducer(cfg.Kafka.Brokers)
		if err != nil {
			return err
		}
		bc := broadcaster.New(ob, producer, broadcaster.Config{
			Interval:   cfg.Outbox.Interval,
			MaxRetries: cfg.Outbox.MaxRetries,
		}, log, m)
		bc.Start(ctx)
		p.onClose(bc.Close)
	}

	publisher := func(topic string) orders.Publisher {
		if ob != nil {
			return ob.Publisher(topic)
		}
		kp := kafka.NewProducer(cfg.Kafka.Brokers, topic)
		p.onClose(kp.Close)
		return kp
	}

	consume := func(topic, group string, h kafka.Handler) {
		c := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:    cfg.Kafka.Brokers,
			Topic:      topic,
			GroupID:    group,
			MaxRetries: cfg.Kafka.MaxRetries,
		}, h, log)
		p.onClose(c.Close)
		p.goRun("consumer "+topic+"/"+group, c.Run)
	}

	// ---------------- Orders ----------------

	var orderSvc *orders.Service
	if r&roleOrders != 0 {
		store := statestore.New[order.Order](rs, nil, statestore.Config{
			Name:     "orders",
			TTL:      cfg.Orders.TTL,
			Timeout:  cfg.Store.Timeout,
			Interval: cfg.Orders.RetryInterval,
			Clock:    clk,
			Logger:   log,
			Metrics:  m,
		})
		store.Reconciler().Start(ctx)
		p.onStop(store.Reconciler().Stop)

		orderSvc = orders.NewService(store, publisher(cfg.Kafka.OrdersTopic),
			orders.WithKeyPrefix(cfg.Orders.KeyPrefix),
			orders.WithClock(clk),
			orders.WithLogger(log),
		)

		p.serveHTTP("rest", &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           httpapi.NewServer(orderSvc, clk, log).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		})
		p.serveGRPC(cfg.GRPCAddr, grpcserver.NewServer(orderSvc, log))

		consume(cfg.Kafka.InventoryResultsTopic, cfg.Kafka.OrdersGroup, orderSvc.HandleResultMessage)
	}

	// ---------------- Inventory ----------------

	if r&roleInventory != 0 {
		checker := inventory.NewChecker(
			inventory.DefaultCatalog(clk.Now()),
			publisher(cfg.Kafka.InventoryResultsTopic),
			clk, log,
		)
		consume(cfg.Kafka.OrdersTopic, cfg.Kafka.InventoryGroup, checker.HandleOrderMessage)
	}

	// ---------------- Notifications ----------------

	if r&roleNotifications != 0 {
		var resolver notification.Resolver
		if orderSvc != nil {
			resolver = orderSvc
		} else {
			// standalone: read order records straight from the remote store
			readStore := statestore.New[order.Order](rs, nil, statestore.Config{
				Name:    "orders-read",
				Timeout: cfg.Store.Timeout,
				Clock:   clk,
				Logger:  log,
				Metrics: m,
			})
			resolver = orders.NewReader(readStore, cfg.Orders.KeyPrefix)
		}

		notifier := notification.NewNotifier(resolver, notification.NewLogDispatcher(log),
			notification.WithTTL(cfg.Notifications.TTL),
			notification.WithInterval(cfg.Notifications.RetryInterval),
			notification.WithClock(clk),
			notification.WithLogger(log),
			notification.WithMetrics(m),
		)
		notifier.Reconciler().Start(ctx)
		p.onStop(notifier.Reconciler().Stop)

		consume(cfg.Kafka.InventoryResultsTopic, cfg.Kafka.NotificationsGroup, notifier.HandleResultMessage)
	}

	log.Info("orderpipe running",
		zap.String("store", cfg.Store.Backend),
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.Bool("outbox", ob != nil),
	)
	return p.wait(ctx)
}

func openRemote(cfg config.Config, p *process) (remote.Store, error) {
	switch cfg.Store.Backend {
	case "pebble":
		db, err := remote.OpenPebble(cfg.Store.PebbleDir)
		if err != nil {
			return nil, err
		}
		p.onClose(db.Close)
		return db, nil
	default:
		rc := remote.NewRedis(remote.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		p.onClose(rc.Close)

		// an unreachable redis at startup is the degraded mode, not a fatal error
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Store.Timeout)
		defer cancel()
		if err := rc.Ping(ctx); err != nil {
			p.log.Warn("redis unreachable at startup, writes will be buffered", zap.Error(err))
		}
		return rc, nil
	}
}

func (p *process) serveGRPC(addr string, srv *grpcserver.Server) {
	gs := srv.Register()
	p.goRun("grpc", func(ctx context.Context) error {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		p.log.Info("grpc listening", zap.String("addr", addr))
		return gs.Serve(lis)
	})
	p.onStop(gs.GracefulStop)
}

func (p *process) serveHTTP(name string, srv *http.Server) {
	p.goRun(name, func(context.Context) error {
		p.log.Info("http listening", zap.String("server", name), zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	p.onStop(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
}
