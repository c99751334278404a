// Package global assembles a running hub from configuration: stores,
// optional Redis, NATS and Kafka integrations, and the HTTP server.
package global

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"famly/data/database/mgo/mongoutil"
	"famly/global/config"
	midsec "famly/middleware/security"
	"famly/module/chat/store"
	"famly/module/chat/store/memstore"
	"famly/service/chat"
	"famly/service/chat/handlers"
	"famly/service/kafka"
	"famly/service/metrics"
	"famly/service/mgo"
	"famly/service/natsx"
	"famly/service/storage"
	"famly/service/storage/redis"
	jwtsec "famly/tools/security"
)

// App is one hub process.
type App struct {
	cfg      *config.AppConfig
	log      *zap.Logger
	instance string

	hub    *chat.Hub
	server *chat.Server

	mongo  *mgo.Manager
	rdb    *goredis.Client
	nats   *natsx.Manager
	idem   *natsx.MemIdem
	kafka  *kafka.Consumer
	cancel context.CancelFunc
}

// New wires every component. Mongo must become reachable within the store
// timeout budget of startup or New fails.
func New(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (a *App, err error) {
	a = &App{
		cfg:      cfg,
		log:      log,
		instance: fmt.Sprintf("node-%d-%s", cfg.NodeID, uuid.NewString()[:8]),
	}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	stores, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}

	a.hub, err = chat.NewHub(chat.Options{
		NodeID:           cfg.NodeID,
		SendQueue:        cfg.Server.SendQueue,
		RateLimit:        cfg.Hub.RateLimit,
		RateWindow:       cfg.Hub.RateWindow,
		PresenceThrottle: cfg.Hub.PresenceThrottle,
		MaxBodyChars:     cfg.Hub.MaxBodyChars,
		FanoutWorkers:    cfg.Hub.FanoutWorkers,
		FanoutQueue:      cfg.Hub.FanoutQueue,
		StoreTimeout:     cfg.Hub.StoreTimeout,
	}, stores, log.Named("hub"), m)
	if err != nil {
		return nil, err
	}
	handlers.Register(a.hub)

	if err = a.openRedis(ctx); err != nil {
		return nil, err
	}
	if err = a.openNats(); err != nil {
		return nil, err
	}
	if err = a.openKafka(); err != nil {
		return nil, err
	}

	a.server = chat.NewServer(a.hub, chat.ServerOptions{
		Addr:           cfg.Server.Addr,
		MaxConnections: cfg.Server.MaxConnections,
		ReadLimit:      cfg.Server.ReadLimit,
		PingInterval:   cfg.Server.PingInterval,
		PongWait:       cfg.Server.PongWait,
		WriteWait:      cfg.Server.WriteWait,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		UpgradeRate:    cfg.Server.UpgradeRate,
		UpgradeBurst:   cfg.Server.UpgradeBurst,
		Auth: midsec.Options{
			JWT:        jwtsec.Options{Secret: []byte(cfg.Auth.Secret), Alg: cfg.Auth.Alg, Leeway: cfg.Auth.Leeway},
			QueryParam: cfg.Auth.QueryParam,
		},
		Ready:    a.ready,
		Gatherer: reg,
	}, log.Named("server"))

	log.Info("hub assembled",
		zap.String("instance", a.instance),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("redis", a.rdb != nil),
		zap.Bool("nats", a.nats != nil),
		zap.Bool("kafka", a.kafka != nil))
	return a, nil
}

func (a *App) openStores(ctx context.Context) (chat.Stores, error) {
	if a.cfg.Store.Driver == config.DriverMemory {
		ms := memstore.New()
		ms.Seed(a.cfg.Store.Memory.Chats, a.cfg.Store.Memory.Families)
		a.log.Warn("using in-memory stores; nothing survives a restart")
		return ms.Stores(), nil
	}

	mc := a.cfg.Mongo
	mcfg := &mongoutil.Config{
		Uri:         mc.URI,
		Address:     mc.Address,
		Database:    mc.Database,
		Username:    mc.Username,
		Password:    mc.Password,
		AuthSource:  mc.AuthSource,
		MaxPoolSize: mc.MaxPoolSize,
		MaxRetry:    mc.MaxRetry,
	}
	if err := mcfg.ValidateAndSetDefaults(); err != nil {
		return chat.Stores{}, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.mongo = mgo.NewManager(mcfg, a.log.Named("mongo"))
	a.mongo.StartAsync(runCtx)

	wctx, wcancel := context.WithTimeout(ctx, 30*time.Second)
	defer wcancel()
	if err := a.mongo.WaitReady(wctx); err != nil {
		return chat.Stores{}, err
	}
	db, _ := a.mongo.DB()
	if err := store.EnsureIndexes(wctx, db); err != nil {
		return chat.Stores{}, err
	}
	return store.New(db), nil
}

func (a *App) openRedis(ctx context.Context) error {
	rc := a.cfg.Redis
	if !rc.Enabled {
		return nil
	}
	rdb, err := redis.NewClient(ctx, redis.Config{Addr: rc.Addr, Password: rc.Password, DB: rc.DB, PoolSize: rc.PoolSize})
	if err != nil {
		return err
	}
	a.rdb = rdb
	a.hub.SetPresenceMirror(storage.NewRedisPresence(rdb, a.instance, rc.PresenceTTL))
	return nil
}

func (a *App) openNats() error {
	nc := a.cfg.Nats
	if !nc.Enabled {
		return nil
	}
	mgr, err := natsx.NewManager(natsx.Config{
		Servers:  nc.Servers,
		Name:     nc.Name,
		User:     nc.User,
		Password: nc.Password,
	}, a.log.Named("nats"))
	if err != nil {
		return err
	}
	a.nats = mgr

	if nc.RelaySubject != "" {
		if err := mgr.RegisterRoute(natsx.RelayRoute(nc.RelaySubject)); err != nil {
			return err
		}
		relay := natsx.NewRelay(&natsx.SyncPublisher{P: mgr, Retries: 1, Backoff: 10 * time.Millisecond}, a.log.Named("relay"))
		if err := mgr.Subscribe(natsx.BizRelay, relay.Handler(a.hub.Broadcaster())); err != nil {
			return err
		}
		a.hub.SetRelay(a.instance, relay)
	}

	if nc.EventsSubject != "" {
		if err := mgr.RegisterRoute(natsx.EventsRoute(nc.EventsSubject, nc.EventsQueue, nc.EventsDurable)); err != nil {
			return err
		}
		a.idem = natsx.NewMemIdem(nc.DedupTTL)
		h := natsx.EventsHandler(a.hub.Passthrough(), a.log.Named("events"))
		if err := mgr.Subscribe(natsx.BizEvents, h, natsx.IdemMiddleware(a.idem, nc.DedupTTL)); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) openKafka() error {
	kc := a.cfg.Kafka
	if !kc.Enabled {
		return nil
	}
	c, err := kafka.NewConsumer(kafka.Config{
		Brokers: kc.Brokers,
		GroupID: kc.GroupID,
		Topics:  kc.Topics,
		Version: kc.Version,
		Oldest:  kc.Oldest,
	}, kafka.EventsHandler(a.hub.Passthrough(), a.log.Named("kafka")), a.log.Named("kafka"))
	if err != nil {
		return err
	}
	a.kafka = c
	return nil
}

func (a *App) ready(ctx context.Context) error {
	if a.mongo != nil {
		if err := a.mongo.Ping(ctx); err != nil {
			return err
		}
	}
	if a.nats != nil {
		if err := a.nats.Ping(ctx); err != nil {
			return err
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Hub exposes the assembled hub.
func (a *App) Hub() *chat.Hub { return a.hub }

// Run serves until ctx is done, then shuts down within the configured
// timeout.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(a.server.ListenAndServe)
	if a.kafka != nil {
		g.Go(func() error { return a.kafka.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		a.log.Info("shutting down", zap.Duration("timeout", a.cfg.Server.ShutdownTimeout))
		err := a.server.Shutdown(sctx)
		a.close()
		return err
	})
	return g.Wait()
}

// close releases everything New opened, in reverse order.
func (a *App) close() {
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.log.Warn("close kafka", zap.Error(err))
		}
	}
	if a.nats != nil {
		if err := a.nats.Close(); err != nil {
			a.log.Warn("close nats", zap.Error(err))
		}
	}
	if a.idem != nil {
		a.idem.Close()
	}
	if a.hub != nil {
		a.hub.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.cancel != nil {
		a.cancel()
	}
}
