package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mmcd/config"
	"mmcd/engine"
	"mmcd/messaging"
	"mmcd/protocol"
	"mmcd/statecache"
	"mmcd/store"
	"mmcd/telemetry"
	"mmcd/www"

	"github.com/redis/go-redis/v9"
)

var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "mmcd.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	port := flag.Int("port", 0, "HTTP port (overrides config)")
	flag.Parse()

	if *showVersion {
		fmt.Println("mmcd", Version)
		return
	}
	if *debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *port > 0 {
		cfg.Web.Port = *port
	}
	// Kafka group must be unique per controller so each sees every request.
	if cfg.Messaging.Kafka.GroupID == "" {
		cfg.Messaging.Kafka.GroupID = cfg.KafkaGroupID()
	}
	if cfg.Messaging.NodeID == "" {
		cfg.Messaging.NodeID = cfg.NodeID()
	}
	self := protocol.Address{Role: protocol.RoleMMC, Node: cfg.NodeID()}

	// Database
	db, err := store.Open(&cfg.Database)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	log.Printf("mmcd: database open (%s)", cfg.Database.Driver)

	// Redis state mirror
	var cache *statecache.RedisStore
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		cache = statecache.NewRedisStore(redisClient, cfg.NodeID())
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := cache.Ping(ctx); err != nil {
			log.Printf("mmcd: redis not available (%v), running without cache", err)
			cache = nil
		} else {
			log.Printf("mmcd: redis connected (%s)", cfg.Redis.Address)
			// Stale state from a previous run would disagree with a fresh sequencer.
			if err := cache.FlushAll(ctx); err != nil {
				log.Printf("mmcd: redis flush: %v", err)
			}
		}
		cancel()
	}

	// Sensor history
	var influx *telemetry.Influx
	if cfg.Influx.Enabled {
		influx = telemetry.NewInflux(&cfg.Influx, cfg.NodeID())
		defer influx.Close()
		log.Printf("mmcd: influx history enabled (%s)", cfg.Influx.URL)
	}

	// Messaging
	var msgOpts []messaging.ClientOption
	if will, err := messaging.OfflineHeartbeat(self, Version); err == nil {
		msgOpts = append(msgOpts, messaging.WithWill(cfg.Messaging.EventTopic, will))
	}
	msgClient := messaging.NewClient(&cfg.Messaging, msgOpts...)
	defer msgClient.Close()
	if err := msgClient.Connect(); err != nil {
		log.Printf("mmcd: messaging connect: %v (will retry via outbox)", err)
	}

	engCfg := engine.Config{
		AppConfig:  cfg,
		ConfigPath: *configPath,
		DB:         db,
		LogFunc:    log.Printf,
		Debug:      *debug,
		Cache:      cache,
		Influx:     influx,
		// Falls back to the outbox while the broker is unreachable.
		Publisher: messaging.NewEventPublisher(msgClient, db, self, cfg.Messaging.EventTopic),
	}
	eng, err := engine.New(engCfg)
	if err != nil {
		log.Fatalf("engine: %v", err)
	}
	eng.Start()
	defer eng.Stop()

	drainer := messaging.NewOutboxDrainer(db, msgClient, cfg.Messaging.OutboxDrainInterval)
	drainer.Start()
	defer drainer.Stop()

	listener := messaging.NewListener(msgClient, eng, self, cfg.Messaging.Channel, cfg.Messaging.ResponseTopic)
	if err := listener.Start(msgClient, cfg.Messaging.RequestTopic); err != nil {
		log.Printf("mmcd: bus listener subscribe: %v", err)
	} else {
		log.Printf("mmcd: bus listener on %s (node=%s)", cfg.Messaging.RequestTopic, cfg.NodeID())
	}

	hb := messaging.NewHeartbeater(msgClient, self, Version, cfg.Messaging.EventTopic,
		cfg.Messaging.HeartbeatInterval, eng.SlotStatuses)
	hb.Start()
	defer hb.Stop()

	// HTTP
	router, stopWeb := www.NewRouter(eng)
	defer stopWeb()

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	server := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.Printf("mmcd: listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("mmcd: shutting down...")

	// Close SSE streams so Shutdown does not wait on them.
	stopWeb()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("http server shutdown: %v", err)
	}
}
