package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zenithdb/zenith/internal/api"
	"github.com/zenithdb/zenith/internal/auth"
	"github.com/zenithdb/zenith/internal/config"
	"github.com/zenithdb/zenith/internal/controlplane"
	"github.com/zenithdb/zenith/internal/dispatch"
	"github.com/zenithdb/zenith/internal/health"
	"github.com/zenithdb/zenith/internal/metrics"
	"github.com/zenithdb/zenith/internal/pool"
	"github.com/zenithdb/zenith/internal/statement"
	"github.com/zenithdb/zenith/internal/store"
	"github.com/zenithdb/zenith/internal/wire"
)

func main() {
	configPath := flag.String("config", "configs/zenith.yaml", "path to configuration file")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("zenith node starting...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Configuration loaded from %s (node=%s, peers=%d)", *configPath, cfg.Node.ID, len(cfg.Peers))

	m := metrics.New()
	reg := statement.NewRegistry()
	storage := store.NewMemory()

	identity := auth.Identity{
		NodeID:    cfg.Node.ID,
		NodeName:  cfg.Node.Name,
		IsReplica: cfg.Node.IsReplica,
		Tags:      cfg.Node.Tags,
	}

	// Server-side dispatcher: serves inbound data-plane connections (from
	// peers' pools and from master listeners dialing back into this node).
	d := dispatch.New(reg, nil)
	dispatch.RegisterStorageHandlers(d, storage)
	dispatch.RegisterLoginHandler(d, func(_ wire.Header, p statement.Payload) ([]byte, error) {
		login := p.(*statement.LoginPayload)
		err := auth.VerifyLogin(cfg.Node.ClusterToken, int64(login.Timestamp), auth.Identity{
			NodeID:    login.NodeID,
			NodeName:  login.NodeName,
			IsReplica: login.IsReplica,
			Tags:      login.Tags,
		}, login.Hash, time.Now(), cfg.Auth.SkewWindow)
		m.AuthAttempt("data", err == nil)
		if err != nil {
			return nil, err
		}
		return statement.Encode(&statement.WelcomePayload{Text: "welcome"})
	})

	go func() {
		if err := d.ListenAndServe(cfg.Listen.DataPlaneAddr); err != nil {
			log.Fatalf("data-plane listener failed: %v", err)
		}
	}()

	// Outbound pools to statically configured peers.
	pools := make(map[string]*pool.Pool, len(cfg.Peers))
	authenticator := auth.Authenticator(cfg.Node.ClusterToken, identity)
	for _, peerURL := range cfg.Peers {
		addr := stripTCPScheme(peerURL)
		p := pool.New(pool.Options{
			Addr:              addr,
			MinConn:           cfg.Pool.MinConnections,
			MaxConn:           cfg.Pool.MaxConnections,
			DialTimeout:       cfg.Pool.DialTimeout,
			SendTimeout:       cfg.Pool.SendTimeout,
			ReconnectInterval: cfg.Pool.ReconnectInterval,
			Authenticate:      authenticator,
		})
		pools[addr] = p
	}

	go reportPoolStats(pools, m, 5*time.Second)

	hc := health.NewChecker(health.Options{
		Addrs:             poolAddrs(pools),
		Interval:          cfg.Health.Interval,
		FailureThreshold:  cfg.Health.FailureThreshold,
		ConnectionTimeout: cfg.Health.ConnectionTimeout,
		Metrics:           m,
	})
	hc.Start()

	cp := controlplane.New(controlplane.Options{
		NodeID:        cfg.Node.ID,
		NodeName:      cfg.Node.Name,
		IsReplica:     cfg.Node.IsReplica,
		Tags:          cfg.Node.Tags,
		ClusterToken:  cfg.Node.ClusterToken,
		AdminAddr:     cfg.Admin.Addr,
		DataPlaneAddr: cfg.Listen.DataPlaneAddr,
		Storage:       storage,
		Registry:      reg,
		Metrics:       m,
	})
	cpCtx, cpCancel := context.WithCancel(context.Background())
	go func() {
		if err := cp.Run(cpCtx); err != nil {
			log.Printf("control-plane client stopped: %v", err)
		}
	}()

	apiServer := api.NewServer(cfg.Node.ID, pools, hc, promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	if err := apiServer.Start(cfg.Listen.APIAddr); err != nil {
		log.Fatalf("Failed to start API server: %v", err)
	}

	configWatcher, err := config.NewWatcher(*configPath, func(newCfg *config.Config) {
		log.Printf("configuration reloaded")
	})
	if err != nil {
		log.Printf("warning: config hot-reload not available: %v", err)
	}

	log.Printf("zenith node ready - data-plane:%s api:%s peers:%d",
		cfg.Listen.DataPlaneAddr, cfg.Listen.APIAddr, len(pools))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %s, shutting down...", sig)

	cpCancel()
	cp.Close()
	if configWatcher != nil {
		configWatcher.Stop()
	}
	apiServer.Stop()
	hc.Stop()
	for _, p := range pools {
		p.Close()
	}

	log.Printf("zenith node stopped")
}

func stripTCPScheme(url string) string {
	const prefix = "tcp://"
	if len(url) > len(prefix) && url[:len(prefix)] == prefix {
		return url[len(prefix):]
	}
	return url
}

func poolAddrs(pools map[string]*pool.Pool) []string {
	addrs := make([]string, 0, len(pools))
	for addr := range pools {
		addrs = append(addrs, addr)
	}
	return addrs
}

func reportPoolStats(pools map[string]*pool.Pool, m *metrics.Collector, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		for addr, p := range pools {
			s := p.Stats()
			m.UpdatePoolStats(addr, s.Ready, s.InFlightDials, s.TotalLoans)
		}
	}
}

