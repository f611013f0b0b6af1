// Command meshd is the standalone entry point for running the mesh module
// alongside a host node process. The actual IPC/storage/chain-query host is
// out of scope (spec §1) and supplied by whatever process embeds this
// module in production; this binary wires a minimal local stand-in so the
// module can be started and inspected on its own.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/BTCDecoded/blvm-mesh/core"
	meshconfig "github.com/BTCDecoded/blvm-mesh/pkg/config"
)

var (
	moduleID   string
	socketPath string
	dataDir    string

	log = logrus.New()

	fwd   *core.Forwarder
	fwdMu sync.RWMutex
)

func meshInit(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load()

	lv, err := logrus.ParseLevel(viper.GetString("logging.level"))
	if err == nil {
		log.SetLevel(lv)
	}

	cfg := core.DefaultConfig()
	if _, err := meshconfig.LoadFromEnv(); err != nil {
		log.WithError(err).Warn("could not load config, using compiled-in defaults")
	} else {
		cfg = meshconfig.AppConfig.Mesh.ToCoreConfig()
	}

	clk := clock.New()
	host := newLocalHost(dataDir, log)

	self, err := core.LoadOrCreateIdentity(context.Background(), host, log)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	log.WithField("node_id", self.String()).WithField("module_id", moduleID).Info("mesh identity loaded")

	reg := prometheus.NewRegistry()
	metrics := core.NewMetrics(reg)

	policy := core.NewPolicyEngine(cfg.Mode)
	replay := core.NewReplayGuard(cfg.ReplayTTL, clk)
	verifier := core.NewVerifier(log, cfg.Network, clk)
	routing := core.NewRoutingTable(clk, 4096)
	discovery := core.NewDiscovery(self, routing, clk, log, cfg.DiscoveryTimeout, cfg.DiscoveryMaxHops)

	f := core.NewForwarder(self, host, cfg, policy, replay, verifier, routing, discovery, log, metrics)
	fwdMu.Lock()
	fwd = f
	fwdMu.Unlock()

	sweeper := core.NewSweeper(routing, replay, discovery, cfg.SweepInterval, clk, log)
	ctx, cancel := context.WithCancel(context.Background())
	go sweeper.Run(ctx)

	if cfg.AdminAddr != "" {
		go serveAdmin(cfg.AdminAddr, reg, routing)
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		cancel()
	}()

	return nil
}

func serveAdmin(addr string, reg *prometheus.Registry, routing *core.RoutingTable) {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/routes/stats", func(w http.ResponseWriter, r *http.Request) {
		s := routing.Stats()
		fmt.Fprintf(w, "routes=%d peers=%d\n", s.RouteCount, s.PeerCount)
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	log.WithField("addr", addr).Info("mesh admin server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("admin server stopped")
	}
}

func meshRun(cmd *cobra.Command, _ []string) error {
	fmt.Fprintln(cmd.OutOrStdout(), "mesh module running; send SIGINT/SIGTERM to stop")
	select {}
}

var rootCmd = &cobra.Command{
	Use:               "meshd",
	Short:             "Payment-gated mesh packet router",
	PersistentPreRunE: meshInit,
}

var runCmd = &cobra.Command{Use: "run", Short: "Run the mesh module", RunE: meshRun}

func init() {
	rootCmd.PersistentFlags().StringVar(&moduleID, "module-id", "mesh-0", "identifier for this mesh module instance")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket-path", "/tmp/blvm-mesh.sock", "IPC socket path to the host process")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "directory for local mesh state")
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
