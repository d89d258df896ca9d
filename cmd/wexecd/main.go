package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/wexec/pkg/api"
	"github.com/cuemby/wexec/pkg/cluster"
	"github.com/cuemby/wexec/pkg/config"
	"github.com/cuemby/wexec/pkg/engine"
	"github.com/cuemby/wexec/pkg/log"
	"github.com/cuemby/wexec/pkg/metrics"
	"github.com/cuemby/wexec/pkg/reconciler"
	"github.com/cuemby/wexec/pkg/security"
	"github.com/cuemby/wexec/pkg/shard"
	"github.com/cuemby/wexec/pkg/storage"
	"github.com/cuemby/wexec/pkg/template"
	"github.com/cuemby/wexec/pkg/types"
	"google.golang.org/grpc"
)

// livenessPollInterval governs how often resident StdioEventloop workers
// have their subprocess checked; shorter than the reconciler's node
// heartbeat window since a dead local process is cheap to detect fast.
const livenessPollInterval = 5 * time.Second

// Version information, set via -ldflags during build.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "wexecd",
	Short: "wexecd is a node in a durable worker execution cluster",
	Long: `wexecd runs a single node of a sharded, Raft-coordinated worker
execution engine: it owns a slice of the cluster's workers, replays their
oplogs on activation, and serves the node's RPC surface over mTLS.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"wexecd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", true, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	serveCmd.Flags().Bool("join", false, "join an existing cluster instead of bootstrapping a new one")
	serveCmd.Flags().String("templates", "", "path to a JSON manifest of stdio templates to register at startup")
	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start this node and serve the engine RPC surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		join, _ := cmd.Flags().GetBool("join")
		templatesPath, _ := cmd.Flags().GetString("templates")
		return runServe(cfg, join, templatesPath)
	},
}

func runServe(cfg *config.Config, join bool, templatesPath string) error {
	if err := security.SetClusterEncryptionKey(security.DeriveKeyFromClusterID(cfg.ClusterId)); err != nil {
		return fmt.Errorf("failed to set cluster encryption key: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}

	shards := shard.NewService(cfg.NodeId, cfg.TotalShards)

	clusterMgr, err := cluster.NewManager(cfg.ClusterConfig(), store, shards)
	if err != nil {
		return fmt.Errorf("failed to create cluster manager: %w", err)
	}

	if join {
		if err := clusterMgr.JoinExisting(); err != nil {
			return fmt.Errorf("failed to join cluster: %w", err)
		}
		fmt.Println("Joined existing cluster, waiting to be added as a voter by the leader.")
	} else {
		if err := clusterMgr.Bootstrap(); err != nil {
			return fmt.Errorf("failed to bootstrap cluster: %w", err)
		}
		fmt.Println("Bootstrapped new cluster.")
	}

	if err := ensureNodeCertificate(clusterMgr, cfg.NodeId, cfg.ApiAddr); err != nil {
		return fmt.Errorf("failed to provision node certificate: %w", err)
	}

	templates := template.NewRegistry()
	if templatesPath != "" {
		if err := loadTemplates(templates, templatesPath); err != nil {
			return fmt.Errorf("failed to load templates: %w", err)
		}
	}

	eng := engine.New(cfg.NodeId, store, shards, templates, cfg.EngineConfig())

	rec := reconciler.NewReconciler(clusterMgr, shards)
	rec.Start()

	liveness := engine.NewLivenessMonitor(eng, livenessPollInterval)
	liveness.Start()

	server, err := api.NewServer(cfg.NodeId, eng, clusterMgr, shards)
	if err != nil {
		return fmt.Errorf("failed to create RPC server: %w", err)
	}

	listener, err := net.Listen("tcp", cfg.ApiAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.ApiAddr, err)
	}

	errCh := make(chan error, 2)
	go func() {
		if err := server.GRPCServer().Serve(listener); err != nil {
			errCh <- fmt.Errorf("RPC server error: %w", err)
		}
	}()
	fmt.Printf("RPC server listening on %s (mTLS)\n", cfg.ApiAddr)

	var unixListener net.Listener
	if cfg.UnixSocket != "" {
		unixListener, err = startReadOnlySocket(cfg.UnixSocket, server, errCh)
		if err != nil {
			return err
		}
		fmt.Printf("Read-only RPC socket listening on %s\n", cfg.UnixSocket)
	}

	collector := metrics.NewCollector(clusterMgr, shards, eng.Cache())
	collector.Start()
	metrics.SetVersion(Version)
	metrics.RegisterComponent("raft", true, "bootstrapped")
	metrics.RegisterComponent("api", true, "ready")

	healthServer := api.NewHealthServer(clusterMgr)
	go func() {
		if err := healthServer.Start(cfg.MetricsAddr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("health server error: %w", err)
		}
	}()
	fmt.Printf("Health/metrics endpoints on http://%s/{health,ready,metrics}\n", cfg.MetricsAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\n%v\n", err)
	}

	collector.Stop()
	liveness.Stop()
	rec.Stop()
	server.GRPCServer().GracefulStop()
	if unixListener != nil {
		unixListener.Close()
	}
	if err := clusterMgr.Shutdown(); err != nil {
		return fmt.Errorf("failed to shut down cluster manager: %w", err)
	}
	fmt.Println("Shutdown complete")
	return nil
}

// ensureNodeCertificate issues a leaf certificate for this node against
// the cluster's root CA and writes it alongside the CA certificate to the
// directory api.NewServer reads its mTLS material from. A node that
// already holds a certificate from a previous run of this same binary
// skips reissuance.
func ensureNodeCertificate(clusterMgr *cluster.Manager, nodeId, apiAddr string) error {
	certDir, err := security.GetCertDir("node", nodeId)
	if err != nil {
		return fmt.Errorf("resolving cert directory: %w", err)
	}
	if security.CertExists(certDir) {
		return nil
	}

	ca := clusterMgr.CA()
	if !ca.IsInitialized() {
		if err := ca.LoadFromStore(); err != nil {
			return fmt.Errorf("loading cluster root CA: %w", err)
		}
	}

	host, _, err := net.SplitHostPort(apiAddr)
	if err != nil {
		host = apiAddr
	}
	dnsNames := []string{"localhost", nodeId}
	var ipAddresses []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ipAddresses = append(ipAddresses, ip)
	} else if host != "" {
		dnsNames = append(dnsNames, host)
	}

	cert, err := ca.IssueNodeCertificate(nodeId, "node", dnsNames, ipAddresses)
	if err != nil {
		return fmt.Errorf("issuing node certificate: %w", err)
	}
	if err := security.SaveCertToFile(cert, certDir); err != nil {
		return fmt.Errorf("saving node certificate: %w", err)
	}
	return security.SaveCACertToFile(ca.GetRootCACert(), certDir)
}

// startReadOnlySocket serves the same EngineServer business logic over a
// local Unix socket guarded by ReadOnlyInterceptor, so a local CLI can read
// worker/shard state without holding an mTLS client certificate.
func startReadOnlySocket(path string, server *api.Server, errCh chan<- error) (net.Listener, error) {
	os.Remove(path)
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on unix socket %s: %w", path, err)
	}
	readOnlyServer := grpc.NewServer(grpc.UnaryInterceptor(api.ReadOnlyInterceptor()))
	readOnlyServer.RegisterService(&api.ServiceDesc, server)
	go func() {
		if err := readOnlyServer.Serve(listener); err != nil {
			errCh <- fmt.Errorf("read-only socket server error: %w", err)
		}
	}()
	return listener, nil
}

type templateManifestEntry struct {
	Id         types.TemplateId        `json:"id"`
	Version    int32                   `json:"version"`
	Convention types.CallingConvention `json:"convention"`
	Command    string                  `json:"command"`
	Args       []string                `json:"args"`
}

// loadTemplates registers every stdio/stdio-eventloop template in the
// manifest at path. Component-convention templates carry native Go
// functions and so cannot be described in a data file; they are registered
// in-process by whatever embeds this binary with custom host functions.
func loadTemplates(registry *template.Registry, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var entries []templateManifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	for _, e := range entries {
		registry.Register(template.Template{
			Id:         e.Id,
			Version:    e.Version,
			Convention: e.Convention,
			Command:    e.Command,
			Args:       e.Args,
		})
	}
	return nil
}
