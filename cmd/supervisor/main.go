package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/apsviz/workflow-supervisor/pkg/config"
	"github.com/apsviz/workflow-supervisor/pkg/db"
	"github.com/apsviz/workflow-supervisor/pkg/inspector"
	"github.com/apsviz/workflow-supervisor/pkg/log"
	"github.com/apsviz/workflow-supervisor/pkg/metrics"
	"github.com/apsviz/workflow-supervisor/pkg/run"
	"github.com/apsviz/workflow-supervisor/pkg/supervisor"
	"github.com/apsviz/workflow-supervisor/pkg/translator"
)

// Version information (set via ldflags during build). The APP_VERSION
// environment variable is not read.
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "supervisor",
	Short:   "Workflow job supervisor",
	Long:    "Drives long-running workflow runs to completion by translating database-defined job templates into Kubernetes batch jobs and tracking their lifecycle.",
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSupervisor(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", envOr("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", true, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "/etc/supervisor/config.json", "Path to the base configuration JSON document")
	rootCmd.PersistentFlags().String("kubeconfig", "", "Path to a kubeconfig file (empty: use in-cluster config)")
	rootCmd.PersistentFlags().String("dsn", os.Getenv("SUPERVISOR_DB_DSN"), "Workflow database connection string")
	rootCmd.PersistentFlags().String("metrics-addr", "127.0.0.1:9090", "Address the internal metrics endpoint listens on (not a public API, spec §6)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("supervisor version %s (%s)\n", Version, Commit)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the supervisor control loop (default action)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSupervisor(cmd)
	},
}

// runSupervisor wires the concrete Database Adapter, Cluster Translator,
// Job Inspector, and Run State Machine together and starts the
// Supervisor Loop. Any error here is a fatal misconfiguration (spec §6,
// §7: "Fatal misconfiguration at startup ... aborts the process").
func runSupervisor(cmd *cobra.Command) error {
	configPath, _ := cmd.Flags().GetString("config")
	kubeconfigPath, _ := cmd.Flags().GetString("kubeconfig")
	dsn, _ := cmd.Flags().GetString("dsn")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	database, err := db.Open(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connecting to workflow database: %w", err)
	}
	defer database.Close()

	clientset, err := buildKubeClient(kubeconfigPath)
	if err != nil {
		return fmt.Errorf("building kubernetes client: %w", err)
	}

	machine := &run.Machine{
		Translator: translator.New(clientset, cfg),
		Inspector:  inspector.New(clientset, cfg),
		DB:         database,
	}

	sup, err := supervisor.New(cfg, database, machine)
	if err != nil {
		return fmt.Errorf("starting supervisor: %w", err)
	}
	defer sup.Close()

	go serveMetrics(metricsAddr)

	log.Logger.Info().Str("version", Version).Str("namespace", cfg.Namespace).Msg("supervisor loop starting")
	sup.Run(ctx)
	log.Logger.Info().Msg("supervisor loop stopped")
	return nil
}

// buildKubeClient constructs a Kubernetes clientset, using kubeconfigPath
// if set and falling back to in-cluster configuration otherwise.
func buildKubeClient(kubeconfigPath string) (kubernetes.Interface, error) {
	var restCfg *rest.Config
	var err error

	if kubeconfigPath != "" {
		restCfg, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	} else {
		restCfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, err
	}
	return kubernetes.NewForConfig(restCfg)
}

// serveMetrics mounts the Prometheus handler on a private listener; the
// core has no public HTTP API (spec §6 Non-goals), so this is bound to
// metricsAddr (defaulting to loopback-only) rather than all interfaces.
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Logger.Warn().Err(err).Msg("metrics endpoint stopped")
	}
}
