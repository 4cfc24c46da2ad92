package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"portscope/internal/adapter"
	"portscope/internal/codec"
	"portscope/internal/config"
	"portscope/internal/core/collector"
	"portscope/internal/core/preflight"
	"portscope/internal/domain"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var (
	flagConfig   string
	flagPlatform string
	flagDebug    bool
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "portscope",
		Short:        "Discover listening ports and attribute them to their owners",
		Long:         "portscope enumerates the listening ports of a host and attributes each one to the container, VM, app or process that owns it.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file (default: search order)")
	root.PersistentFlags().StringVar(&flagPlatform, "platform", "", "force an adapter: system, docker or truenas")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "verbose probe and cache logging")

	root.AddCommand(
		newCollectCmd(),
		newDetectCmd(),
		newWatchCmd(),
		newVerifyCmd(),
		newProbesCmd(),
		newDoctorCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig resolves the config file, env overrides and command-line flags
func loadConfig() (*config.Config, string, error) {
	var (
		cfg  *config.Config
		path string
		err  error
	)
	if flagConfig != "" {
		config.LoadEnvFiles()
		cfg, path, err = config.LoadFromPath(flagConfig)
		if err == nil {
			err = cfg.ApplyEnv(os.LookupEnv)
		}
	} else {
		cfg, path, err = config.Load()
	}
	if err != nil {
		return nil, path, err
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// applyFlags lets command-line flags win over file and environment
func applyFlags(cfg *config.Config) {
	if flagPlatform != "" {
		cfg.Platform = flagPlatform
	}
	if flagDebug {
		cfg.Debug = true
	}
}

// newRegistry registers every adapter variant for cfg
func newRegistry(cfg *config.Config) (*adapter.Registry, error) {
	runner := adapter.ExecRunner{Timeout: cfg.OS.CommandTimeout.Duration()}
	procs := adapter.HostProcesses{}

	reg := adapter.NewRegistry()
	for _, a := range []adapter.Adapter{
		adapter.NewSystem(cfg, runner, procs),
		adapter.NewDocker(cfg, runner, procs),
		adapter.NewHypervisor(cfg, runner, procs),
	} {
		if err := reg.Register(a); err != nil {
			reg.Close()
			return nil, err
		}
	}
	return reg, nil
}

// newOrchestrator loads config and builds an orchestrator over it
func newOrchestrator(opts ...collector.Option) (*collector.Orchestrator, *config.Config, string, error) {
	cfg, path, err := loadConfig()
	if err != nil {
		return nil, nil, path, fmt.Errorf("load config: %w", err)
	}
	if path != "" {
		log.Printf("Config: loaded %s", path)
	}
	reg, err := newRegistry(cfg)
	if err != nil {
		return nil, nil, path, err
	}
	opts = append([]collector.Option{
		collector.WithForce(cfg.Platform),
		collector.WithDebug(cfg.Debug),
	}, opts...)
	return collector.New(reg, opts...), cfg, path, nil
}

// encode writes v to stdout in the named format
func encode(format string, v any) error {
	enc, err := codec.ForFormat(format)
	if err != nil {
		return err
	}
	return enc.Encode(v, os.Stdout)
}

func addFormatFlag(cmd *cobra.Command, format *string, def string) {
	cmd.Flags().StringVarP(format, "output", "o", def, fmt.Sprintf("output format %v", codec.Formats()))
}

func newCollectCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run one collection pass and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, _, _, err := newOrchestrator()
			if err != nil {
				return err
			}
			defer orch.Close()

			return encode(format, orch.CollectAll(cmd.Context()))
		},
	}
	addFormatFlag(cmd, &format, "json")
	return cmd
}

func newDetectCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Score every adapter against this host",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, _, _, err := newOrchestrator()
			if err != nil {
				return err
			}
			defer orch.Close()

			_, det, err := orch.Detect(cmd.Context())
			if det != nil {
				if encErr := encode(format, det); encErr != nil {
					return encErr
				}
			}
			return err
		},
	}
	addFormatFlag(cmd, &format, "table")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var (
		format           string
		serviceDetection bool
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Confirm discovered TCP listeners with an nmap connect scan",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, cfg, _, err := newOrchestrator()
			if err != nil {
				return err
			}
			defer orch.Close()

			if !cfg.Probes.IsEnabled("nmap") {
				return fmt.Errorf("nmap probe is disabled or %s is not installed", cfg.Probes.Nmap.BinaryPath)
			}

			res := orch.CollectAll(cmd.Context())
			if msg := res.Errors.Get(domain.FacetPorts); msg != "" && len(res.Ports) == 0 {
				return fmt.Errorf("no ports to verify: %s", msg)
			}

			v := adapter.NewNmapVerifier(
				adapter.WithVerifyTarget(cfg.Verify.Target),
				adapter.WithScanTimeout(cfg.Verify.Timeout.Duration()),
				adapter.WithNmapBinary(cfg.Probes.Nmap.BinaryPath),
				adapter.WithServiceDetection(serviceDetection),
			)
			report, err := v.Verify(cmd.Context(), res.Ports)
			if err != nil {
				return err
			}
			return encode(format, report)
		},
	}
	cmd.Flags().BoolVar(&serviceDetection, "service-detection", false, "probe service versions (-sV)")
	addFormatFlag(cmd, &format, "table")
	return cmd
}

func newProbesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probes",
		Short: "List probes and whether their tools are available",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			return encode("json", cfg.Probes.ListProbes())
		},
	}
}

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Report what this process can observe and what attribution it will lose",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			return encode("json", preflight.Run(cfg, preflight.OSHost()))
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("portscope", version)
		},
	}
}
