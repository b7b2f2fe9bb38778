package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vagus/internal/audit"
	"vagus/internal/config"
	"vagus/internal/governance"
	"vagus/internal/homeostasis"
	"vagus/internal/logging"
	"vagus/internal/modelclient"
	"vagus/internal/orchestrator"
	"vagus/internal/sensor"
	"vagus/internal/tool"
	"vagus/internal/tool/builtin"
)

var (
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "vagus",
	Short: "vagus - self-regulating local agent core",
	Long: `vagus is a local single-user agent runtime.

A homeostasis controller continuously senses system pressure and adjusts an
operational mode (normal, alert, degraded, lockdown, recovery). The mode
constrains which model roles may answer and which tools may run. Requests
flow through a router model that either handles them or delegates to a
reasoning or coding role, with every tool call checked against governance
policy before execution.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; absence is not an error.
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.Setup(level, cfg.Logging.Development)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// askCmd sends one request through the full pipeline: homeostasis running in
// the background, governed tools, model routing.
var askCmd = &cobra.Command{
	Use:   "ask [input]",
	Short: "Process a single request through the agent",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var askChannel string

func runAsk(cmd *cobra.Command, args []string) error {
	input := strings.Join(args, " ")

	channel := orchestrator.Channel(askChannel)
	switch channel {
	case orchestrator.ChannelChat, orchestrator.ChannelCode, orchestrator.ChannelHealth:
	default:
		return fmt.Errorf("unknown channel %q (chat, code, health)", askChannel)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, err := cfg.RoleRegistry()
	if err != nil {
		return err
	}
	models := modelclient.NewHTTPClient(registry,
		modelclient.WithMaxRetries(cfg.Models.MaxRetries),
		modelclient.WithBackoffBase(config.Duration(cfg.Models.BackoffBase, time.Second)),
		modelclient.WithBreaker(cfg.Models.BreakerThreshold, config.Duration(cfg.Models.BreakerCooldown, 30*time.Second)),
	)

	policyStore, err := loadPolicy(ctx)
	if err != nil {
		return err
	}

	store, err := openAudit()
	if err != nil {
		return err
	}
	defer store.Close()

	source := sensor.NewSystemSource()
	bus := sensor.NewBus(cfg.Homeostasis.EventBuffer)

	controller := homeostasis.New(homeostasis.Config{
		PollInterval: config.Duration(cfg.Homeostasis.PollInterval, 5*time.Second),
		Thresholds:   cfg.Homeostasis.Thresholds,
	}, source, bus, homeostasis.WithTransitionSink(store))

	ctrlCtx, ctrlCancel := context.WithCancel(ctx)
	defer ctrlCancel()
	ctrlDone := make(chan struct{})
	go func() {
		defer close(ctrlDone)
		if err := controller.Run(ctrlCtx); err != nil && ctrlCtx.Err() == nil {
			logger.Warn("homeostasis loop exited", zap.Error(err))
		}
	}()

	tools := tool.NewRegistry()
	if err := builtin.RegisterAll(tools); err != nil {
		return err
	}
	executor := tool.NewExecutor(tools, policyStore, controller.State(),
		tool.WithEventBus(bus),
		tool.WithApprover(terminalApprover{in: os.Stdin, out: os.Stderr}),
		tool.WithApprovalTimeout(config.Duration(cfg.Governance.ApprovalTimeout, 30*time.Second)),
	)

	engine := orchestrator.New(models, executor, tools, controller.State(),
		orchestrator.WithSensorSource(source),
		orchestrator.WithConfig(orchestrator.Config{
			MaxDelegations:  cfg.Orchestrator.MaxDelegations,
			MonitorInterval: config.Duration(cfg.Orchestrator.MonitorInterval, time.Second),
			SystemPrompt:    cfg.Orchestrator.SystemPrompt,
		}),
	)

	res := engine.Handle(ctx, orchestrator.Request{
		SessionID: uuid.NewString(),
		Input:     input,
		Channel:   channel,
	})
	if err := store.RecordTrace(ctx, res); err != nil {
		logger.Warn("failed to record trace", zap.Error(err))
	}

	ctrlCancel()
	<-ctrlDone

	printResult(res)
	if res.Error != "" {
		os.Exit(1)
	}
	return nil
}

func printResult(res *orchestrator.Result) {
	fmt.Println(res.Reply)
	if verbose {
		fmt.Fprintf(os.Stderr, "\ntrace %s  state=%s  steps=%d\n", res.TraceID, res.State, len(res.Steps))
		for _, s := range res.Steps {
			line := fmt.Sprintf("  %-10s %s", s.Type, s.Detail)
			if s.Error != "" {
				line += "  error=" + s.Error
			}
			fmt.Fprintln(os.Stderr, line)
		}
		if m := res.Monitoring; m != nil {
			fmt.Fprintf(os.Stderr, "cpu avg=%.1f%% max=%.1f%%  mem avg=%.1f%%\n",
				m.CPU.Avg, m.CPU.Max, m.Memory.Avg)
		}
	}
}

// senseCmd samples the sensors once and prints the snapshot.
var senseCmd = &cobra.Command{
	Use:   "sense",
	Short: "Sample system sensors once",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		snap, err := sensor.NewSystemSource().Sample(ctx)
		if err != nil {
			return fmt.Errorf("sensor sample failed: %w", err)
		}

		fmt.Printf("cpu:    %.1f%%\n", snap.CPUPercent)
		fmt.Printf("memory: %.1f%%\n", snap.MemoryPercent)
		fmt.Printf("disk:   %.1f%%\n", snap.DiskPercent)
		if snap.GPUPercent >= 0 {
			fmt.Printf("gpu:    %.1f%%\n", snap.GPUPercent)
		} else {
			fmt.Println("gpu:    unavailable")
		}
		return nil
	},
}

// policyCmd validates a governance policy file.
var policyCmd = &cobra.Command{
	Use:   "policy [file]",
	Short: "Validate a governance policy file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Governance.PolicyPath
		if len(args) == 1 {
			path = args[0]
		}

		policy, err := governance.Load(path)
		if err != nil {
			return err
		}

		fmt.Printf("%s: ok (%d tool rules)\n", path, len(policy.Tools))
		for name, rule := range policy.Tools {
			modes := make([]string, len(rule.AllowedModes))
			for i, m := range rule.AllowedModes {
				modes[i] = m.String()
			}
			fmt.Printf("  %-16s tier=%s modes=%s\n", name, rule.RiskTier, strings.Join(modes, ","))
		}
		return nil
	},
}

// modesCmd prints the operational modes and their baseline constraints.
var modesCmd = &cobra.Command{
	Use:   "modes",
	Short: "Show operational modes and their constraints",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, m := range []homeostasis.Mode{
			homeostasis.ModeNormal,
			homeostasis.ModeAlert,
			homeostasis.ModeDegraded,
			homeostasis.ModeLockdown,
			homeostasis.ModeRecovery,
		} {
			c := homeostasis.ConstraintsFor(m)
			roles := make([]string, len(c.AllowedRoles))
			for i, r := range c.AllowedRoles {
				roles[i] = string(r)
			}
			fmt.Printf("%-10s roles=%-30s tool_iters=%d concurrency=%d frozen=%v approval=%v\n",
				m, strings.Join(roles, ","), c.MaxToolIterations, c.ConcurrencyLimit,
				c.ToolsFrozen, c.RequireApproval)
		}
		return nil
	},
}

// transitionsCmd dumps recent mode transitions from the audit store.
var transitionsCmd = &cobra.Command{
	Use:   "transitions",
	Short: "Show recent mode transitions from the audit log",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := audit.NewSQLiteStore(cfg.Audit.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		ts, err := store.Transitions(cmd.Context(), 50)
		if err != nil {
			return err
		}
		if len(ts) == 0 {
			fmt.Println("no transitions recorded")
			return nil
		}
		for _, t := range ts {
			fmt.Printf("%s  %s -> %s  %s\n",
				t.Time.Format(time.RFC3339), t.From, t.To, t.Rationale)
		}
		return nil
	},
}

func loadPolicy(ctx context.Context) (*governance.Store, error) {
	policy, err := governance.Load(cfg.Governance.PolicyPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("no policy file, using tool defaults",
				zap.String("path", cfg.Governance.PolicyPath))
			policy = &governance.Policy{}
		} else {
			return nil, err
		}
	}

	store := governance.NewStore(policy)
	if cfg.Governance.Watch {
		go func() {
			if err := governance.Watch(ctx, cfg.Governance.PolicyPath, store); err != nil && ctx.Err() == nil {
				logger.Warn("policy watch stopped", zap.Error(err))
			}
		}()
	}
	return store, nil
}

func openAudit() (audit.Store, error) {
	if !cfg.Audit.Enabled {
		return audit.NoopStore{}, nil
	}
	return audit.NewSQLiteStore(cfg.Audit.Path)
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	askCmd.Flags().StringVar(&askChannel, "channel", "chat", "entry channel (chat, code, health)")

	rootCmd.AddCommand(askCmd, senseCmd, policyCmd, modesCmd, transitionsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
