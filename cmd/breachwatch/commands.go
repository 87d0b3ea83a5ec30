package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"BreachWatch/internal/app"
	"BreachWatch/internal/config"
	"BreachWatch/internal/domain"
	"BreachWatch/internal/logging"
)

type runtimeState struct {
	configPath string
	logLevel   string
	writer     io.Writer
	cfg        config.Config
	logger     *slog.Logger
}

func newRootCommand(out io.Writer) *cobra.Command {
	rt := &runtimeState{writer: out}

	root := &cobra.Command{
		Use:           "breachwatch",
		Short:         "Monitor email addresses for new data breaches",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.configPath != "" {
				rt.cfg = config.LoadFile(rt.configPath)
			} else {
				rt.cfg = config.Load()
			}
			if rt.logLevel != "" {
				rt.cfg.Logging.Level = rt.logLevel
			}
			rt.logger = logging.NewWithWriter(cmd.ErrOrStderr(), rt.cfg.Logging.Level, rt.cfg.Logging.Format)
			return nil
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&rt.configPath, "config", "", "Path to YAML config (default: $BREACHWATCH_CONFIG)")
	root.PersistentFlags().StringVar(&rt.logLevel, "log-level", "", "Log level override: debug, info, warn, error")

	root.AddCommand(
		newServeCommand(rt),
		newScanCommand(rt),
		newScanEmailCommand(rt),
		newScheduleCommand(rt),
		newSecretsCommand(rt),
	)
	return root
}

// withApp builds the application for one command and closes it afterwards.
func (rt *runtimeState) withApp(cmd *cobra.Command, fn func(*app.Application) error) error {
	application, err := app.New(cmd.Context(), rt.cfg, rt.logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := application.Close(); cerr != nil {
			rt.logger.Warn("close application", "error", cerr)
		}
	}()
	return fn(application)
}

func (rt *runtimeState) printJSON(v any) error {
	enc := json.NewEncoder(rt.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newServeCommand(rt *runtimeState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scan schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.withApp(cmd, func(a *app.Application) error {
				return a.Serve(cmd.Context())
			})
		},
	}
}

func newScanCommand(rt *runtimeState) *cobra.Command {
	var frequency string

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan every due email once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var tier *domain.Frequency
			if frequency != "" {
				f, err := domain.ParseFrequency(frequency)
				if err != nil {
					return err
				}
				tier = &f
			}
			return rt.withApp(cmd, func(a *app.Application) error {
				result, err := a.Scan(cmd.Context(), tier)
				if err != nil {
					return err
				}
				if result.Errors == nil {
					result.Errors = []string{}
				}
				return rt.printJSON(result)
			})
		},
	}
	cmd.Flags().StringVar(&frequency, "frequency", "", "Only scan this tier: DAILY, WEEKLY or MONTHLY")
	return cmd
}

func newScanEmailCommand(rt *runtimeState) *cobra.Command {
	return &cobra.Command{
		Use:   "scan-email <id>",
		Short: "Scan one monitored email now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withApp(cmd, func(a *app.Application) error {
				result, err := a.ScanEmail(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return rt.printJSON(result)
			})
		},
	}
}

type scheduleOutput struct {
	Schedule     domain.ScheduleConfig `yaml:"schedule"`
	Descriptions map[string]string     `yaml:"descriptions"`
	Timezone     string                `yaml:"timezone"`
}

func newScheduleCommand(rt *runtimeState) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Print the configured scan schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.withApp(cmd, func(a *app.Application) error {
				cfg, err := a.Schedule(cmd.Context())
				if err != nil {
					return err
				}
				out := scheduleOutput{
					Schedule:     cfg,
					Descriptions: make(map[string]string, len(domain.Frequencies)),
					Timezone:     rt.cfg.Scheduler.Location().String(),
				}
				for _, tier := range domain.Frequencies {
					out.Descriptions[string(tier)] = cfg.Describe(tier)
				}
				data, err := yaml.Marshal(out)
				if err != nil {
					return fmt.Errorf("failed to marshal to YAML: %w", err)
				}
				_, err = rt.writer.Write(data)
				return err
			})
		},
	}
}

func newSecretsCommand(rt *runtimeState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage credentials in the OS keyring",
	}

	set := &cobra.Command{
		Use:   "set <entry> <value>",
		Short: "Store a credential (hibp-api-key or smtp-password)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[1] == "" {
				return errors.New("value must not be empty")
			}
			return rt.withApp(cmd, func(a *app.Application) error {
				if err := a.SetSecret(args[0], args[1]); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(rt.writer, "stored %s\n", args[0])
				return nil
			})
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show which credentials are configured",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.withApp(cmd, func(a *app.Application) error {
				st, err := a.SettingsStatus(cmd.Context())
				if err != nil {
					return err
				}
				return rt.printJSON(st)
			})
		},
	}

	cmd.AddCommand(set, status)
	return cmd
}
