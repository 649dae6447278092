// Package main provides the visatrack binary entry point.
// Visatrack tracks visa applications through a configurable sequence of
// steps and serves the tracker's API and client application.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/c360studio/visatrack/config"
	"github.com/c360studio/visatrack/export"
	"github.com/dustin/go-humanize"
	"github.com/google/renameio"
	"github.com/spf13/cobra"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "visatrack"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	var (
		flags globalFlags
		port  int
	)

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Visa application tracker",
		Long: `Visatrack tracks visa applications through a configurable sequence of
steps.

Running visatrack without a subcommand serves:
- The applicant, settings, upload, export and import API under /api
- Uploaded documents under /uploads
- The client application from the configured client directory
- Prometheus metrics under /metrics

Data is kept as JSON documents in the data directory.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(flags.logLevel)
			cfg, err := loadConfig(flags.configPath, logger)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
				if err := cfg.Validate(); err != nil {
					return fmt.Errorf("invalid configuration: %w", err)
				}
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (overrides config)")

	cmd.AddCommand(
		exportCmd(&flags),
		importCmd(&flags),
		configCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)

	return cmd
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.NewLoader(logger).Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// serve runs the gateway until SIGINT or SIGTERM.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	app, err := NewApp(cfg, logger)
	if err != nil {
		return err
	}

	if err := app.Run(signalCtx); err != nil {
		return err
	}
	logger.Info("Shutdown complete")
	return nil
}

// ----------------------------------------------------------------------------
// export
// ----------------------------------------------------------------------------

func exportCmd(flags *globalFlags) *cobra.Command {
	var (
		output string
		ids    []string
	)

	cmd := &cobra.Command{
		Use:   "export <backup|zip>",
		Short: "Write a backup or document archive",
		Long: `Export writes either a JSON backup of the settings and applicants, or a
zip archive with a text summary and each applicant's documents.

The file is named after the export type and today's date unless --output
is given. Use --output - to write to stdout.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(export.FormatBackup), string(export.FormatZip)},
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := export.ParseFormat(args[0])
			if err != nil {
				return err
			}
			logger := newLogger(flags.logLevel)
			cfg, err := loadConfig(flags.configPath, logger)
			if err != nil {
				return err
			}
			svc, err := openServices(cfg, logger)
			if err != nil {
				return err
			}
			if err := svc.seed(cmd.Context()); err != nil {
				return err
			}

			info, _ := export.GetFormatInfo(format)
			if output == "" {
				output = info.FileName(time.Now())
			}
			return runExport(cmd.Context(), cmd.OutOrStdout(), svc.bundler, format, output, ids)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: dated file in the current directory)")
	cmd.Flags().StringSliceVar(&ids, "id", nil, "Only export these applicant ids (repeatable)")
	return cmd
}

// runExport writes the export to output, replacing any existing file atomically.
// Progress is reported on out unless the export itself goes to stdout.
func runExport(ctx context.Context, out io.Writer, b *export.Bundler, format export.Format, output string, ids []string) error {
	if output == "-" {
		return writeExport(ctx, out, b, format, ids, io.Discard)
	}

	f, err := renameio.TempFile(filepath.Dir(output), output)
	if err != nil {
		return fmt.Errorf("create %s: %w", output, err)
	}
	defer func() { _ = f.Cleanup() }()

	if err := writeExport(ctx, f, b, format, ids, out); err != nil {
		return err
	}
	if err := f.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}

	if st, err := os.Stat(output); err == nil {
		fmt.Fprintf(out, "Wrote %s (%s)\n", output, humanize.Bytes(uint64(st.Size())))
	}
	return nil
}

func writeExport(ctx context.Context, w io.Writer, b *export.Bundler, format export.Format, ids []string, report io.Writer) error {
	switch format {
	case export.FormatBackup:
		snap, err := b.Snapshot(ctx, ids)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("encode backup: %w", err)
		}
		fmt.Fprintf(report, "Backed up %d applicants\n", len(snap.Applicants))
		return nil

	case export.FormatZip:
		rep, err := b.WriteArchive(ctx, w, ids)
		if err != nil {
			return err
		}
		fmt.Fprintf(report, "Archived %d applicants, %d documents (%s)\n",
			rep.Applicants, rep.Documents, humanize.Bytes(uint64(rep.Bytes)))
		for _, m := range rep.Missing {
			fmt.Fprintf(report, "  missing: %s %s (%s)\n", m.Name, m.URL, m.ApplicantID)
		}
		return nil
	}
	return fmt.Errorf("%w: %q", export.ErrUnsupportedFormat, format)
}

// ----------------------------------------------------------------------------
// import
// ----------------------------------------------------------------------------

func importCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import <backup.json|->",
		Short: "Replace settings and applicants from a backup",
		Long: `Import validates a JSON backup and replaces the stored settings and
applicants with its contents. Nothing is written when the backup is invalid.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read backup: %w", err)
			}

			logger := newLogger(flags.logLevel)
			cfg, err := loadConfig(flags.configPath, logger)
			if err != nil {
				return err
			}
			svc, err := openServices(cfg, logger)
			if err != nil {
				return err
			}

			snap, err := svc.bundler.Import(cmd.Context(), data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d applicants and %d visa steps\n",
				len(snap.Applicants), len(snap.Settings.VisaSteps))
			return nil
		},
	}
}

// ----------------------------------------------------------------------------
// config
// ----------------------------------------------------------------------------

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a config file with the default settings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ProjectConfigFile
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("stat %s: %w", path, err)
			}
			if err := config.DefaultConfig().SaveToFile(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			fmt.Fprintln(cmd.OutOrStdout(), "Admin login is required by default. Set auth.require_admin: false to serve without authentication on a trusted network.")
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")

	cmd.AddCommand(initCmd)
	return cmd
}
