package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dhcgn/parcelscan/auth"
	"github.com/dhcgn/parcelscan/body"
	"github.com/dhcgn/parcelscan/classify"
	cli "github.com/dhcgn/parcelscan/cmd"
	"github.com/dhcgn/parcelscan/config"
	"github.com/dhcgn/parcelscan/extract"
	"github.com/dhcgn/parcelscan/fetch"
	"github.com/dhcgn/parcelscan/filter"
	"github.com/dhcgn/parcelscan/gmail"
	"github.com/dhcgn/parcelscan/imap"
	"github.com/dhcgn/parcelscan/logging"
	"github.com/dhcgn/parcelscan/mbox"
	"github.com/dhcgn/parcelscan/progress"
	"github.com/dhcgn/parcelscan/runner"
	"github.com/dhcgn/parcelscan/state"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "parcelscan [max-messages]",
		Short: "Extract tracking numbers and delivery addresses from shipment notifications",
		Args:  cobra.MaximumNArgs(1),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(".env")
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd, args)
			if err != nil {
				return err
			}

			logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogDir)
			if err != nil {
				return err
			}
			defer func() {
				_ = logger.Sync()
				_ = cleanup()
			}()

			runID := uuid.NewString()
			logger = logger.With(zap.String("runID", runID))
			logger.Info("starting parcelscan",
				zap.String("source", cfg.Source),
				zap.String("label", cfg.Label),
				zap.Int("maxMessages", cfg.MaxMessages),
				zap.String("stateDir", cfg.StateDir),
				zap.Bool("dryRun", cfg.DryRun))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, runID, logger)
		},
	}
	rootCmd.SilenceUsage = true

	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}
	rootCmd.AddCommand(cli.NewReportCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, runID string, logger *zap.Logger) error {
	orgs := classify.DefaultOrganizations()
	if cfg.OrgRules != "" {
		var err error
		if orgs, err = classify.LoadOrganizations(cfg.OrgRules); err != nil {
			return fmt.Errorf("load organization rules: %w", err)
		}
	}
	assembler := classify.NewAssembler(orgs)

	ledger, err := state.Open(cfg.Ledger, cfg.StateDir, state.Options{
		Persist:   !cfg.DryRun,
		RunID:     runID,
		Assembler: assembler,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			logger.Warn("closing ledger", zap.Error(err))
		}
	}()

	parser, err := body.NewParser(cfg.BodyParser)
	if err != nil {
		return err
	}

	mailbox, closeMailbox, err := openMailbox(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeMailbox()

	r, err := runner.New(runner.Config{
		Mailbox:     mailbox,
		Ledger:      ledger,
		Parser:      parser,
		Registry:    extract.DefaultRegistry(fetch.New(cfg.FetchTimeout)),
		Assembler:   assembler,
		Logger:      logger,
		Output:      os.Stdout,
		Progress:    progress.New(cfg.Progress),
		Label:       cfg.Label,
		MaxMessages: cfg.MaxMessages,
	})
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}

	_, err = r.Run(ctx)
	return err
}

func openMailbox(ctx context.Context, cfg config.Config, logger *zap.Logger) (runner.Mailbox, func(), error) {
	noop := func() {}

	switch cfg.Source {
	case config.SourceIMAP:
		mb, err := imap.New(imap.Options{
			Host:               cfg.IMAPHost,
			Port:               cfg.IMAPPort,
			Username:           cfg.IMAPUser,
			Password:           cfg.IMAPPass,
			UseTLS:             cfg.UseTLS,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		}, logger)
		if err != nil {
			return nil, noop, fmt.Errorf("imap.New: %w", err)
		}
		return mb, func() {
			if err := mb.Close(); err != nil {
				logger.Warn("closing imap connection", zap.Error(err))
			}
		}, nil

	case config.SourceMbox:
		mb, err := mbox.New(mbox.Options{
			Path: cfg.MboxPath,
			Filter: filter.Options{
				ExcludeHeader: cfg.ExcludeHeader,
				ExcludeBody:   cfg.ExcludeBody,
			},
		}, logger)
		if err != nil {
			return nil, noop, fmt.Errorf("mbox.New: %w", err)
		}
		return mb, noop, nil

	default:
		oauthCfg, err := auth.ConfigFromFile(cfg.Credentials, gmail.Scopes...)
		if err != nil {
			return nil, noop, err
		}
		authorizer := &auth.LoopbackAuthorizer{
			Open: func(authURL string) error {
				_, err := fmt.Fprintf(os.Stderr, "Open this link in your browser to authorize parcelscan:\n%s\n", authURL)
				return err
			},
			Logger: logger,
		}
		client, err := auth.NewSession(ctx, oauthCfg, auth.NewFileTokenCache(cfg.TokenPath), authorizer)
		if err != nil {
			return nil, noop, fmt.Errorf("gmail session: %w", err)
		}
		mb, err := gmail.New(ctx, client, logger)
		if err != nil {
			return nil, noop, fmt.Errorf("gmail.New: %w", err)
		}
		return mb, noop, nil
	}
}
