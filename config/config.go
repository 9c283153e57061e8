package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dhcgn/parcelscan/body"
	"github.com/dhcgn/parcelscan/state"
)

// DefaultMaxMessages caps a scan when no positional argument is given.
const DefaultMaxMessages = 75

// Mailbox sources.
const (
	SourceGmail = "gmail"
	SourceIMAP  = "imap"
	SourceMbox  = "mbox"
)

// Environment fallbacks for flags left empty.
const (
	EnvIMAPPass    = "IMAP_PASS"
	EnvCredentials = "PARCELSCAN_CREDENTIALS"
	EnvStateDir    = "PARCELSCAN_STATE_DIR"
)

// Common holds the options shared by every command.
type Common struct {
	StateDir string
	Ledger   state.Backend
	OrgRules string
	LogLevel string
	LogDir   string
}

// Config captures all command-line options required to run a scan.
type Config struct {
	Common

	MaxMessages int
	Source      string
	Label       string
	DryRun      bool
	Progress    bool
	BodyParser  body.Strategy

	FetchTimeout time.Duration

	Credentials string
	TokenPath   string

	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	InsecureSkipVerify bool

	MboxPath      string
	ExcludeHeader []string
	ExcludeBody   []string
}

// RegisterFlags attaches all CLI flags to the root command. Flags shared
// with subcommands are persistent.
func RegisterFlags(cmd *cobra.Command) error {
	defaultStateDir, err := defaultStateDir()
	if err != nil {
		return err
	}

	persistent := cmd.PersistentFlags()
	persistent.String("state-dir", defaultStateDir, "Directory holding the purchase and error ledgers (falls back to "+EnvStateDir+")")
	persistent.String("ledger", string(state.BackendFile), "Ledger backend: file or sqlite")
	persistent.String("org-rules", "", "YAML file with organization rules (built-in rules when empty)")
	persistent.String("log-level", "info", "Logging level: debug, info, warn, error")
	persistent.String("log-dir", "", "Also write logs to a timestamped file in this directory")

	flags := cmd.Flags()
	flags.String("source", SourceGmail, "Mailbox source: gmail, imap or mbox")
	flags.String("label", "shipments", "Mailbox label holding shipment notifications")
	flags.Bool("dry-run", false, "Extract and report without writing the ledgers")
	flags.Bool("progress", false, "Show a progress bar on stderr")
	flags.String("body-parser", string(body.StrategyPositional), "Message body parser: positional or semantic")
	flags.Duration("fetch-timeout", 30*time.Second, "Timeout for remote tracking page requests")
	flags.String("credentials", "credentials.json", "Google OAuth client secrets file (falls back to "+EnvCredentials+")")
	flags.String("token", "", "OAuth token cache file (defaults to token.json in the state dir)")
	flags.String("imap-host", "", "IMAP server hostname")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to "+EnvIMAPPass+" env var)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("mbox", "", "Path to a Takeout .mbox archive")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to mbox message headers")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to mbox message bodies")

	return nil
}

// LoadDotEnv loads KEY=value pairs from path into the environment without
// overriding variables already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// LoadCommon reads the shared flags.
func LoadCommon(cmd *cobra.Command) (Common, error) {
	flags := cmd.Flags()

	stateDir, err := flags.GetString("state-dir")
	if err != nil {
		return Common{}, err
	}
	ledger, err := flags.GetString("ledger")
	if err != nil {
		return Common{}, err
	}
	orgRules, err := flags.GetString("org-rules")
	if err != nil {
		return Common{}, err
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return Common{}, err
	}
	logDir, err := flags.GetString("log-dir")
	if err != nil {
		return Common{}, err
	}

	if !flags.Changed("state-dir") {
		if env := os.Getenv(EnvStateDir); env != "" {
			stateDir = env
		}
	}
	if stateDir == "" {
		stateDir, err = defaultStateDir()
		if err != nil {
			return Common{}, err
		}
	}

	logLevel = strings.ToLower(logLevel)
	if logLevel == "warning" {
		logLevel = "warn"
	}

	common := Common{
		StateDir: filepath.Clean(stateDir),
		Ledger:   state.Backend(strings.ToLower(ledger)),
		OrgRules: orgRules,
		LogLevel: logLevel,
		LogDir:   logDir,
	}
	if err := validateCommon(common); err != nil {
		return Common{}, err
	}
	return common, nil
}

// LoadConfig converts the parsed Cobra flags and the optional max-messages
// argument into a Config struct with validation.
func LoadConfig(cmd *cobra.Command, args []string) (Config, error) {
	common, err := LoadCommon(cmd)
	if err != nil {
		return Config{}, err
	}
	flags := cmd.Flags()

	maxMessages := DefaultMaxMessages
	if len(args) > 0 {
		maxMessages, err = strconv.Atoi(args[0])
		if err != nil || maxMessages <= 0 {
			return Config{}, fmt.Errorf("max-messages must be a positive integer, got %q", args[0])
		}
	}

	source, err := flags.GetString("source")
	if err != nil {
		return Config{}, err
	}
	label, err := flags.GetString("label")
	if err != nil {
		return Config{}, err
	}
	dryRun, err := flags.GetBool("dry-run")
	if err != nil {
		return Config{}, err
	}
	progress, err := flags.GetBool("progress")
	if err != nil {
		return Config{}, err
	}
	bodyParser, err := flags.GetString("body-parser")
	if err != nil {
		return Config{}, err
	}
	fetchTimeout, err := flags.GetDuration("fetch-timeout")
	if err != nil {
		return Config{}, err
	}
	credentials, err := flags.GetString("credentials")
	if err != nil {
		return Config{}, err
	}
	tokenPath, err := flags.GetString("token")
	if err != nil {
		return Config{}, err
	}
	imapHost, err := flags.GetString("imap-host")
	if err != nil {
		return Config{}, err
	}
	imapPort, err := flags.GetInt("imap-port")
	if err != nil {
		return Config{}, err
	}
	imapUser, err := flags.GetString("imap-user")
	if err != nil {
		return Config{}, err
	}
	imapPass, err := flags.GetString("imap-pass")
	if err != nil {
		return Config{}, err
	}
	useTLS, err := flags.GetBool("use-tls")
	if err != nil {
		return Config{}, err
	}
	insecureSkipVerify, err := flags.GetBool("insecure-skip-verify")
	if err != nil {
		return Config{}, err
	}
	mboxPath, err := flags.GetString("mbox")
	if err != nil {
		return Config{}, err
	}
	excludeHeader, err := flags.GetStringArray("exclude-header")
	if err != nil {
		return Config{}, err
	}
	excludeBody, err := flags.GetStringArray("exclude-body")
	if err != nil {
		return Config{}, err
	}

	if imapPass == "" {
		imapPass = os.Getenv(EnvIMAPPass)
	}
	if !flags.Changed("credentials") {
		if env := os.Getenv(EnvCredentials); env != "" {
			credentials = env
		}
	}
	if tokenPath == "" {
		tokenPath = filepath.Join(common.StateDir, "token.json")
	}

	cfg := Config{
		Common:             common,
		MaxMessages:        maxMessages,
		Source:             strings.ToLower(source),
		Label:              label,
		DryRun:             dryRun,
		Progress:           progress,
		BodyParser:         body.Strategy(strings.ToLower(bodyParser)),
		FetchTimeout:       fetchTimeout,
		Credentials:        credentials,
		TokenPath:          tokenPath,
		IMAPHost:           imapHost,
		IMAPPort:           imapPort,
		IMAPUser:           imapUser,
		IMAPPass:           imapPass,
		UseTLS:             useTLS,
		InsecureSkipVerify: insecureSkipVerify,
		MboxPath:           mboxPath,
		ExcludeHeader:      excludeHeader,
		ExcludeBody:        excludeBody,
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateCommon(c Common) error {
	switch c.Ledger {
	case state.BackendFile, state.BackendSQLite:
	default:
		return fmt.Errorf("invalid --ledger: %s", c.Ledger)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", c.LogLevel)
	}

	return nil
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Label) == "" {
		return fmt.Errorf("--label is required")
	}
	if cfg.MaxMessages <= 0 {
		return fmt.Errorf("max-messages must be a positive integer")
	}
	if cfg.FetchTimeout <= 0 {
		return fmt.Errorf("--fetch-timeout must be positive")
	}

	switch cfg.BodyParser {
	case body.StrategyPositional, body.StrategySemantic:
	default:
		return fmt.Errorf("invalid --body-parser: %s", cfg.BodyParser)
	}

	switch cfg.Source {
	case SourceGmail:
		if cfg.Credentials == "" {
			return fmt.Errorf("--credentials is required for the gmail source")
		}
	case SourceIMAP:
		if cfg.IMAPHost == "" {
			return fmt.Errorf("--imap-host is required")
		}
		if cfg.IMAPUser == "" {
			return fmt.Errorf("--imap-user is required")
		}
		if cfg.IMAPPass == "" {
			return fmt.Errorf("IMAP password must be provided via --imap-pass or %s env var", EnvIMAPPass)
		}
		if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
			return fmt.Errorf("--imap-port must be between 1 and 65535")
		}
	case SourceMbox:
		if cfg.MboxPath == "" {
			return fmt.Errorf("--mbox is required for the mbox source")
		}
	default:
		return fmt.Errorf("invalid --source: %s", cfg.Source)
	}

	return nil
}

func defaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".parcelscan", "state"), nil
}
