package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andresmejia3/rollcall/internal/api"
	"github.com/andresmejia3/rollcall/internal/capture"
	"github.com/andresmejia3/rollcall/internal/config"
	"github.com/andresmejia3/rollcall/internal/store"
	"github.com/spf13/cobra"
)

var (
	// Cfg is the resolved configuration shared by subcommands
	Cfg *config.Config
	// Journal is the optional confirmation journal, opened by the commands that need it
	Journal *store.Store

	configPath string
	apiURL     string
	apiToken   string
	journalURL string
)

// Version is the application version.
const Version = "0.1.0"

// tokenWarnWindow is how close to expiry a token triggers a warning.
const tokenWarnWindow = 15 * time.Minute

var rootCmd = &cobra.Command{
	Use:           "rollcall",
	Short:         "Face recognition attendance client",
	Version:       Version, // This enables the --version flag
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		// An explicit --config must exist, the default one is optional
		Cfg, err = config.Load(configPath, cmd.Flags().Changed("config"))
		if err != nil {
			return err
		}

		// Flags win over file and environment
		if apiURL != "" {
			Cfg.API.BaseURL = apiURL
		}
		if apiToken != "" {
			Cfg.API.Token = apiToken
		}
		if journalURL != "" {
			Cfg.Journal.URL = journalURL
		}

		warnTokenExpiry(Cfg.API.Token, time.Now())
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if Journal != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			Journal.Close(context.Background())
		}
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// Boxed reports were already printed by fail
		var r reportedError
		if !errors.As(err, &r) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "rollcall.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "Attendance backend URL (default: http://localhost:8000)")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", "", "Bearer token (default: $ROLLCALL_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&journalURL, "db", "", "PostgreSQL connection string for the confirmation journal")
}

// reportedError marks an error whose report has already been shown.
type reportedError struct{ error }

func (r reportedError) Unwrap() error { return r.error }

// fail prints a boxed error report and hands the error back to cobra for a non-zero exit.
func fail(title string, err error, s *capture.SafeCommand) error {
	capture.ShowError(title, err, s)
	if err == nil {
		err = errors.New(title)
	}
	return reportedError{fmt.Errorf("%s: %w", title, err)}
}

func newClient() (*api.Client, error) {
	c, err := api.New(Cfg.API.BaseURL, Cfg.API.Token, Cfg.API.Timeout)
	if err != nil {
		return nil, fail("Invalid backend URL", err, nil)
	}
	return c, nil
}

// openJournal connects the journal if one is configured. required turns a
// missing configuration into an error.
func openJournal(ctx context.Context, required bool) error {
	if Cfg.Journal.URL == "" {
		if required {
			return fail("No journal configured", errors.New("set journal.url, ROLLCALL_JOURNAL_URL, POSTGRES_HOST or --db"), nil)
		}
		return nil
	}

	var err error
	Journal, err = store.New(ctx, Cfg.Journal.URL)
	if err != nil {
		return fail("Failed to connect to journal database", err, nil)
	}
	return nil
}

func warnTokenExpiry(token string, now time.Time) {
	if msg := tokenWarning(token, now); msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}
}

// tokenWarning describes a stale or soon-to-expire token, or returns "".
func tokenWarning(token string, now time.Time) string {
	if token == "" {
		return ""
	}
	exp, ok, err := api.TokenExpiry(token)
	if err != nil || !ok {
		return ""
	}
	switch {
	case !exp.After(now):
		return fmt.Sprintf("⚠️  Token expired at %s, run `rollcall login`", exp.Local().Format("2006-01-02 15:04"))
	case exp.Sub(now) < tokenWarnWindow:
		return fmt.Sprintf("⚠️  Token expires in %s", exp.Sub(now).Round(time.Second))
	}
	return ""
}
