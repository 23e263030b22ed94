// Command ghgctl runs imports and analytics against the ledger store from the
// command line. It shares configuration and wiring with the HTTP server.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/ghgledger/internal/application"
	"github.com/JonMunkholm/ghgledger/internal/config"
	"github.com/JonMunkholm/ghgledger/internal/core"
	"github.com/JonMunkholm/ghgledger/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}

// run executes one command line and closes the application afterwards.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	c := &cli{}
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if c.app != nil {
		if cerr := c.app.Close(context.Background()); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		fmt.Fprintln(stderr, errorText(err))
	}
	return err
}

// errorText renders a failed command. Errors with a known user message show
// it with its code, followed by the underlying error.
func errorText(err error) string {
	if !core.IsUserFacing(err) {
		return "Error: " + err.Error()
	}
	return "Error: " + core.FormatUserError(err) + "\n  " + err.Error()
}

// cli carries the persistent flags and the application built from them.
type cli struct {
	output   string
	dbDriver string
	dbURL    string
	encoding string
	envFile  string

	app *application.App
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:               "ghgctl",
		Short:             "Import emissions files and query reconciliation and anomaly analytics",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.output, "output", "o", "text", "output format: text, json or yaml")
	flags.StringVar(&c.dbDriver, "db-driver", "", "store driver: postgres, sqlite or memory (default sqlite unless DB_DRIVER is set)")
	flags.StringVar(&c.dbURL, "db-url", "", "postgres URL, or file path for sqlite")
	flags.StringVar(&c.encoding, "encoding", "auto", "CSV text encoding: auto, utf-8, windows-1252 or iso-8859-1")
	flags.StringVar(&c.envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	root.AddCommand(
		c.previewCmd(),
		c.commitCmd(),
		c.reconcileCmd(),
		c.explainCmd(),
		c.anomaliesCmd(),
		c.facilityCmd(),
		c.adaptersCmd(),
		c.watchCmd(),
		versionCmd(),
	)
	return root
}

// setup loads configuration and opens the application for every command
// that reads or writes the store.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	if !needsApp(cmd) {
		return nil
	}
	if _, err := parseFormat(c.output); err != nil {
		return err
	}
	if !validEncoding(c.encoding) {
		return fmt.Errorf("unsupported encoding %q", c.encoding)
	}

	// A missing dotenv file is not an error.
	_ = godotenv.Load(c.envFile)

	cfg, err := config.Load(c.overrides())
	if err != nil {
		return err
	}

	// Logs go to stderr so stdout stays machine-readable.
	slog.SetDefault(logging.New(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format))

	c.app, err = application.New(cmd.Context(), cfg)
	return err
}

// overrides applies the database flags on top of the environment. Without
// either a flag or DB_DRIVER the CLI uses a local sqlite file.
func (c *cli) overrides() config.Option {
	return func(cfg *config.Config) {
		switch {
		case c.dbDriver != "":
			cfg.Database.Driver = strings.ToLower(c.dbDriver)
		case os.Getenv("DB_DRIVER") == "":
			cfg.Database.Driver = "sqlite"
		}
		if c.dbURL == "" {
			return
		}
		if cfg.Database.Driver == "sqlite" {
			cfg.Database.SQLitePath = c.dbURL
		} else {
			cfg.Database.URL = c.dbURL
		}
	}
}

func needsApp(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "version", "help", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
		return false
	}
	return !cmd.HasParent() || cmd.Parent().Name() != "completion"
}

func validEncoding(enc string) bool {
	switch enc {
	case "", "auto", "utf-8", "windows-1252", "iso-8859-1":
		return true
	}
	return false
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), application.Version)
		},
	}
}
