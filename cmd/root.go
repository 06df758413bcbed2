/*
Package cmd implements the openpgp-card command line tool with Cobra.

Commands:
  - readers: list PC/SC readers
  - info: show the OpenPGP application of a card
  - verify: check a PIN
  - sign, decrypt: private key operations
  - generate: on-card key generation
  - passwd: PIN management
  - reset: factory reset
  - config: print the effective configuration
*/
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gregLibert/openpgp-card/internal/config"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	reader     string
	trace      bool
	logLevel   string
	logFormat  string
	noSM       bool
}

// app carries the state resolved before a command runs.
type app struct {
	flags  globalFlags
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "openpgp-card",
		Short: "Drive the OpenPGP application of a smart card",
		Long: `openpgp-card talks to an OpenPGP card (v3.x) through PC/SC: it reads the
card state, signs, decrypts, generates keys and manages PINs.

Secure messaging (SCP11b) is used when the card offers it.

Configuration is read from $XDG_CONFIG_HOME/openpgp-card/config.yaml when
present, or from --config. Flags override the file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configPath, "config", "", "configuration file (default: $XDG_CONFIG_HOME/openpgp-card/config.yaml)")
	pf.StringVar(&a.flags.reader, "reader", "", "PC/SC reader name substring (default: first reader)")
	pf.BoolVar(&a.flags.trace, "trace", false, "dump the APDU trace on stderr when the command ends")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&a.flags.logFormat, "log-format", "", "text or json")
	pf.BoolVar(&a.flags.noSM, "no-secure-messaging", false, "never open an SCP11b session")

	root.AddCommand(
		newReadersCmd(a),
		newInfoCmd(a),
		newVerifyCmd(a),
		newSignCmd(a),
		newDecryptCmd(a),
		newGenerateCmd(a),
		newPasswdCmd(a),
		newResetCmd(a),
		newConfigCmd(a),
	)
	return root
}

// Execute runs the command line. It is called by main.main().
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads the configuration, applies the flags given explicitly and
// builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.LoadOrDefault(a.flags.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("reader") {
		cfg.Reader = a.flags.reader
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = a.flags.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = a.flags.logFormat
	}
	if a.flags.noSM {
		cfg.SecureMessaging.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = newLogger(cmd.ErrOrStderr(), cfg.SlogLevel(), cfg.Log.Format)
	return nil
}

func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
