// Package cli implements poectl, the command line client for the PoE-Chain API.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"PoE-Chain/sdk/go/poe"
)

// Settings are the values poectl reads from flags, POE_* variables and the config file.
type Settings struct {
	Server  string        `yaml:"server"`
	Account string        `yaml:"account,omitempty"`
	Token   string        `yaml:"token,omitempty"`
	KeyFile string        `yaml:"key-file,omitempty"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Server:  "http://127.0.0.1:8080",
		Timeout: 15 * time.Second,
	}
}

type app struct {
	v       *viper.Viper
	cfgFile string
	verbose bool
}

// NewRootCommand builds the poectl command tree with its own configuration state.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}
	defaults := DefaultSettings()

	root := &cobra.Command{
		Use:   "poectl",
		Short: "poectl - proof of existence claim registry client",
		Long: `poectl registers, revokes, transfers and inspects proof-of-existence claims
on a PoE-Chain server.

Claims are byte fingerprints given as 0x-prefixed hex. Use --text to register the
UTF-8 bytes of an argument or --file to register the SHA-256 digest of a file.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.initConfig(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default: $HOME/.poe/config.yaml)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")
	flags.String("server", defaults.Server, "PoE-Chain API base URL")
	flags.String("account", "", "account header used when the server runs without authentication")
	flags.String("token", "", "bearer token for jwt mode")
	flags.String("key-file", "", "hex private key file used to sign requests in signature mode")
	flags.Duration("timeout", defaults.Timeout, "request timeout")
	for _, name := range []string{"server", "account", "token", "key-file", "timeout"} {
		_ = a.v.BindPFlag(name, flags.Lookup(name))
	}

	root.AddCommand(
		a.createCommand(),
		a.revokeCommand(),
		a.transferCommand(),
		a.getCommand(),
		a.keygenCommand(),
		a.tokenCommand(),
		a.configCommand(),
	)
	return root
}

// Execute runs poectl with os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}

// initConfig reads in config file and ENV variables.
func (a *app) initConfig(cmd *cobra.Command) error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("find home directory: %w", err)
		}
		a.v.AddConfigPath(filepath.Join(home, ".poe"))
		a.v.SetConfigType("yaml")
		a.v.SetConfigName("config")
	}

	a.v.SetEnvPrefix("POE")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if a.cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	} else if a.verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "Using config file: %s\n", a.v.ConfigFileUsed())
	}
	return nil
}

func (a *app) settings() Settings {
	return Settings{
		Server:  a.v.GetString("server"),
		Account: a.v.GetString("account"),
		Token:   a.v.GetString("token"),
		KeyFile: a.v.GetString("key-file"),
		Timeout: a.v.GetDuration("timeout"),
	}
}

func (a *app) client() (*poe.Client, error) {
	s := a.settings()
	opts := []poe.Option{}
	switch {
	case s.KeyFile != "":
		key, err := crypto.LoadECDSA(s.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load key file: %w", err)
		}
		opts = append(opts, poe.WithSigner(key))
	case s.Token != "":
		opts = append(opts, poe.WithBearerToken(s.Token))
	case s.Account != "":
		opts = append(opts, poe.WithAccount(s.Account))
	}
	return poe.NewClient(s.Server, opts...)
}

func (a *app) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	timeout := a.settings().Timeout
	if timeout <= 0 {
		timeout = DefaultSettings().Timeout
	}
	return context.WithTimeout(cmd.Context(), timeout)
}
