package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"PoE-Chain/internal/auth"
	"PoE-Chain/internal/claim"
)

func (a *app) keygenCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a secp256k1 key for signature mode",
		Long: `Generate a secp256k1 private key, write it as hex to --out and print the
matching address. The address is the account that owns claims created with
--key-file pointing at the key.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(out); err == nil {
				return fmt.Errorf("key file already exists: %s", out)
			}
			if err := os.MkdirAll(filepath.Dir(out), 0o700); err != nil {
				return fmt.Errorf("create key directory: %w", err)
			}
			key, err := crypto.GenerateKey()
			if err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			if err := crypto.SaveECDSA(out, key); err != nil {
				return fmt.Errorf("save key: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Key written to %s\n", out)
			fmt.Fprintln(cmd.OutOrStdout(), crypto.PubkeyToAddress(key.PublicKey).Hex())
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", defaultPath("key.hex"), "path of the private key file")
	return cmd
}

func (a *app) tokenCommand() *cobra.Command {
	var (
		opts auth.JWTOptions
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <account>",
		Short: "Issue an HS256 bearer token for jwt mode",
		Long: `Issue a bearer token offline with the server's shared secret. The secret can
also be provided through POE_JWT_SECRET.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Secret == "" {
				opts.Secret = os.Getenv("POE_JWT_SECRET")
			}
			token, err := auth.IssueToken(opts, claim.AccountID(args[0]), ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Secret, "secret", "", "shared HS256 secret")
	cmd.Flags().StringVar(&opts.Issuer, "issuer", "", "token issuer")
	cmd.Flags().StringVar(&opts.Audience, "audience", "", "token audience")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

// defaultPath returns a path under $HOME/.poe, falling back to the working directory.
func defaultPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, ".poe", name)
}
