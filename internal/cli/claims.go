package cli

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"PoE-Chain/sdk/go/poe"
)

// fingerprintFlags selects how a claim argument is turned into bytes.
type fingerprintFlags struct {
	text bool
	file bool
}

func (f *fingerprintFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.text, "text", false, "treat the claim argument as UTF-8 text")
	cmd.Flags().BoolVar(&f.file, "file", false, "treat the claim argument as a file path and use its SHA-256 digest")
	cmd.MarkFlagsMutuallyExclusive("text", "file")
}

func (f *fingerprintFlags) resolve(arg string) ([]byte, error) {
	switch {
	case f.text:
		return []byte(arg), nil
	case f.file:
		return fileDigest(arg)
	default:
		raw := strings.TrimSpace(arg)
		if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
			raw = "0x" + raw
		}
		if raw == "0x" {
			return []byte{}, nil
		}
		fp, err := hexutil.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("claim must be hex encoded (use --text or --file otherwise): %w", err)
		}
		return fp, nil
	}
}

func fileDigest(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open claim file: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("hash claim file: %w", err)
	}
	return h.Sum(nil), nil
}

func printClaim(w io.Writer, c poe.Claim) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func (a *app) createCommand() *cobra.Command {
	var fp fingerprintFlags
	cmd := &cobra.Command{
		Use:   "create <claim>",
		Short: "Register a new claim owned by the caller",
		Example: `  poectl create 0x616263
  poectl create --text "hello world"
  poectl create --file ./contract.pdf --key-file ~/.poe/key.hex`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			claim, err := fp.resolve(args[0])
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			out, err := client.Create(ctx, claim)
			if err != nil {
				return err
			}
			return printClaim(cmd.OutOrStdout(), out)
		},
	}
	fp.register(cmd)
	return cmd
}

func (a *app) revokeCommand() *cobra.Command {
	var fp fingerprintFlags
	cmd := &cobra.Command{
		Use:   "revoke <claim>",
		Short: "Revoke a claim owned by the caller",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			claim, err := fp.resolve(args[0])
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			out, err := client.Revoke(ctx, claim)
			if err != nil {
				return err
			}
			return printClaim(cmd.OutOrStdout(), out)
		},
	}
	fp.register(cmd)
	return cmd
}

func (a *app) transferCommand() *cobra.Command {
	var fp fingerprintFlags
	cmd := &cobra.Command{
		Use:   "transfer <claim> <new-owner>",
		Short: "Transfer a claim owned by the caller to another account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			claim, err := fp.resolve(args[0])
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			out, err := client.Transfer(ctx, claim, args[1])
			if err != nil {
				return err
			}
			return printClaim(cmd.OutOrStdout(), out)
		},
	}
	fp.register(cmd)
	return cmd
}

func (a *app) getCommand() *cobra.Command {
	var fp fingerprintFlags
	cmd := &cobra.Command{
		Use:   "get <claim>",
		Short: "Show the current record of a claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			claim, err := fp.resolve(args[0])
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			out, err := client.Get(ctx, claim)
			if err != nil {
				return err
			}
			return printClaim(cmd.OutOrStdout(), out)
		},
	}
	fp.register(cmd)
	return cmd
}
