package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/quyen-luc/prices-app/internal/common"
	"github.com/quyen-luc/prices-app/internal/config"
	"github.com/quyen-luc/prices-app/internal/cryptox"
	"github.com/spf13/cobra"
)

var errPassphraseMismatch = errors.New("passphrases do not match")

func secretCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage sealed secrets in the config file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "seal",
		Short: "Seal the remote database password for the config file",
		Long: `Reads the password and a passphrase from the terminal and prints the
sealed value to paste into "remote.password". The passphrase is taken from
PRICESYNC_PASSPHRASE when set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			prompts := cmd.ErrOrStderr()

			secret, err := GetPassword(prompts, "Remote password: ")
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			defer common.WipeByteArray(secret)

			passphrase, err := newPassphrase(cmd)
			if err != nil {
				return err
			}
			defer common.WipeByteArray(passphrase)

			sealed, err := cryptox.Seal(secret, passphrase)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return nil
		},
	})
	return cmd
}

// newPassphrase returns PRICESYNC_PASSPHRASE or asks for a passphrase twice.
func newPassphrase(cmd *cobra.Command) ([]byte, error) {
	if env := os.Getenv(config.PassphraseEnv); env != "" {
		return []byte(env), nil
	}
	first, err := GetPassword(cmd.ErrOrStderr(), "New passphrase: ")
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	second, err := GetPassword(cmd.ErrOrStderr(), "Repeat passphrase: ")
	if err != nil {
		common.WipeByteArray(first)
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	defer common.WipeByteArray(second)
	if !bytes.Equal(first, second) {
		common.WipeByteArray(first)
		return nil, errPassphraseMismatch
	}
	return first, nil
}
