package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yyupcompany/kyyupgame-sub117/password"
)

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Hash a password read from stdin with the configured argon2id parameters",
	Long: `Reads one line from stdin and prints its argon2id hash, suitable for the
users.password column.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("reading password: %w", err)
		}
		plain := strings.TrimRight(line, "\r\n")
		if len(plain) < 6 {
			return errors.New("password must be at least 6 characters")
		}

		hasher, err := password.NewArgon2(password.DefaultArgon2Config())
		if err != nil {
			return err
		}
		hash, err := hasher.Hash(plain)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashPasswordCmd)
}
