package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	boltstore "github.com/yyupcompany/kyyupgame-sub117/store/bolt"
)

var (
	auditFile  string
	auditAfter string
	auditLimit int
	auditAge   time.Duration
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the local audit log",
	Long:  `Commands for reading and pruning the BBolt audit log written by serve.`,
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print audit records as JSON lines, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		if auditFile == "" {
			return errors.New("--file is required")
		}
		l, err := boltstore.Open(auditFile, nil)
		if err != nil {
			return err
		}
		defer l.Close()

		recs, err := l.List(auditAfter, auditLimit)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, rec := range recs {
			if err := enc.Encode(rec); err != nil {
				return err
			}
		}
		return nil
	},
}

var auditPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete audit records older than --older-than",
	RunE: func(cmd *cobra.Command, args []string) error {
		if auditFile == "" {
			return errors.New("--file is required")
		}
		if auditAge <= 0 {
			return errors.New("--older-than must be positive")
		}
		l, err := boltstore.Open(auditFile, nil)
		if err != nil {
			return err
		}
		defer l.Close()

		n, err := l.Prune(time.Now().Add(-auditAge))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pruned %d records\n", n)
		return nil
	},
}

func init() {
	auditCmd.PersistentFlags().StringVar(&auditFile, "file", "", "Path to the audit BBolt file")
	auditListCmd.Flags().StringVar(&auditAfter, "after", "", "Only records after this record id")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum records to print (0 for all)")
	auditPruneCmd.Flags().DurationVar(&auditAge, "older-than", 0, "Age cutoff, e.g. 2160h")
	auditCmd.AddCommand(auditListCmd, auditPruneCmd)
	rootCmd.AddCommand(auditCmd)
}
