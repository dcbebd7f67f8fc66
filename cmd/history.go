package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/docsage/internal/config"
	"github.com/sells-group/docsage/internal/model"
	"github.com/sells-group/docsage/internal/store"
)

var (
	historyUser        string
	historyFingerprint string
	historyFormat      string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded conversations for a user or one document",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(config.ModeHistory); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		var it store.RecordIterator
		if historyFingerprint != "" {
			it, err = st.QueryByDocument(ctx, historyUser, historyFingerprint)
		} else {
			it, err = st.QueryByUser(ctx, historyUser)
		}
		if err != nil {
			return eris.Wrap(err, "query ledger")
		}
		records, err := store.Collect(it)
		if err != nil {
			return eris.Wrap(err, "read ledger")
		}
		if records == nil {
			records = []model.Conversation{}
		}
		return writeOutput(cmd.OutOrStdout(), historyFormat, records)
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyUser, "user", "", "user ID (required)")
	historyCmd.Flags().StringVar(&historyFingerprint, "fingerprint", "", "limit to one document")
	historyCmd.Flags().StringVar(&historyFormat, "format", "json", "output format: json or yaml")
	_ = historyCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(historyCmd)
}
