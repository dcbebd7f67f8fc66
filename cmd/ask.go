package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/docsage/internal/config"
	"github.com/sells-group/docsage/internal/model"
)

var (
	askUser        string
	askFingerprint string
	askFormat      string
)

// askOutput mirrors the HTTP ask response.
type askOutput struct {
	model.Answer
	Cached  bool     `json:"cached"`
	Score   *float64 `json:"similarity,omitempty"`
	SortKey string   `json:"sort_key,omitempty"`
}

var askCmd = &cobra.Command{
	Use:   "ask QUESTION",
	Short: "Ask a question about an uploaded document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx, config.ModeAsk)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.QA.Ask(ctx, askUser, askFingerprint, args[0])
		if err != nil {
			return err
		}

		out := askOutput{Answer: res.Answer, Cached: res.Cached}
		if res.Cached {
			score := res.Score
			out.Score = &score
		}
		if res.Record != nil {
			out.SortKey = res.Record.SortKey
		}
		zap.L().Debug("ask complete",
			zap.String("fingerprint", askFingerprint),
			zap.Bool("cached", res.Cached),
		)
		return writeOutput(cmd.OutOrStdout(), askFormat, out)
	},
}

func init() {
	askCmd.Flags().StringVar(&askUser, "user", "", "user ID that owns the document (required)")
	askCmd.Flags().StringVar(&askFingerprint, "fingerprint", "", "document fingerprint (required)")
	askCmd.Flags().StringVar(&askFormat, "format", "json", "output format: json or yaml")
	_ = askCmd.MarkFlagRequired("user")
	_ = askCmd.MarkFlagRequired("fingerprint")
	rootCmd.AddCommand(askCmd)
}
