package main

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/docsage/internal/config"
)

var (
	uploadUser   string
	uploadFormat string
)

var uploadCmd = &cobra.Command{
	Use:   "upload FILE",
	Short: "Upload a document and extract its metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		body, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read %s", args[0])
		}

		env, err := initApp(ctx, config.ModeUpload)
		if err != nil {
			return err
		}
		defer env.Close()

		doc, created, err := env.Documents.Upload(ctx, uploadUser, filepath.Base(args[0]), "", body)
		if err != nil {
			return err
		}
		zap.L().Info("document uploaded",
			zap.String("fingerprint", doc.Fingerprint),
			zap.Bool("created", created),
		)
		return writeOutput(cmd.OutOrStdout(), uploadFormat, doc)
	},
}

func init() {
	uploadCmd.Flags().StringVar(&uploadUser, "user", "", "owning user ID (required)")
	uploadCmd.Flags().StringVar(&uploadFormat, "format", "json", "output format: json or yaml")
	_ = uploadCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(uploadCmd)
}
