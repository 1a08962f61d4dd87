package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/themis-legal/themis/internal/embeddings"
	"github.com/themis-legal/themis/pkg/server"
)

// IngestCmd chunks, embeds and stores a text file in the knowledge base.
var IngestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest a text file into the knowledge base",
	Long: `Split a UTF-8 text file into overlapping word chunks, embed every chunk
with the configured embedding model and store them in the knowledge base.`,
	Example: `  # Ingest a statute
  themis ingest cdc.txt --source-type legislation --title "Código de Defesa do Consumidor"

  # Ingest a case document tagged to its case
  themis ingest peticao.txt --source-type document --tag case:7f1c`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	IngestCmd.Flags().String("source-type", "legislation", "Source type (legislation, jurisprudence, document, ...)")
	IngestCmd.Flags().String("title", "", "Title; defaults to the file name")
	IngestCmd.Flags().String("url", "", "Source URL")
	IngestCmd.Flags().StringSlice("tag", nil, "Tag to attach (repeatable)")
	IngestCmd.Flags().Int("chunk-size", 0, "Words per chunk (0 uses the default)")
	IngestCmd.Flags().Int("overlap", 0, "Words shared by consecutive chunks")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	sourceType, _ := cmd.Flags().GetString("source-type")
	title, _ := cmd.Flags().GetString("title")
	url, _ := cmd.Flags().GetString("url")
	tags, _ := cmd.Flags().GetStringSlice("tag")
	chunkSize, _ := cmd.Flags().GetInt("chunk-size")
	overlap, _ := cmd.Flags().GetInt("overlap")
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	}

	ctx := cmd.Context()
	srv, err := server.New(ctx, cfg, server.Options{SkipTelemetry: true})
	if err != nil {
		return err
	}
	defer srv.Close(ctx)

	res, err := srv.Embeddings.Ingest(ctx, embeddings.IngestPayload{
		Content:    string(raw),
		SourceType: sourceType,
		SourceURL:  url,
		Title:      title,
		Tags:       tags,
		ChunkSize:  chunkSize,
		Overlap:    overlap,
	})
	if err != nil {
		return fmt.Errorf("ingest %s: %w", args[0], err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
