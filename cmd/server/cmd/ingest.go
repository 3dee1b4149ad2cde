package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Togather-Foundation/catalog/internal/config"
	"github.com/Togather-Foundation/catalog/internal/ingest"
	"github.com/Togather-Foundation/catalog/internal/normalize"
	"github.com/Togather-Foundation/catalog/internal/scraper"
)

var (
	ingestSite      string
	ingestServerURL string
	ingestTimeout   time.Duration
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest <file.json>",
	Short: "Ingest events from a JSON file",
	Long: `Ingest a batch of raw event records from a JSON file.

The file holds either the HTTP request body or a bare array of records:
{
  "site": "bluenote",
  "events": [
    {"title": "Late Set", "date": "2025-06-01", "venue": "Blue Note", "price": "ADV ¥4,500"}
  ]
}

Without a site (in the file or via --site) every record must carry its own
"site" field.

By default the batch runs in-process against DATABASE_URL. With --server the
file is posted to a running server's /api/ingest endpoint instead.

Examples:
  server ingest events.json
  server ingest events.json --site bluenote
  server ingest events.json --server http://localhost:8080`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ingestFile(cmd, args[0])
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSite, "site", "", "site tag applied to every record (overrides the file)")
	ingestCmd.Flags().StringVar(&ingestServerURL, "server", "", "post to this catalog server instead of ingesting in-process")
	ingestCmd.Flags().DurationVar(&ingestTimeout, "timeout", 5*time.Minute, "overall timeout")
}

// batchFile is the on-disk form of one ingestion batch.
type batchFile struct {
	Site   string               `json:"site"`
	Events []normalize.RawEvent `json:"events"`
}

// readBatch accepts {"site", "events"} or a bare array. Numbers are kept as
// json.Number so amounts reach the normalizer unchanged.
func readBatch(r io.Reader) (batchFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return batchFile{}, fmt.Errorf("read file: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return batchFile{}, errors.New("empty file")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var batch batchFile
	if data[0] == '[' {
		err = dec.Decode(&batch.Events)
	} else {
		err = dec.Decode(&batch)
	}
	if err != nil {
		return batchFile{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if len(batch.Events) == 0 {
		return batchFile{}, errors.New(`no events: expected {"site": ..., "events": [...]} or an array of records`)
	}
	batch.Site = strings.TrimSpace(batch.Site)
	return batch, nil
}

func ingestFile(cmd *cobra.Command, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	batch, err := readBatch(f)
	_ = f.Close()
	if err != nil {
		return err
	}
	if ingestSite != "" {
		batch.Site = ingestSite
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Ingesting %d event(s) from %s\n", len(batch.Events), path)

	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	if ingestServerURL != "" {
		return ingestRemote(ctx, cmd, batch)
	}
	return ingestLocal(ctx, cmd, batch)
}

func ingestRemote(ctx context.Context, cmd *cobra.Command, batch batchFile) error {
	client := scraper.NewIngestClient(ingestServerURL, "catalog-cli/"+Version, ingestTimeout)
	res, err := client.SubmitBatch(ctx, batch.Site, batch.Events)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Message)
	if !res.Success {
		return ingest.ErrNoRecordsProcessed
	}
	return nil
}

func ingestLocal(ctx context.Context, cmd *cobra.Command, batch batchFile) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	logger := config.NewLogger(cfg.Logging)

	p, err := newPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	var result ingest.BatchResult
	if batch.Site != "" {
		result, err = p.ingest.IngestBatch(ctx, batch.Site, batch.Events)
	} else {
		tagged := make([]ingest.TaggedRecord, len(batch.Events))
		for i, rec := range batch.Events {
			tagged[i] = ingest.TaggedRecord{Record: rec}
		}
		result, err = p.ingest.IngestMulti(ctx, tagged)
	}
	printBatchResult(cmd.OutOrStdout(), result)
	return err
}

func printBatchResult(out io.Writer, result ingest.BatchResult) {
	for _, o := range result.Outcomes {
		if o.Status == ingest.StatusProcessed {
			continue
		}
		msg := o.Reason
		if o.Err != nil {
			msg = o.Err.Error()
		}
		fmt.Fprintf(out, "  #%d %-8s %q: %s\n", o.Index, o.Status, o.Title, msg)
	}
	fmt.Fprintf(out, "%s (skipped %d, failed %d)\n", result.Message(), result.Skipped, result.Failed)
}
