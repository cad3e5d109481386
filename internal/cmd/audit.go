package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pressfleet/pressfleet/internal/observability"
	"github.com/pressfleet/pressfleet/pkg/auditlog"
	"github.com/pressfleet/pressfleet/pkg/orchestrator"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query and export the audit log",
}

var (
	auditBatchID   string
	auditSiteID    string
	auditOperation string
	auditState     string
	auditLimit     int

	auditExportOutput string
	auditExportS3     bool
)

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded task outcomes",
	Long: `List terminal task outcomes from the audit log, newest first.

Example:
  pressfleet audit list
  pressfleet audit list --batch 9f0c... --state failed
  pressfleet audit list --site shop-001 --limit 50`,
	RunE: runAuditList,
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export audit records as JSONL",
	Long: `Export matching audit records as JSONL, one record envelope per
line with a trailing summary record.

Example:
  pressfleet audit export --output audit.jsonl
  pressfleet audit export --batch 9f0c... --output -
  pressfleet audit export --s3`,
	RunE: runAuditExport,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditExportCmd)

	for _, c := range []*cobra.Command{auditListCmd, auditExportCmd} {
		c.Flags().StringVar(&auditBatchID, "batch", "", "Filter by batch id")
		c.Flags().StringVar(&auditSiteID, "site", "", "Filter by site id")
		c.Flags().StringVar(&auditOperation, "operation", "", "Filter by operation id")
		c.Flags().StringVar(&auditState, "state", "", "Filter by terminal state (completed|failed|cancelled)")
		c.Flags().IntVar(&auditLimit, "limit", 0, "Maximum records (default 500)")
	}
	auditExportCmd.Flags().StringVarP(&auditExportOutput, "output", "o", "-", "Output path, - for stdout")
	auditExportCmd.Flags().BoolVar(&auditExportS3, "s3", false, "Archive the export to the configured S3 bucket")
}

func auditQuery() auditlog.Query {
	return auditlog.Query{
		BatchID:     auditBatchID,
		SiteID:      auditSiteID,
		OperationID: auditOperation,
		State:       orchestrator.TaskState(auditState),
		Limit:       auditLimit,
	}
}

func openAuditStore(cmd *cobra.Command) (*auditlog.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	store, err := auditlog.Open(cmd.Context(), auditlog.Config{Path: cfg.Audit.Path})
	if err != nil {
		return nil, exitError(foundry.ExitFileNotFound, "Cannot open audit store", err)
	}
	return store, nil
}

func runAuditList(cmd *cobra.Command, args []string) error {
	store, err := openAuditStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	entries, err := store.List(cmd.Context(), auditQuery())
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Audit query failed", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RECORDED\tTASK\tBATCH\tOPERATION\tSITE\tSTATE\tATTEMPTS\tERROR")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			e.RecordedAt.Format(time.RFC3339),
			shortID(e.TaskID), shortID(e.BatchID),
			e.OperationID, e.SiteID, e.State, e.AttemptCount, e.Error)
	}
	return w.Flush()
}

func runAuditExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	store, err := auditlog.Open(ctx, auditlog.Config{Path: cfg.Audit.Path})
	if err != nil {
		return exitError(foundry.ExitFileNotFound, "Cannot open audit store", err)
	}
	defer func() { _ = store.Close() }()

	if auditExportS3 {
		archiver, err := auditlog.NewArchiver(ctx, auditlog.ArchiveConfig{
			Bucket:          cfg.Audit.Archive.Bucket,
			Prefix:          cfg.Audit.Archive.Prefix,
			Region:          cfg.Audit.Archive.Region,
			Endpoint:        cfg.Audit.Archive.Endpoint,
			Profile:         cfg.Audit.Archive.Profile,
			AccessKeyID:     cfg.Audit.Archive.AccessKeyID,
			SecretAccessKey: cfg.Audit.Archive.SecretAccessKey,
			ForcePathStyle:  cfg.Audit.Archive.ForcePathStyle,
		})
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid archive configuration", err)
		}
		key, n, err := archiver.Archive(ctx, store, auditQuery())
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Archive upload failed", err)
		}
		observability.CLILogger.Info("audit export archived",
			zap.String("bucket", cfg.Audit.Archive.Bucket),
			zap.String("key", key),
			zap.Int("entries", n))
		return nil
	}

	out := os.Stdout
	if auditExportOutput != "" && auditExportOutput != "-" {
		f, err := os.Create(auditExportOutput)
		if err != nil {
			return exitError(foundry.ExitFileWriteError, "Cannot create output file", err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	n, err := store.Export(ctx, out, auditQuery())
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Export failed", err)
	}
	observability.CLILogger.Info("audit export written",
		zap.String("output", auditExportOutput),
		zap.Int("entries", n))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
