package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/pressfleet/pressfleet/pkg/catalog"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the operation catalog",
}

var catalogListCategory string

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available maintenance operations",
	Long: `List the operations the orchestrator can run, with their category,
impact level, duration estimate and confirmation requirement.

Example:
  pressfleet catalog list
  pressfleet catalog list --category update
  pressfleet catalog list --catalog ops.yaml`,
	RunE: runCatalogList,
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogListCmd)

	catalogListCmd.Flags().StringVar(&catalogListCategory, "category", "", "Filter by category (update|backup|security|maintenance)")
}

func runCatalogList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	cat, err := loadCatalog(cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid operation catalog", err)
	}

	var ops []catalog.Operation
	if catalogListCategory != "" {
		ops = cat.List(catalog.Category(catalogListCategory))
	} else {
		ops = cat.List()
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCATEGORY\tIMPACT\tDURATION\tCONFIRM")
	for _, op := range ops {
		confirm := ""
		if op.RequiresConfirmation {
			confirm = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s-%s\t%s\n",
			op.ID, op.Category, op.Impact,
			op.EstimatedDuration.Min, op.EstimatedDuration.Max, confirm)
	}
	return w.Flush()
}
