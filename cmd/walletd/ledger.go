package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/OKaluzny/wallet-custody/pkg/models"
)

var processingOnly bool

func init() {
	ledgerListCmd.Flags().BoolVar(&processingOnly, "processing", false, "only list unfinished transactions")
	ledgerCmd.AddCommand(ledgerListCmd)
	rootCmd.AddCommand(ledgerCmd)
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the local transaction ledger",
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List transactions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, nil)
		if err != nil {
			return err
		}
		defer a.close()

		recs := a.ledger.All()
		if processingOnly {
			recs = a.ledger.Processing()
		}
		printRecords(recs)
		return nil
	},
}

func printRecords(recs []models.TransactionRecord) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCATEGORY\tSTATE\tPROGRESS\tSUBMITTED\tERROR")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.0f%%\t%s\t%s\n",
			r.ID, r.Category, r.State, r.Progress()*100,
			r.SubmittedAt.Format(time.RFC3339), r.ErrorMessage)
	}
	w.Flush()
}
