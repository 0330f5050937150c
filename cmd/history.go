package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/rollcall/internal/store"
	"github.com/spf13/cobra"
)

var (
	historySubject string
	historyLimit   int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List confirmed sessions from the journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openJournal(cmd.Context(), true); err != nil {
			return err
		}
		entries, err := Journal.ListConfirmations(cmd.Context(), historySubject, historyLimit)
		if err != nil {
			return fail("Failed to list confirmations", err, nil)
		}
		printHistory(os.Stdout, entries)
		return nil
	},
}

func init() {
	historyCmd.Flags().StringVarP(&historySubject, "subject", "s", "", "Only show this class")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "Maximum number of entries")
	rootCmd.AddCommand(historyCmd)
}

func printHistory(out io.Writer, entries []store.Confirmation) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No confirmations recorded.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tSUBJECT\tPRESENT\tABSENT\tCONFIRMED")
	fmt.Fprintln(w, "--\t-------\t-------\t------\t---------")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", e.ID.String()[:8], e.SubjectID, len(e.Present), len(e.Absent), e.ConfirmedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}
