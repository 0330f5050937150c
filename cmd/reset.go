package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	resetJournal bool
	resetPreview bool
	previewFiles []string
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset local state (journal tables, preview images)",
	Long:  "Clears local data. By default, it resets everything. Use flags to clear specific components.",
	RunE: func(cmd *cobra.Command, args []string) error {
		// If no flags are set, default to clearing EVERYTHING
		if !resetJournal && !resetPreview {
			resetJournal = true
			resetPreview = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetJournal {
			if Cfg.Journal.URL == "" {
				fmt.Println("ℹ️  No journal configured, skipping database.")
			} else if confirm(reader, os.Stdout, "⚠️  Are you sure you want to DROP the confirmation journal?") {
				if err := openJournal(cmd.Context(), true); err != nil {
					return err
				}
				fmt.Println("🗑️  Clearing Journal...")
				if err := Journal.Reset(cmd.Context()); err != nil {
					return fail("Failed to reset journal", err, nil)
				}
			}
		}

		if resetPreview {
			if confirm(reader, os.Stdout, "⚠️  Are you sure you want to delete the preview images?") {
				fmt.Println("🗑️  Clearing Preview Images...")
				for _, p := range previewFiles {
					removeFile(p)
				}
			}
		}

		fmt.Println("✨ Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetJournal, "journal", false, "Drop the PostgreSQL journal tables")
	resetCmd.Flags().BoolVar(&resetPreview, "previews", false, "Delete preview images")
	resetCmd.Flags().StringSliceVar(&previewFiles, "preview-file", []string{defaultPreviewPath}, "Preview files to delete")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, w io.Writer, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
