package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/spf13/cobra"
)

var subjectsCmd = &cobra.Command{
	Use:   "subjects",
	Short: "List the classes taught by the signed-in teacher",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		subjects, err := client.Subjects(cmd.Context())
		if err != nil {
			return fail("Failed to list subjects", err, nil)
		}
		printSubjects(os.Stdout, subjects)
		return nil
	},
}

var rosterCmd = &cobra.Command{
	Use:   "roster <subject_id>",
	Short: "List the students enrolled in a class",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		students, err := client.Students(cmd.Context(), args[0])
		if err != nil {
			return fail("Failed to load students", err, nil)
		}
		printStudents(os.Stdout, students)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(subjectsCmd)
	rootCmd.AddCommand(rosterCmd)
}

func printSubjects(out io.Writer, subjects []types.Subject) {
	if len(subjects) == 0 {
		fmt.Fprintln(out, "No subjects found.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tCODE\tNAME")
	fmt.Fprintln(w, "--\t----\t----")
	for _, s := range subjects {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, s.Code, s.Name)
	}
	w.Flush()
}

// printStudents lists the roster; unverified students are shown but never counted in a session.
func printStudents(out io.Writer, students []types.Student) {
	if len(students) == 0 {
		fmt.Fprintln(out, "No students enrolled.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ROLL\tNAME\tID\tVERIFIED")
	fmt.Fprintln(w, "----\t----\t--\t--------")
	for _, s := range students {
		verified := "no"
		if s.Verified {
			verified = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Roll, s.Name, s.StudentID, verified)
	}
	w.Flush()
}
