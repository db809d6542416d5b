package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/sakif/community-library/internal/service"
)

func (a *app) verifyCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the cross-document invariants of the store",
		Long:  "Scans books, copies and users and lists every invariant violation. Exits 1 when any is found.",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, store, err := a.openServices(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			report, err := svc.Integrity.Verify(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				printReport(cmd.OutOrStdout(), report)
			}
			if !report.OK() {
				return errViolations
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func printReport(w io.Writer, report *service.IntegrityReport) {
	fmt.Fprintf(w, "checked %d books, %d copies, %d users\n", report.Books, report.Copies, report.Users)
	if report.OK() {
		fmt.Fprintln(w, "no violations")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tCOLLECTION\tID\tDETAIL")
	for _, v := range report.Violations {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.Kind, v.Collection, v.ID, v.Detail)
	}
	tw.Flush()
	fmt.Fprintf(w, "%d violations\n", len(report.Violations))
}
