package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) allocateCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "allocate",
		Short: "Reserve a range of copy ids",
		Long: "Advances the copy id counter by n and prints the reserved range, for labels " +
			"printed before the copies are entered.",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, store, err := a.openServices(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			ids, err := svc.Books.AllocateCopyIDs(cmd.Context(), n)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d-%d\n", ids[0], ids[len(ids)-1])
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "count", "n", 1, "number of ids to reserve")
	return cmd
}
