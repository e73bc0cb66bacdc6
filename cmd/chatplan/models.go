package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/chatplan/internal/catalog"
)

func modelsCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models offered to callers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, closeCache := newCatalog(cmd.Context(), a.cfg, a.logger, prometheus.NewRegistry())
			defer closeCache()

			list := cat.GetModels(cmd.Context())
			if !all {
				list = catalog.Enabled(list)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tPROVIDER\tTOOL CALLS\tENABLED")
			for _, m := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", m.QualifiedID(), m.Name, m.Provider, m.ToolCallType, m.Enabled)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include disabled models")
	return cmd
}
