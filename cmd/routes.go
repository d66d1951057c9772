package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/DragonSecurity/gwbridge/internal/routing"
	"github.com/DragonSecurity/gwbridge/pkg/config"
)

func init() {
	routesCheckCmd.Flags().String("routes", config.Default().RoutingPath, "routing config file")
	_ = viper.BindPFlag("check."+config.EnvRoutingPath, routesCheckCmd.Flags().Lookup("routes"))
	_ = viper.BindEnv("check."+config.EnvRoutingPath, config.EnvRoutingPath)

	routesCmd.AddCommand(routesCheckCmd)
	rootCmd.AddCommand(routesCmd)
}

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Inspect the routing config",
}

var routesCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the routing config and print the resolved table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := viper.GetString("check." + config.EnvRoutingPath)
		t, err := routing.LoadFile(path)
		if err != nil {
			return err
		}
		return printTable(cmd, path, t)
	},
}

func printTable(cmd *cobra.Command, path string, t *routing.Table) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "OPERATION\tURL\tTIMEOUT\n")
	for _, r := range t.Routes() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Operation, r.URL, r.Timeout)
	}
	if def, ok := t.Default(); ok {
		fmt.Fprintf(w, "*\t%s\t%s\n", def.URL, def.Timeout)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d routes OK\n", path, t.Len())
	return nil
}
