package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var toolsJSON bool

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Print the effective tool catalog",
	Long: `Print the tools the model is offered: configured tools and the tools of
connected MCP servers, minus disabledTools. Browser client tools only exist
while a client is connected to 'aipex serve'.`,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "Print the catalog as JSON")
}

func runTools(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, appOptions{noSave: true})
	if err != nil {
		return err
	}
	defer a.Close()

	catalog := a.router.Catalog()
	out := cmd.OutOrStdout()
	if toolsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(catalog)
	}

	if len(catalog) == 0 {
		fmt.Fprintln(out, "No tools configured.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDESCRIPTION")
	for _, spec := range catalog {
		fmt.Fprintf(tw, "%s\t%s\n", spec.Name, spec.Description)
	}
	return tw.Flush()
}
