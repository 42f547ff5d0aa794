package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"wishmaster/internal/registry"
	"wishmaster/pkg/types"
)

func (a *app) modelsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List *.gguf models in the configured directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			models, err := registry.NewGGUFScanner().ScanAll(a.cfg.ModelsDirs)
			if err != nil {
				a.log.Warn().Err(err).Msg("scan models")
			}
			if asJSON {
				if models == nil {
					models = []types.Model{}
				}
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(types.ModelsResponse{Models: models})
			}
			if len(models) == 0 {
				fmt.Fprintln(a.stdout, "no models found")
				return nil
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSIZE\tQUANT\tPATH")
			for _, m := range models {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Name, m.Size, m.Quant, m.Path)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the list as JSON")
	return cmd
}
