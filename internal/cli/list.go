package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/photo-matcher/internal/storage"
)

var listCmd = &cobra.Command{
	Use:   "list [uploads|selfies]",
	Short: "List stored photos",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ns := storage.Uploads
		if len(args) == 1 {
			parsed, err := storage.ParseNamespace(args[0])
			if err != nil {
				return err
			}
			ns = parsed
		}

		a, err := newApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.Close()

		refs, err := a.svc.List(cmd.Context(), ns)
		if err != nil {
			return err
		}
		for _, ref := range refs {
			fmt.Fprintln(cmd.OutOrStdout(), ref.URL)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
