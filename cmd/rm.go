package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var rmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Cancel and remove an episode from the catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		eps, err := a.catalog.List()
		if err != nil {
			return err
		}

		// Accept ID prefixes the way ls prints them
		var id, localPath string
		for _, ep := range eps {
			if ep.ID == args[0] || strings.HasPrefix(ep.ID, args[0]) {
				if id != "" {
					return fmt.Errorf("ambiguous id prefix %q", args[0])
				}
				id = ep.ID
				localPath = ep.LocalPath
			}
		}
		if id == "" {
			return fmt.Errorf("no episode matches %q", args[0])
		}

		a.manager.Cancel(id)

		if purge, _ := cmd.Flags().GetBool("purge"); purge {
			if st := a.manager.Status(id); st.LocalPath != "" {
				localPath = st.LocalPath
			}
			if localPath != "" {
				if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("failed to remove file: %w", err)
				}
			}
		}

		if err := a.catalog.Remove(id); err != nil {
			return err
		}
		fmt.Printf("removed %s\n", id[:8])
		return nil
	},
}

func init() {
	rmCmd.Flags().Bool("purge", false, "Also delete the downloaded file")
	rootCmd.AddCommand(rmCmd)
}
