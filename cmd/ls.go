package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List catalog episodes",
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
		if len(eps) == 0 {
			fmt.Println("No episodes in the catalog. Use 'castpull add <url>' to add one.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tFEED\tTITLE\tSTATE\tSIZE")
		for _, ep := range eps {
			size := "-"
			state := a.manager.GetState(ep.ID).String()
			if ep.Downloaded {
				state = "downloaded"
				if info, err := os.Stat(ep.LocalPath); err == nil {
					size = humanize.Bytes(uint64(info.Size()))
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", ep.ID[:8], ep.FeedTitle, ep.Title, state, size)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(lsCmd)
}
