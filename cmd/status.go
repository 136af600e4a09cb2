package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/castpull/castpull/internal/status"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show download states for all known episodes",
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

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tSTATE\tPROGRESS\tDETAIL")
		for _, ep := range eps {
			st := a.manager.Status(ep.ID)
			progress := "-"
			if st.State == status.StateRunning || st.State == status.StateVerifying {
				if st.TotalBytes > 0 {
					progress = fmt.Sprintf("%s / %s",
						humanize.Bytes(uint64(st.BytesReceived)),
						humanize.Bytes(uint64(st.TotalBytes)))
				} else {
					progress = humanize.Bytes(uint64(st.BytesReceived))
				}
			}
			detail := st.LocalPath
			if st.State == status.StateFailed {
				detail = st.Error
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", ep.ID[:8], ep.Title, st.State, progress, detail)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
