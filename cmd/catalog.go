package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/echoface/internal/telemetry"
	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List the blendshape and landmark slots of the telemetry packet",
	Run: func(cmd *cobra.Command, args []string) {
		printCatalog(os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(catalogCmd)
}

func printCatalog(out io.Writer) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "FIELD\tSLOT\tNAME")
	fmt.Fprintln(w, "-----\t----\t----")

	for i, name := range telemetry.BlendshapeNames {
		fmt.Fprintf(w, "bs\t%d\t%s\n", i, name)
	}
	for i, id := range telemetry.LandmarkIDs {
		fmt.Fprintf(w, "lm\t%d\t%s (%s)\n", i, id, telemetry.LandmarkNames[id])
	}
	w.Flush()
}
