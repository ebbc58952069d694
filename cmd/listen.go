package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/andresmejia3/echoface/internal/telemetry"
	"github.com/andresmejia3/echoface/internal/utils"
	"github.com/spf13/cobra"
)

var listenOpts struct {
	Bind string
	Top  int
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Print telemetry packets arriving on a UDP port",
	Run: func(cmd *cobra.Command, args []string) {
		runListen(cmd, fmt.Sprintf("%s:%d", listenOpts.Bind, cfg.TargetPort), listenOpts.Top)
	},
}

func init() {
	listenCmd.Flags().StringVar(&listenOpts.Bind, "bind", "0.0.0.0", "Address to listen on")
	listenCmd.Flags().IntVarP(&cfg.TargetPort, "port", "p", cfg.TargetPort, "UDP port to listen on")
	listenCmd.Flags().IntVarP(&listenOpts.Top, "top", "n", 5, "Number of strongest blendshapes to print per packet")
	rootCmd.AddCommand(listenCmd)
}

func runListen(cmd *cobra.Command, addr string, top int) {
	recv, err := telemetry.Listen(addr, log)
	if err != nil {
		utils.Die("Failed to listen", err, nil)
	}
	defer recv.Close()

	fmt.Fprintf(os.Stderr, "👂 Listening on %s (Ctrl+C to stop)\n", recv.Addr())
	err = recv.Run(cmd.Context(), func(p telemetry.Packet) {
		printPacket(os.Stdout, p, top)
	})
	if err != nil {
		utils.Die("Receiver failed", err, nil)
	}
	fmt.Fprintf(os.Stderr, "\n🏁 Accepted %d packets, discarded %d stale and %d malformed.\n",
		recv.Accepted, recv.Stale, recv.Malformed)
}

type scoredShape struct {
	Name  string
	Score float64
}

// topBlendshapes returns the n highest non-zero scores, strongest first.
func topBlendshapes(p telemetry.Packet, n int) []scoredShape {
	var out []scoredShape
	for i, v := range p.BS {
		if v > 0 {
			out = append(out, scoredShape{Name: telemetry.BlendshapeNames[i], Score: v})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func printPacket(w io.Writer, p telemetry.Packet, top int) {
	var b strings.Builder
	fmt.Fprintf(&b, "ts=%-8d", p.TS)
	for _, s := range topBlendshapes(p, top) {
		fmt.Fprintf(&b, " %s=%.2f", s.Name, s.Score)
	}
	for i, id := range telemetry.LandmarkIDs {
		lm := p.LM[i]
		fmt.Fprintf(&b, " | %s=(%.3f,%.3f,%.3f)", id, lm[0], lm[1], lm[2])
	}
	fmt.Fprintln(w, b.String())
}
