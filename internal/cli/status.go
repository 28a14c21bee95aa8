package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/voicebatch/internal/batch/health"
)

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the circuit state of every provider of a running instance",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "status server address (default is localhost:<server.port>)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	addr := statusAddr
	if addr == "" {
		addr = fmt.Sprintf("localhost:%d", cfg.Server.Port)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + addr + "/health/detailed")
	if err != nil {
		slog.Error("Failed to reach status server", "addr", addr, "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var rep health.HealthReport
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		slog.Error("Failed to decode health report", "error", err)
		os.Exit(1)
	}

	fmt.Printf("System: %s\n\n", rep.SystemStatus)

	names := make([]string, 0, len(rep.Providers))
	for name := range rep.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "PROVIDER\tSTATUS\tCIRCUIT\tFAILURES\tTRIPS\tCOOLDOWN")
	for _, name := range names {
		p := rep.Providers[name]
		state, failures, trips, cooldown := "closed", 0, 0, time.Duration(0)
		if p.Circuit != nil {
			state, failures, trips, cooldown = p.Circuit.State, p.Circuit.ConsecutiveFailures, p.Circuit.Trips, p.Circuit.Cooldown
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%v\n", name, p.Status, state, failures, trips, cooldown)
	}
	_ = w.Flush()
}
