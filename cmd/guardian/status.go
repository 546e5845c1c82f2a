package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/fentz26/guardian/internal/guardian"
	"github.com/fentz26/guardian/internal/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of every subsystem",
	RunE:  runStatus,
}

var checkCmd = &cobra.Command{
	Use:   "check [root...]",
	Short: "Run a full check and report the threats it raised",
	RunE:  runCheck,
}

var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat [component-id] [metric=value...]",
	Short: "Send a heartbeat for a component, registering it first if asked",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runHeartbeat,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream new threats as they are reported",
	RunE:  runWatch,
}

var (
	hbRegister bool
	hbType     string
	hbCritical bool
	jsonOutput bool
)

func init() {
	heartbeatCmd.Flags().BoolVar(&hbRegister, "register", false, "Register the component before the heartbeat")
	heartbeatCmd.Flags().StringVar(&hbType, "type", "", "Component type (with --register)")
	heartbeatCmd.Flags().BoolVar(&hbCritical, "critical", false, "Mark the component critical (with --register)")
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print raw JSON")
	checkCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print raw JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	health, err := CheckHealth()
	if err != nil && health == nil {
		return err
	}

	var st guardian.Status
	if err := apiJSON("GET", "/status", nil, &st); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(st)
	}

	fmt.Printf("Daemon:      v%s (db: %s)\n", health.Version, health.DB)
	fmt.Printf("Health:      %s (%d healthy, %d warning, %d dead)\n",
		st.Health.Overall, st.Health.Healthy, st.Health.Warning, st.Health.Dead)
	if len(st.Health.DeadCritical) > 0 {
		fmt.Printf("             dead critical: %s\n", strings.Join(st.Health.DeadCritical, ", "))
	}
	fmt.Printf("Integrity:   %d files baselined (%s)\n", st.Integrity.Files, humanize.IBytes(uint64(st.Integrity.TotalSize)))
	if st.Integrity.LastScan != nil {
		fmt.Printf("             last scan %s\n", humanize.Time(*st.Integrity.LastScan))
	}
	fmt.Printf("Cleanup:     %d files cleanable (%s)\n", st.Cleanup.CleanableFiles, humanize.IBytes(uint64(st.Cleanup.CleanableBytes)))
	fmt.Printf("Adaptation:  %d pending, %d approved, %d applied, %d failed\n",
		st.Adaptation.Pending, st.Adaptation.Approved, st.Adaptation.Applied, st.Adaptation.Failed)
	fmt.Printf("Threats:     %d pending\n", st.PendingThreats)

	if len(st.Health.Components) > 0 {
		fmt.Println()
		ids := make([]string, 0, len(st.Health.Components))
		for id := range st.Health.Components {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "COMPONENT\tSTATUS\tCRITICAL\tLAST HEARTBEAT\tANOMALIES")
		for _, id := range ids {
			c := st.Health.Components[id]
			last := "never"
			if !c.LastHeartbeat.IsZero() {
				last = humanize.Time(c.LastHeartbeat)
			}
			fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%d\n", id, c.Status, c.Critical, last, c.AnomalyCount)
		}
		w.Flush()
	}
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	var res guardian.CheckResult
	if err := apiJSON("POST", "/check", map[string]any{"roots": args}, &res); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(res)
	}

	fmt.Printf("Health:    %s\n", res.Health.Overall)
	if res.Integrity != nil {
		fmt.Printf("Integrity: %d scanned, %d passed, %d issues\n", res.Integrity.Scanned, res.Integrity.Passed, len(res.Integrity.Issues))
	}
	fmt.Printf("Cleanup:   %d files (%s) could be cleaned\n", res.Cleanup.TotalFiles, humanize.IBytes(uint64(res.Cleanup.TotalSize)))
	fmt.Printf("Threats:   %d raised\n", len(res.Threats))
	for _, id := range res.Threats {
		fmt.Printf("  %s\n", id)
	}
	return nil
}

func runHeartbeat(cmd *cobra.Command, args []string) error {
	id := args[0]
	metrics := make(map[string]float64, len(args)-1)
	for _, kv := range args[1:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("metric %q must be name=value", kv)
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("metric %q: %w", k, err)
		}
		metrics[k] = f
	}

	if hbRegister {
		body := map[string]any{"id": id, "type": hbType, "critical": hbCritical}
		if _, err := apiPost("/components", body); err != nil {
			return err
		}
	}
	if _, err := apiPost("/components/"+id+"/heartbeat", map[string]any{"metrics": metrics}); err != nil {
		return err
	}
	fmt.Printf("Heartbeat sent for %s\n", id)
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wsURL := "ws" + strings.TrimPrefix(apiAddr, "http") + "/ws/threats"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("connecting to threat stream: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()

	fmt.Println("Watching for threats (Ctrl+C to stop)...")
	for {
		var msg struct {
			Type    string        `json:"type"`
			Payload models.Threat `json:"payload"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		if msg.Type != "threat" {
			continue
		}
		t := msg.Payload
		fmt.Printf("%s  %-8s %-16s %-24s %s  %s\n",
			t.Timestamp.Local().Format("15:04:05"), t.Severity, t.Source, t.Type, t.Component, t.ID)
	}
}
