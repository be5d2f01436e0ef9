package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/srg/hearlink/internal/config"
	"github.com/srg/hearlink/internal/device"
	"github.com/srg/hearlink/internal/groutine"
	"github.com/srg/hearlink/internal/mirror"
)

// watchCmd runs a presentation-side mirror and renders the device list.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Mirror and display host device state",
	Long: `Connect to the host daemon, start a scan and keep a live replica of
device state, rendered as a table (or JSON stream). The replica applies
push events as they arrive and reconciles against the host once per poll
interval.`,
	RunE: runWatch,
}

var (
	watchURL    string
	watchFormat string
	watchPoll   time.Duration
	watchNoScan bool
)

func init() {
	watchCmd.Flags().StringVarP(&watchURL, "url", "u", "", "Host bridge URL (default ws://<listen>/ws from config)")
	watchCmd.Flags().StringVarP(&watchFormat, "format", "f", "table", "Output format (table, json)")
	watchCmd.Flags().DurationVar(&watchPoll, "poll", 0, "Reconciliation poll interval (overrides config)")
	watchCmd.Flags().BoolVar(&watchNoScan, "no-scan", false, "Do not start a scan, just mirror current state")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	if watchFormat != "table" && watchFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", watchFormat)
	}

	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	url := watchURL
	if url == "" {
		url = "ws://" + cfg.Listen + "/ws"
	}
	if watchPoll > 0 {
		cfg.PollInterval = watchPoll
	}

	// Rendering owns stdout; keep the logger quiet unless asked.
	logger, err := configureLogger(cmd, logrus.PanicLevel)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nCtrl+C pressed, stopping...")
		cancel()
	}()

	client, err := mirror.Dial(ctx, url, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	m := mirror.New(client, &mirror.Options{
		PollInterval:     cfg.PollInterval,
		FailedClearAfter: cfg.FailedClearAfter,
	}, logger)

	groutine.Go(ctx, "mirror-run", func(ctx context.Context) {
		m.Run(ctx)
	})

	if !watchNoScan {
		if err := m.StartScan(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
			defer stop()
			_ = m.StopScan(stopCtx)
		}()
	}

	render := time.NewTicker(cfg.PollInterval)
	defer render.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-client.Done():
			return fmt.Errorf("lost connection to host")
		case <-render.C:
			if watchFormat == "json" {
				if err := printDevicesJSON(m.Devices()); err != nil {
					return err
				}
			} else {
				printDevicesTable(m)
			}
		}
	}
}

func printDevicesJSON(devs []device.Device) error {
	enc := json.NewEncoder(os.Stdout)
	return enc.Encode(devs)
}

// printDevicesTable redraws the device table in place when stdout is a
// terminal, appends snapshots otherwise.
func printDevicesTable(m *mirror.Mirror) {
	devs := m.Devices()
	sort.Slice(devs, func(i, j int) bool { return devs[i].ID < devs[j].ID })

	isTTY := term.IsTerminal(int(os.Stdout.Fd()))
	if isTTY {
		fmt.Print("\033[H\033[2J") // clear screen
	}

	fmt.Printf("Adapter: %s   Devices: %d\n\n", colorAdapter(m.AdapterState()), len(devs))

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tRSSI\tSTATE\tSERVICES")
	for _, d := range devs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			d.ID, d.DisplayName(), d.RSSI, colorState(m.DisplayState(d.ID)), strings.Join(d.Services, ","))
	}
	w.Flush()
}

func colorAdapter(st device.AdapterState) string {
	switch st {
	case device.AdapterPoweredOn:
		return color.GreenString(string(st))
	case device.AdapterPoweredOff, device.AdapterUnauthorized, device.AdapterUnsupported:
		return color.RedString(string(st))
	default:
		return color.YellowString(string(st))
	}
}

func colorState(state string) string {
	switch state {
	case string(device.StateConnected):
		return color.GreenString(state)
	case string(device.StateConnecting), string(device.StateDisconnecting):
		return color.YellowString(state)
	case "failed":
		return color.RedString(state)
	default:
		return state
	}
}
