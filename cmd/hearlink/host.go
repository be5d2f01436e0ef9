package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/hearlink/internal/bridge"
	"github.com/srg/hearlink/internal/config"
	"github.com/srg/hearlink/internal/device/goble"
	"github.com/srg/hearlink/internal/session"
)

// hostCmd runs the privileged daemon that owns the radio.
var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Run the host daemon",
	Long: `Run the privileged host daemon. It owns the Bluetooth radio, tracks
adapter state, performs discovery and connection management, and serves
the command/push bridge for mirror clients.`,
	RunE: runHost,
}

var hostListen string

func init() {
	hostCmd.Flags().StringVarP(&hostListen, "listen", "l", "", "Bridge listen address (overrides config)")
}

func runHost(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if hostListen != "" {
		cfg.Listen = hostListen
	}

	logger, err := configureLogger(cmd, logrus.InfoLevel)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	drv := goble.New(logger)
	if err := drv.Init(); err != nil {
		// Not fatal: the adapter may come up later; the session resumes
		// scanning once the driver reports poweredOn.
		logger.WithError(err).Warn("Radio not ready at startup")
	}

	sess := session.New(drv, logger)
	sess.SetAllowDuplicates(cfg.Scan.AllowDuplicates)
	srv := bridge.NewServer(sess, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.Serve(ctx, cfg.Listen)
}
