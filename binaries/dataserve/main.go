package main

import (
	"context"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/twitter/icebox/common/log/hooks"
	"github.com/twitter/icebox/common/stats"
	"github.com/twitter/icebox/container"
	"github.com/twitter/icebox/dataserve"
)

func main() {
	log.AddHook(hooks.NewContextHook())

	var logLevel, addr, envFile string

	rootCmd := &cobra.Command{
		Use:   "dataserve",
		Short: "Task store demonstrating icebox provider wiring",
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := log.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			log.SetLevel(level)

			cfg, err := dataserve.LoadConfig(envFile)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}

			stat := stats.DefaultStatsReceiver()
			c := container.New(container.WithStats(stat))
			if err := c.Install(dataserve.Module{Cfg: cfg}); err != nil {
				return err
			}
			defer func() {
				if cerr := c.Close(context.Background()); cerr != nil {
					log.Errorf("container teardown: %v", cerr)
				}
			}()

			server, err := dataserve.NewServer(c, stat, cfg.Addr)
			if err != nil {
				return err
			}
			return server.Serve()
		},
	}
	rootCmd.Flags().StringVar(&logLevel, "log_level", "info", "Log everything at this level and above (error|info|debug)")
	rootCmd.Flags().StringVar(&addr, "addr", "", "Bind address, overrides DATASERVE_ADDR")
	rootCmd.Flags().StringVar(&envFile, "env_file", "", "Env file to load configuration from")

	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
