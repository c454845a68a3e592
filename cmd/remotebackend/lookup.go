package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/remotebackend/pkg/clock"
	"github.com/cuemby/remotebackend/pkg/engine"
	"github.com/cuemby/remotebackend/pkg/log"
	"github.com/cuemby/remotebackend/pkg/remote"
	"github.com/spf13/cobra"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup HOSTNAME",
	Short: "Fetch one hostname from the record source and print the reply line",
	Long: `Fetch HOSTNAME from the configured record source, bypassing the cache, and
print the exact reply line PowerDNS would receive for an ANY lookup.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		client, err := remote.New(remote.Config{
			Host:       cfg.RestServerHostname,
			Port:       cfg.RestServerPort,
			Username:   cfg.RestUsername,
			Password:   cfg.RestPassword,
			APIVersion: cfg.APIVersion,
			Timeout:    cfg.FetchTimeout(),
		}, clock.New(clock.DefaultPeriod), nil)
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.FetchTimeout())
		defer cancel()

		hostname := args[0]
		out := cmd.OutOrStdout()
		logger := log.WithHostname(hostname)

		set, err := client.Fetch(ctx, hostname)
		if err != nil {
			logger.Debug().Err(err).Msg("record source returned no answers")
			fmt.Fprint(out, string(engine.EncodeNegative()))
			if errors.Is(err, remote.ErrNotFound) || errors.Is(err, remote.ErrBadResponse) {
				return nil
			}
			return err
		}

		line, err := engine.EncodePositive(hostname, set)
		if err != nil {
			return err
		}
		if line == nil {
			line = engine.EncodeNegative()
		}
		fmt.Fprint(out, string(line))
		return nil
	},
}
