package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pkt.systems/oscquery"
	"pkt.systems/oscquery/discovery"
	"pkt.systems/oscquery/internal/svcfields"
	"pkt.systems/pslog"
)

func newDiscoverCommand(baseLogger pslog.Logger, v *viper.Viper) *cobra.Command {
	var (
		timeout time.Duration
		once    bool
		domain  string
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Browse the network for OSCQuery hosts and print them as they come and go",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			if once && timeout <= 0 {
				return fmt.Errorf("--once requires a positive --timeout")
			}
			logger := svcfields.WithSubsystem(levelLogger(v, baseLogger), "cli.discover")
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			d := discovery.New(
				discovery.WithBrowser(discovery.NewMDNSBrowser(discovery.MDNSConfig{Domain: domain, Logger: logger})),
				discovery.WithLogger(logger),
			)
			events, cancelEvents := d.Subscribe()
			defer cancelEvents()
			if err := d.Start(ctx); err != nil {
				return err
			}
			defer d.Stop()

			out := cmd.OutOrStdout()
			started := time.Now()
			for {
				select {
				case <-ctx.Done():
					if once {
						printRegistry(out, d.Services(), started)
					}
					if errors.Is(ctx.Err(), context.DeadlineExceeded) {
						return nil
					}
					return ctx.Err()
				case ev, ok := <-events:
					if !ok {
						return nil
					}
					if !once {
						printEvent(out, ev, started)
					}
				}
			}
		},
	}
	flags := cmd.Flags()
	flags.DurationVar(&timeout, "timeout", 0, "stop browsing after this long (0 browses until interrupted)")
	flags.BoolVar(&once, "once", false, "print the discovered hosts once when --timeout expires instead of streaming events")
	flags.StringVar(&domain, "domain", oscquery.DefaultMDNSDomain, "DNS-SD browse domain")
	return cmd
}

func printEvent(w io.Writer, ev discovery.Event, started time.Time) {
	elapsed := humanize.RelTime(started, time.Now(), "in", "after")
	switch ev := ev.(type) {
	case discovery.UpEvent:
		fmt.Fprintf(w, "up     %-21s %s (%s)\n", ev.Service.Key(), describeService(ev.Service), elapsed)
	case discovery.DownEvent:
		fmt.Fprintf(w, "down   %-21s %s (%s)\n", ev.Service.Key(), describeService(ev.Service), elapsed)
	case discovery.ErrorEvent:
		target := "browse"
		if ev.Address != "" {
			target = fmt.Sprintf("%s:%d", ev.Address, ev.Port)
		}
		fmt.Fprintf(w, "error  %-21s %v (%s)\n", target, ev.Err, elapsed)
	}
}

func printRegistry(w io.Writer, services []*discovery.Service, started time.Time) {
	if len(services) == 0 {
		fmt.Fprintln(w, "no OSCQuery hosts found")
		return
	}
	services = slices.Clone(services)
	slices.SortFunc(services, func(a, b *discovery.Service) int {
		return strings.Compare(a.Key(), b.Key())
	})
	fmt.Fprintf(w, "%s OSCQuery %s found\n", humanize.Comma(int64(len(services))), pluralize(len(services), "host", "hosts"))
	for _, svc := range services {
		fmt.Fprintf(w, "  %-21s %s, updated %s\n", svc.Key(), describeService(svc), humanize.RelTime(started, svc.UpdatedAt(), "before start", "after start"))
	}
}

func describeService(svc *discovery.Service) string {
	name := "?"
	if info, err := svc.HostInfo(); err == nil && info.Name != "" {
		name = fmt.Sprintf("%q", info.Name)
	}
	methods := 0
	if seq, err := svc.Flatten(); err == nil {
		for range seq {
			methods++
		}
	}
	return fmt.Sprintf("%s, %s %s", name, humanize.Comma(int64(methods)), pluralize(methods, "method", "methods"))
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
