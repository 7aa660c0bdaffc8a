package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pkt.systems/oscquery/api"
	"pkt.systems/oscquery/discovery"
	"pkt.systems/oscquery/internal/svcfields"
	"pkt.systems/pslog"
)

func newGetCommand(baseLogger pslog.Logger, v *viper.Viper) *cobra.Command {
	var (
		attr     string
		hostInfo bool
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "get <host:port> [path]",
		Short: "Query an OSCQuery host once and print the JSON it returns",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			address, port, err := splitHostPort(args[0])
			if err != nil {
				return err
			}
			path := "/"
			if len(args) == 2 {
				path = args[1]
			}
			attr = strings.ToUpper(strings.TrimSpace(attr))
			if hostInfo {
				if attr != "" {
					return fmt.Errorf("--host-info and --attr are mutually exclusive")
				}
				attr = api.AttrHostInfo
			}
			if attr != "" && !api.ValidAttribute(attr) {
				return fmt.Errorf("unknown attribute %q (valid: %s)", attr, strings.Join(api.QueryAttributes(), ", "))
			}
			logger := svcfields.WithSubsystem(levelLogger(v, baseLogger), "cli.get")
			fetcher := discovery.NewHTTPFetcher(discovery.WithFetchTimeout(timeout), discovery.WithFetchLogger(logger))
			body, err := fetcher.FetchAttribute(cmd.Context(), address, port, path, attr)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if body == nil {
				_, err := fmt.Fprintln(out, "no content")
				return err
			}
			var pretty bytes.Buffer
			if err := json.Indent(&pretty, bytes.TrimSpace(body), "", "  "); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			pretty.WriteByte('\n')
			_, err = out.Write(pretty.Bytes())
			return err
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&attr, "attr", "a", "", "query a single attribute (e.g. VALUE, TYPE, RANGE)")
	flags.BoolVar(&hostInfo, "host-info", false, "fetch the HOST_INFO document")
	flags.DurationVar(&timeout, "timeout", discovery.DefaultFetchTimeout, "request timeout")
	return cmd
}

func splitHostPort(target string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(target))
	if err != nil {
		return "", 0, fmt.Errorf("target %q: %w", target, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("target %q: invalid port", target)
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return host, port, nil
}
