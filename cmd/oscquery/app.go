package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"pkt.systems/oscquery"
	"pkt.systems/oscquery/internal/pathutil"
	"pkt.systems/oscquery/internal/svcfields"
	"pkt.systems/pslog"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(context.Background(),
		pslog.WithEnvPrefix("OSCQUERY_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "oscquery")
	cmd := newRootCommand(baseLogger)
	rootInvocation := invocationTargetsRootCommand(cmd, os.Args[1:])
	ctx = withSignalCancel(ctx)
	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			if rootInvocation {
				svcfields.WithSubsystem(baseLogger, "cli.root").Error("command failed", "error", err)
			} else {
				fmt.Fprintf(os.Stderr, "%s\n", err)
			}
		}
		return 1
	}
	return 0
}

// invocationTargetsRootCommand reports whether args run the root command
// (the server) rather than a subcommand. Server failures are logged, while
// subcommand failures are printed plainly.
func invocationTargetsRootCommand(root *cobra.Command, args []string) bool {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return true
		}
		if strings.HasPrefix(arg, "-") {
			if strings.Contains(arg, "=") {
				continue
			}
			name := strings.TrimLeft(arg, "-")
			flag := lookupFlag(root, name)
			if flag != nil && flag.NoOptDefVal == "" {
				i++
			}
			continue
		}
		return !isSubcommandToken(root, arg)
	}
	return true
}

func lookupFlag(root *cobra.Command, name string) *pflag.Flag {
	for _, set := range []*pflag.FlagSet{root.Flags(), root.PersistentFlags()} {
		if flag := set.Lookup(name); flag != nil {
			return flag
		}
		if len(name) == 1 {
			if flag := set.ShorthandLookup(name); flag != nil {
				return flag
			}
		}
	}
	return nil
}

func isSubcommandToken(root *cobra.Command, token string) bool {
	for _, sub := range root.Commands() {
		if token == sub.Name() || sub.HasAlias(token) {
			return true
		}
	}
	return false
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}

// loadConfigFile reads the YAML config named by --config, or the default
// config file when it exists. It returns the path that was read.
func loadConfigFile(v *viper.Viper) (string, error) {
	cfgPath := strings.TrimSpace(v.GetString("config"))
	explicit := cfgPath != ""
	if cfgPath == "" {
		candidate, err := oscquery.DefaultConfigPath()
		if err != nil {
			return "", nil
		}
		cfgPath = candidate
	}
	expanded, err := pathutil.ExpandUserAndEnv(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	if expanded, err = filepath.Abs(expanded); err != nil {
		return "", err
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}
	v.SetConfigFile(expanded)
	if err := v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

func levelLogger(v *viper.Viper, logger pslog.Logger) pslog.Logger {
	logLevel := strings.TrimSpace(v.GetString("log-level"))
	if logLevel == "" {
		logLevel = "info"
	}
	if level, ok := pslog.ParseLevel(logLevel); ok {
		logger = logger.LogLevel(level)
	}
	return logger
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("OSCQUERY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	serve := newServeCommand(baseLogger, v)
	cmd := &cobra.Command{
		Use:           "oscquery",
		Short:         "oscquery publishes an OSC address space over HTTP and mDNS, and discovers other OSCQuery hosts",
		SilenceErrors: true,
		Example: `
  # Serve a manifest on a kernel-assigned port, advertised as "Synth"
  oscquery --name Synth --osc-port 9000 --manifest ./methods.yaml --watch-manifest

  # Watch hosts come and go on the local network
  oscquery discover

  # Fetch a single attribute from a host
  oscquery get 192.168.1.20:8080 /synth/cutoff --attr VALUE
`,
		RunE: serve.RunE,
	}
	cmd.Flags().AddFlagSet(serve.Flags())

	persistentFlags := cmd.PersistentFlags()
	persistentFlags.StringP("config", "c", "", "path to YAML config file (defaults to $HOME/.oscquery/"+oscquery.DefaultConfigFileName+")")
	persistentFlags.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	for _, name := range []string{"config", "log-level"} {
		bindFlag(v, persistentFlags, name)
	}

	cmd.AddCommand(serve)
	cmd.AddCommand(newDiscoverCommand(baseLogger, v))
	cmd.AddCommand(newGetCommand(baseLogger, v))
	cmd.AddCommand(newConfigCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func bindFlag(v *viper.Viper, flags *pflag.FlagSet, name string) {
	flag := flags.Lookup(name)
	if flag == nil {
		panic(fmt.Sprintf("flag %q not found", name))
	}
	if err := v.BindPFlag(name, flag); err != nil {
		panic(err)
	}
}

var serveFlagNames = []string{
	"name", "host-name", "description", "bind", "http-port",
	"osc-ip", "osc-port", "osc-transport", "ws-ip", "ws-port",
	"disable-mdns", "mdns-domain", "manifest", "watch-manifest", "shutdown-timeout",
	"otlp-endpoint", "metrics-listen", "pprof-listen", "enable-profiling-metrics", "disable-http-tracing",
}

func newServeCommand(baseLogger pslog.Logger, v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve an OSCQuery address space (the default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			ctx := cmd.Context()
			configFile, err := loadConfigFile(v)
			if err != nil {
				return err
			}
			logger := levelLogger(v, baseLogger)
			cliLogger := svcfields.WithSubsystem(logger, "cli.serve")
			manifestBase := ""
			if configFile != "" {
				cliLogger.Info("loaded config file", "path", configFile)
				_, envSet := os.LookupEnv("OSCQUERY_MANIFEST")
				if v.InConfig("manifest") && !cmd.Flags().Changed("manifest") && !envSet {
					manifestBase = filepath.Dir(configFile)
				}
			}
			cfg, err := bindConfig(v, manifestBase)
			if err != nil {
				return err
			}
			svcfields.WithSubsystem(logger, "server.lifecycle.init").Info(
				"welcome to oscquery",
				"pid", os.Getpid(),
				"name", cfg.ServiceName,
			)

			server, err := oscquery.NewServer(cfg,
				oscquery.WithLogger(logger),
				oscquery.WithErrorHandler(func(err error) {
					cliLogger.Warn("server reported error", "error", err)
				}),
			)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					cliLogger.Error("shutdown failed", "error", err)
				}
			}()
			err = server.Start()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("name", oscquery.DefaultServiceName, "service name advertised on mDNS")
	flags.String("host-name", "", "NAME reported in HOST_INFO (omitted when empty)")
	flags.String("description", oscquery.DefaultRootDescription, "description of the root node")
	flags.String("bind", "", "HTTP bind address (empty binds every interface)")
	flags.Int("http-port", oscquery.DefaultHTTPPort, "HTTP port (0 allocates a free port)")
	flags.String("osc-ip", "", "OSC_IP reported in HOST_INFO (defaults to the bind address)")
	flags.Int("osc-port", 0, "OSC_PORT reported in HOST_INFO (defaults to the HTTP port)")
	flags.String("osc-transport", oscquery.DefaultOSCTransport, "OSC_TRANSPORT reported in HOST_INFO (UDP or TCP)")
	flags.String("ws-ip", "", "WS_IP reported in HOST_INFO (optional)")
	flags.Int("ws-port", 0, "WS_PORT reported in HOST_INFO (optional)")
	flags.Bool("disable-mdns", false, "do not advertise the server on mDNS")
	flags.String("mdns-domain", oscquery.DefaultMDNSDomain, "DNS-SD domain")
	flags.StringP("manifest", "m", "", "YAML method manifest to publish")
	flags.Bool("watch-manifest", false, "reload the manifest when it changes")
	flags.Duration("shutdown-timeout", oscquery.DefaultShutdownTimeout, "graceful shutdown timeout")
	flags.String("otlp-endpoint", "", "OTLP trace collector (host[:port] or grpc://, grpcs://, http://, https:// URL)")
	flags.String("metrics-listen", oscquery.DefaultMetricsListen, "Prometheus metrics listen address (empty disables)")
	flags.String("pprof-listen", oscquery.DefaultPprofListen, "pprof listen address (empty disables)")
	flags.Bool("enable-profiling-metrics", false, "export Go runtime metrics on the Prometheus endpoint")
	flags.Bool("disable-http-tracing", false, "do not create spans for HTTP requests")
	for _, name := range serveFlagNames {
		bindFlag(v, flags, name)
	}
	return cmd
}

// bindConfig builds a server config from flags, env and the config file.
// A relative manifest path is anchored at manifestBase when it is set.
func bindConfig(v *viper.Viper, manifestBase string) (oscquery.Config, error) {
	cfg := oscquery.Config{
		ServiceName:            v.GetString("name"),
		HostName:               v.GetString("host-name"),
		RootDescription:        v.GetString("description"),
		BindAddress:            v.GetString("bind"),
		HTTPPort:               v.GetInt("http-port"),
		OSCIP:                  v.GetString("osc-ip"),
		OSCPort:                v.GetInt("osc-port"),
		OSCTransport:           v.GetString("osc-transport"),
		WSIP:                   v.GetString("ws-ip"),
		WSPort:                 v.GetInt("ws-port"),
		DisableMDNS:            v.GetBool("disable-mdns"),
		MDNSDomain:             v.GetString("mdns-domain"),
		ManifestPath:           v.GetString("manifest"),
		WatchManifest:          v.GetBool("watch-manifest"),
		ShutdownTimeout:        v.GetDuration("shutdown-timeout"),
		OTLPEndpoint:           v.GetString("otlp-endpoint"),
		MetricsListen:          v.GetString("metrics-listen"),
		PprofListen:            v.GetString("pprof-listen"),
		EnableProfilingMetrics: v.GetBool("enable-profiling-metrics"),
		DisableHTTPTracing:     v.GetBool("disable-http-tracing"),
	}
	if manifestBase != "" && cfg.ManifestPath != "" {
		resolved, err := pathutil.ResolveRelative(manifestBase, cfg.ManifestPath)
		if err != nil {
			return cfg, fmt.Errorf("resolve manifest path: %w", err)
		}
		cfg.ManifestPath = resolved
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
