package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pkt.systems/oscquery"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage oscquery configuration files",
	}
	cmd.AddCommand(newConfigGenCommand())
	return cmd
}

func newConfigGenCommand() *cobra.Command {
	var outPath string
	var force bool
	var stdout bool
	defaultOutput := "$HOME/.oscquery/" + oscquery.DefaultConfigFileName
	if path, err := oscquery.DefaultConfigPath(); err == nil {
		defaultOutput = path
	}

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a default oscquery configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if stdout && outPath != "" {
				return fmt.Errorf("--stdout and --out are mutually exclusive")
			}
			data, err := defaultConfigYAML()
			if err != nil {
				return err
			}
			if stdout {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if outPath == "" {
				path, err := oscquery.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("resolve config dir: %w", err)
				}
				outPath = path
			}
			if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if !force {
				if _, err := os.Stat(outPath); err == nil {
					return fmt.Errorf("config file %s already exists (use --force to overwrite)", outPath)
				} else if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("stat config file: %w", err)
				}
			}
			if err := os.WriteFile(outPath, data, 0o600); err != nil {
				return fmt.Errorf("write config file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote default config to %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", fmt.Sprintf("output path for generated config (defaults to %s)", defaultOutput))
	cmd.Flags().BoolVar(&force, "force", false, "overwrite the target file if it already exists")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "print the config to stdout instead of writing a file")
	return cmd
}

// configDefaults mirrors the serve flags; keys are the flag names so viper
// reads the generated file back unchanged.
type configDefaults struct {
	Name                   string `yaml:"name"`
	HostName               string `yaml:"host-name"`
	Description            string `yaml:"description"`
	Bind                   string `yaml:"bind"`
	HTTPPort               int    `yaml:"http-port"`
	OSCIP                  string `yaml:"osc-ip"`
	OSCPort                int    `yaml:"osc-port"`
	OSCTransport           string `yaml:"osc-transport"`
	WSIP                   string `yaml:"ws-ip"`
	WSPort                 int    `yaml:"ws-port"`
	DisableMDNS            bool   `yaml:"disable-mdns"`
	MDNSDomain             string `yaml:"mdns-domain"`
	Manifest               string `yaml:"manifest"`
	WatchManifest          bool   `yaml:"watch-manifest"`
	ShutdownTimeout        string `yaml:"shutdown-timeout"`
	OTLPEndpoint           string `yaml:"otlp-endpoint"`
	MetricsListen          string `yaml:"metrics-listen"`
	PprofListen            string `yaml:"pprof-listen"`
	EnableProfilingMetrics bool   `yaml:"enable-profiling-metrics"`
	DisableHTTPTracing     bool   `yaml:"disable-http-tracing"`
	LogLevel               string `yaml:"log-level"`
}

func defaultConfigYAML(overrides ...func(*configDefaults)) ([]byte, error) {
	defaults := configDefaults{
		Name:            oscquery.DefaultServiceName,
		Description:     oscquery.DefaultRootDescription,
		HTTPPort:        oscquery.DefaultHTTPPort,
		OSCTransport:    oscquery.DefaultOSCTransport,
		MDNSDomain:      oscquery.DefaultMDNSDomain,
		ShutdownTimeout: oscquery.DefaultShutdownTimeout.String(),
		MetricsListen:   oscquery.DefaultMetricsListen,
		PprofListen:     oscquery.DefaultPprofListen,
		LogLevel:        "info",
	}
	for _, fn := range overrides {
		if fn != nil {
			fn(&defaults)
		}
	}
	out, err := yaml.Marshal(&defaults)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}
