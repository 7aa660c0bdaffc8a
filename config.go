package oscquery

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pkt.systems/oscquery/addrspace"
	"pkt.systems/oscquery/api"
	"pkt.systems/oscquery/internal/mdns"
	"pkt.systems/oscquery/internal/pathutil"
)

const (
	// DefaultServiceName names the mDNS instance.
	DefaultServiceName = "OSCQuery"
	// DefaultRootDescription describes the root node.
	DefaultRootDescription = addrspace.DefaultRootDescription
	// DefaultHTTPPort of zero lets the kernel pick a free port.
	DefaultHTTPPort = 0
	// DefaultOSCIP is reported in HOST_INFO when neither an OSC IP nor a
	// bind address is configured.
	DefaultOSCIP = "0.0.0.0"
	// DefaultOSCTransport is the OSC transport reported in HOST_INFO.
	DefaultOSCTransport = api.TransportUDP
	// DefaultMDNSDomain is the DNS-SD browse and registration domain.
	DefaultMDNSDomain = mdns.DefaultDomain
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultMetricsListen is the default Prometheus listener; empty disables it.
	DefaultMetricsListen = ""
	// DefaultPprofListen is the default pprof listener; empty disables it.
	DefaultPprofListen = ""
	// DefaultConfigFileName is the config file looked up in DefaultConfigDir.
	DefaultConfigFileName = "config.yaml"
)

// Config captures the tunables of a Server.
type Config struct {
	// ServiceName names the mDNS instance.
	ServiceName string
	// HostName is the HOST_INFO NAME; NAME is omitted when empty.
	HostName string
	// RootDescription is the DESCRIPTION of the root node.
	RootDescription string
	// BindAddress is the HTTP listen address; empty binds every interface.
	BindAddress string
	// HTTPPort is the HTTP listen port; zero allocates a free port.
	HTTPPort int
	// OSCIP, OSCPort and OSCTransport describe where OSC messages go.
	OSCIP        string
	OSCPort      int
	OSCTransport string
	// WSIP and WSPort are advertised in HOST_INFO when set.
	WSIP   string
	WSPort int

	DisableMDNS bool
	MDNSDomain  string

	// ManifestPath publishes methods from a YAML manifest at startup.
	ManifestPath string
	// WatchManifest reloads ManifestPath when it changes.
	WatchManifest bool

	ShutdownTimeout time.Duration

	OTLPEndpoint           string
	MetricsListen          string
	PprofListen            string
	EnableProfilingMetrics bool
	DisableHTTPTracing     bool
}

// Validate applies defaults and rejects inconsistent settings.
func (c *Config) Validate() error {
	c.ServiceName = strings.TrimSpace(c.ServiceName)
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	c.HostName = strings.TrimSpace(c.HostName)
	if c.RootDescription == "" {
		c.RootDescription = DefaultRootDescription
	}
	c.BindAddress = strings.TrimSpace(c.BindAddress)
	if c.BindAddress != "" && net.ParseIP(c.BindAddress) == nil {
		return fmt.Errorf("config: bind address %q is not an IP address", c.BindAddress)
	}
	if err := validPort("http port", c.HTTPPort); err != nil {
		return err
	}
	if err := validPort("osc port", c.OSCPort); err != nil {
		return err
	}
	if err := validPort("ws port", c.WSPort); err != nil {
		return err
	}
	c.OSCTransport = strings.ToUpper(strings.TrimSpace(c.OSCTransport))
	switch c.OSCTransport {
	case "":
		c.OSCTransport = DefaultOSCTransport
	case api.TransportUDP, api.TransportTCP:
	default:
		return fmt.Errorf("config: osc transport must be %q or %q", api.TransportUDP, api.TransportTCP)
	}
	if c.MDNSDomain == "" {
		c.MDNSDomain = DefaultMDNSDomain
	}
	if c.ManifestPath != "" {
		expanded, err := pathutil.ExpandUserAndEnv(c.ManifestPath)
		if err != nil {
			return fmt.Errorf("config: manifest path: %w", err)
		}
		c.ManifestPath = expanded
	} else if c.WatchManifest {
		return fmt.Errorf("config: watch manifest requires a manifest path")
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("config: shutdown timeout must be >= 0")
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.EnableProfilingMetrics && strings.TrimSpace(c.MetricsListen) == "" {
		return fmt.Errorf("config: profiling metrics require metrics-listen")
	}
	return nil
}

func validPort(name string, port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("config: %s %d out of range", name, port)
	}
	return nil
}

// DefaultConfigDir returns the default configuration directory
// ($HOME/.oscquery), overridable with OSCQUERY_CONFIG_DIR.
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("OSCQUERY_CONFIG_DIR")); override != "" {
		return filepath.Abs(override)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".oscquery"), nil
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFileName), nil
}
