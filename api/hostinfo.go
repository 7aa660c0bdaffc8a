package api

// OSC transport names reported in HOST_INFO.
const (
	TransportUDP = "UDP"
	TransportTCP = "TCP"
)

// HostInfo is the document served for the HOST_INFO query.
type HostInfo struct {
	// Name is the human readable name of the host.
	Name string `json:"NAME,omitempty"`
	// Extensions flags which optional node attributes the host serves.
	Extensions map[string]bool `json:"EXTENSIONS"`
	// OSCIP is the address the host receives OSC messages on.
	OSCIP string `json:"OSC_IP"`
	// OSCPort is the port the host receives OSC messages on.
	OSCPort int `json:"OSC_PORT"`
	// OSCTransport is TCP or UDP.
	OSCTransport string `json:"OSC_TRANSPORT"`
	// WSIP is the websocket address, when the host offers one.
	WSIP string `json:"WS_IP,omitempty"`
	// WSPort is the websocket port, when the host offers one.
	WSPort int `json:"WS_PORT,omitempty"`
}

// DefaultExtensions returns the extension flags for every optional attribute
// the node encoder emits.
func DefaultExtensions() map[string]bool {
	return map[string]bool{
		AttrAccess:      true,
		AttrValue:       true,
		AttrRange:       true,
		AttrDescription: true,
		AttrTags:        true,
		AttrCritical:    true,
		AttrClipMode:    true,
	}
}

// ErrorResponse is the error envelope returned with 4xx/5xx responses.
type ErrorResponse struct {
	// ErrorCode is a stable machine readable identifier.
	ErrorCode string `json:"error"`
	// Detail provides human-readable diagnostic context for the error.
	Detail string `json:"detail,omitempty"`
}
