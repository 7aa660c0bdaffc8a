package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"pkt.systems/pslog"

	"pkt.systems/oscquery/api"
	"pkt.systems/oscquery/internal/correlation"
	"pkt.systems/oscquery/internal/svcfields"
)

// DefaultFetchTimeout bounds a single document request.
const DefaultFetchTimeout = 5 * time.Second

// maxDocumentBytes caps the size of a fetched document.
const maxDocumentBytes = 16 << 20

// Fetcher retrieves wire documents from a remote OSCQuery host.
type Fetcher interface {
	FetchNode(ctx context.Context, address string, port int, path string) (*api.Node, error)
	FetchHostInfo(ctx context.Context, address string, port int) (*api.HostInfo, error)
}

// FetchError describes a failed document request. Status is zero for
// transport failures.
type FetchError struct {
	URL    string
	Status int
	// Response is the decoded error envelope, when the host sent one.
	Response api.ErrorResponse
	Err      error
}

func (e *FetchError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("oscquery: fetch %s: %v", e.URL, e.Err)
	case e.Response.ErrorCode != "":
		return fmt.Sprintf("oscquery: fetch %s: %s (%s)", e.URL, e.Response.ErrorCode, e.Response.Detail)
	default:
		return fmt.Sprintf("oscquery: fetch %s: status %d", e.URL, e.Status)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// HTTPFetcher is the default Fetcher. It speaks plain HTTP GET with the
// attribute carried as the raw query string.
type HTTPFetcher struct {
	client  *http.Client
	timeout time.Duration
	logger  pslog.Logger
}

// FetcherOption customises an HTTPFetcher.
type FetcherOption func(*fetcherOptions)

type fetcherOptions struct {
	client         *http.Client
	timeout        time.Duration
	logger         pslog.Logger
	disableTracing bool
}

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(o *fetcherOptions) {
		o.client = client
	}
}

// WithFetchTimeout bounds every request issued by the fetcher.
func WithFetchTimeout(d time.Duration) FetcherOption {
	return func(o *fetcherOptions) {
		o.timeout = d
	}
}

// WithFetchLogger sets the fetcher logger.
func WithFetchLogger(logger pslog.Logger) FetcherOption {
	return func(o *fetcherOptions) {
		o.logger = logger
	}
}

// WithoutFetchTracing skips the otelhttp transport.
func WithoutFetchTracing() FetcherOption {
	return func(o *fetcherOptions) {
		o.disableTracing = true
	}
}

// NewHTTPFetcher builds an HTTPFetcher.
func NewHTTPFetcher(opts ...FetcherOption) *HTTPFetcher {
	o := fetcherOptions{timeout: DefaultFetchTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	client := o.client
	if client == nil {
		client = &http.Client{}
		if !o.disableTracing {
			client.Transport = otelhttp.NewTransport(http.DefaultTransport)
		}
	}
	return &HTTPFetcher{
		client:  client,
		timeout: o.timeout,
		logger:  svcfields.WithSubsystem(o.logger, svcfields.Subsystem(svcfields.SysDiscovery, "fetch")),
	}
}

// FetchNode fetches the full document of path.
func (f *HTTPFetcher) FetchNode(ctx context.Context, address string, port int, path string) (*api.Node, error) {
	var doc api.Node
	if err := f.fetchJSON(ctx, address, port, path, "", &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// FetchHostInfo fetches the HOST_INFO document.
func (f *HTTPFetcher) FetchHostInfo(ctx context.Context, address string, port int) (*api.HostInfo, error) {
	var info api.HostInfo
	if err := f.fetchJSON(ctx, address, port, "/", api.AttrHostInfo, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// FetchAttribute fetches path scoped to attr and returns the raw body. A
// suppressed VALUE query yields a nil body and no error.
func (f *HTTPFetcher) FetchAttribute(ctx context.Context, address string, port int, path, attr string) ([]byte, error) {
	body, _, err := f.get(ctx, address, port, path, attr)
	return body, err
}

func (f *HTTPFetcher) fetchJSON(ctx context.Context, address string, port int, path, attr string, out any) error {
	body, target, err := f.get(ctx, address, port, path, attr)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &FetchError{URL: target, Status: http.StatusOK, Err: fmt.Errorf("decode document: %w", err)}
	}
	return nil
}

func (f *HTTPFetcher) get(ctx context.Context, address string, port int, path, attr string) ([]byte, string, error) {
	target := DocumentURL(address, port, path, attr)
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, target, &FetchError{URL: target, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	cid := correlation.Inject(ctx, req.Header)
	f.logger.Trace("discovery.fetch.start", "url", target, "cid", cid)
	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Debug("discovery.fetch.transport_error", "url", target, "error", err)
		return nil, target, &FetchError{URL: target, Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, target, &FetchError{URL: target, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, target, nil
	}
	if resp.StatusCode >= 300 {
		fetchErr := &FetchError{URL: target, Status: resp.StatusCode}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &fetchErr.Response)
		}
		f.logger.Debug("discovery.fetch.error", "url", target, "status", resp.StatusCode, "code", fetchErr.Response.ErrorCode)
		return nil, target, fetchErr
	}
	f.logger.Trace("discovery.fetch.success", "url", target, "status", resp.StatusCode, "bytes", len(data))
	return data, target, nil
}

// DocumentURL builds the query URL for path on address:port, with attr as the
// bare query string.
func DocumentURL(address string, port int, path, attr string) string {
	if path == "" || path[0] != '/' {
		path = "/" + path
	}
	u := url.URL{
		Scheme:   "http",
		Host:     net.JoinHostPort(address, strconv.Itoa(port)),
		Path:     path,
		RawQuery: attr,
	}
	return u.String()
}
