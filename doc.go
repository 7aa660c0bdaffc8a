// Package oscquery serves an OSC address space over HTTP the way OSCQuery
// peers expect to find it, and advertises the server on DNS-SD as
// `_oscjson._tcp` so other hosts can discover it.
//
// # Running a server
//
// The server listens on `Config.BindAddress` and `Config.HTTPPort`. A zero
// port lets the kernel allocate one; the bound port is what HOST_INFO and the
// mDNS advertisement report.
//
//	srv, stop, err := oscquery.StartServer(ctx, oscquery.Config{
//	    ServiceName: "Synth",
//	    OSCPort:     9000,
//	})
//	if err != nil { log.Fatal(err) }
//	defer stop(context.Background())
//
//	srv.AddMethod("/synth/cutoff", addrspace.Method{
//	    Description: "filter cutoff",
//	    Access:      addrspace.ReadWrite,
//	    Arguments: []addrspace.Argument{{
//	        Type:  addrspace.Float,
//	        Range: addrspace.MinMax(20, 20000),
//	    }},
//	})
//	_ = srv.SetValue("/synth/cutoff", 0, 440.0)
//
// Intermediate containers are created on demand. `RemoveMethod` clears the
// node and prunes every ancestor left empty, never the root.
//
// # Queries
//
// Every path of the address space is a URL path. A bare GET returns the full
// node document; `?ATTRIBUTE` returns a single attribute wrapped in an object,
// and `?HOST_INFO` describes the host regardless of the path. VALUE on a node
// that cannot be read answers 204 with no body. Unknown attributes answer 400
// and missing paths 404, both with an `api.ErrorResponse` body.
//
// A `Filter` installed with `WithFilter` sees each request before its path is
// resolved. It can deny the request or answer it from another address space.
//
// # Manifests
//
// `Config.ManifestPath` publishes methods from a YAML manifest at start, and
// `Config.WatchManifest` re-applies it whenever the file changes. Methods that
// disappear from the manifest are withdrawn.
//
//	methods:
//	  - path: /synth/cutoff
//	    access: rw
//	    arguments:
//	      - type: f
//	        range: {min: 20, max: 20000}
//	        value: 440
//
// # Discovery
//
// Package `discovery` browses for OSCQuery hosts, fetches each one's
// namespace and HOST_INFO, and reports services coming and going as events.
//
// # Telemetry
//
// Tracing over OTLP is enabled with `Config.OTLPEndpoint`. Prometheus metrics
// are served on `Config.MetricsListen`, and pprof on `Config.PprofListen`.
// Telemetry is off by default.
package oscquery
