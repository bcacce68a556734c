package enrich

import (
	"context"
	"log"
	"net"
	"strings"
	"time"

	"github.com/mileusna/useragent"
)

// NotFound is the sentinel recorded when a probe yields nothing.
const NotFound = "not found"

// ConnContext carries the connection attributes the resolver works from.
type ConnContext struct {
	RemoteAddr string // host:port as seen by the HTTP layer
	UserAgent  string
}

// Resolver computes best-effort per-connection metadata: network address,
// reverse host name, a hardware identifier for loopback peers, and an
// OS/browser classification. The result enriches message records; nothing
// in the delivery path depends on it, so every lookup may fail and the
// field is simply omitted or set to the NotFound sentinel.
type Resolver struct {
	timeout time.Duration
}

func NewResolver(timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Resolver{timeout: timeout}
}

// Resolve never returns an error; the map may be empty or partial.
func (r *Resolver) Resolve(ctx context.Context, conn ConnContext) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	meta := make(map[string]string)

	host, _, err := net.SplitHostPort(conn.RemoteAddr)
	if err != nil {
		// RealIP middleware may have rewritten the field to a bare host.
		host = conn.RemoteAddr
	}
	if host != "" {
		meta["addr"] = host
	}

	if name, err := reverseName(ctx, host); err != nil {
		log.Printf("[enrich] reverse lookup for %q failed: %v", host, err)
	} else if name != "" {
		meta["host"] = name
	}

	meta["hw"] = hardwareAddr(host)

	if conn.UserAgent != "" {
		ua := useragent.Parse(conn.UserAgent)
		if ua.Name != "" {
			meta["browser"] = ua.Name
		}
		if ua.OS != "" {
			meta["os"] = ua.OS
		}
	}

	return meta
}

func reverseName(ctx context.Context, host string) (string, error) {
	if host == "" {
		return "", nil
	}
	var resolver net.Resolver
	names, err := resolver.LookupAddr(ctx, host)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", nil
	}
	return strings.TrimSuffix(names[0], "."), nil
}

// hardwareAddr only has something to say about loopback connections: the
// server cannot see a remote peer's interface, so everyone else gets the
// sentinel.
func hardwareAddr(host string) string {
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return NotFound
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		log.Printf("[enrich] interface probe failed: %v", err)
		return NotFound
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr.String()
	}
	return NotFound
}
