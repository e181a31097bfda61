// Package bootstrap resolves the node's initial set of bootstrap
// multiaddrs: environment CSV first, then an optional remote list
// fetched with a bounded timeout, then a compiled-in static fallback.
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// EnvVar is the CSV environment variable consulted first.
const EnvVar = "SC_BOOTSTRAP_NODES"

// RemoteFetchTimeout bounds the optional remote bootstrap list fetch.
const RemoteFetchTimeout = 5 * time.Second

// Resolver resolves the effective bootstrap list.
type Resolver struct {
	RemoteURL  string
	StaticList []string
	HTTPClient *http.Client
}

// New builds a Resolver. remoteURL may be empty to skip that step.
func New(remoteURL string, staticList []string) *Resolver {
	return &Resolver{
		RemoteURL:  remoteURL,
		StaticList: staticList,
		HTTPClient: &http.Client{Timeout: RemoteFetchTimeout},
	}
}

// Resolve returns the deduplicated, validated list of bootstrap
// multiaddrs, in precedence order: env var, then remote, then static.
func (r *Resolver) Resolve(ctx context.Context) []string {
	var addrs []string

	if csv := os.Getenv(EnvVar); csv != "" {
		addrs = append(addrs, splitCSV(csv)...)
	}

	if r.RemoteURL != "" {
		if remote, err := r.fetchRemote(ctx); err == nil {
			addrs = append(addrs, remote...)
		}
	}

	addrs = append(addrs, r.StaticList...)

	return dedupValid(addrs)
}

func (r *Resolver) fetchRemote(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, RemoteFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.RemoteURL, nil)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: build request: %w", err)
	}
	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: read: %w", err)
	}

	var list []string
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("bootstrap: decode: %w", err)
	}
	return list, nil
}

func splitCSV(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsValidMultiaddr reports whether addr is a well-formed bootstrap
// multiaddr: it must end in "/p2p/<peer-id>".
func IsValidMultiaddr(addr string) bool {
	idx := strings.LastIndex(addr, "/p2p/")
	if idx == -1 {
		return false
	}
	peerID := addr[idx+len("/p2p/"):]
	return peerID != "" && !strings.Contains(peerID, "/")
}

func dedupValid(addrs []string) []string {
	seen := make(map[string]bool, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if !IsValidMultiaddr(a) || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}
