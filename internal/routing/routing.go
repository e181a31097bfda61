// Package routing resolves an inbound sender's claimed identifier to a
// stable peer ID, and builds ordered dial-candidate lists from raw
// addresses, including synthesized relay-circuit variants.
package routing

import (
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/scmessenger/core/internal/model"
	"github.com/scmessenger/core/internal/store"
)

var hexID = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// IsLibP2PPeerID reports whether s looks like a libp2p peer ID.
func IsLibP2PPeerID(s string) bool {
	return strings.HasPrefix(s, "12D3Koo") || strings.HasPrefix(s, "Qm")
}

// IsIdentityID reports whether s looks like a 64-character hex identity ID.
func IsIdentityID(s string) bool {
	return len(s) == 64 && hexID.MatchString(s)
}

// Resolver canonicalizes inbound sender identifiers against ContactStore.
type Resolver struct {
	contacts *store.ContactStore
}

// NewResolver builds a Resolver backed by contacts.
func NewResolver(contacts *store.ContactStore) *Resolver {
	return &Resolver{contacts: contacts}
}

// Canonicalize maps (claimedID, pubKeyHex) to the peer ID this node
// should use for routing and History attribution, following a
// five-step precedence. The second return value reports whether the
// match required falling through to the ambiguous/ claimed-ID case.
func (r *Resolver) Canonicalize(claimedID, pubKeyHex string) (peerID string, ambiguous bool) {
	if c, ok := r.contacts.Get(claimedID); ok && c.PublicKey == pubKeyHex {
		return claimedID, false
	}

	matches := r.contacts.FindByPublicKey(pubKeyHex)
	if len(matches) == 1 {
		return matches[0].PeerID, false
	}
	if len(matches) > 1 {
		if IsLibP2PPeerID(claimedID) {
			if pid, ok := findByNotesPeerID(matches, claimedID); ok {
				return pid, false
			}
		}
		if IsIdentityID(claimedID) {
			if pid, ok := findByLinkedLibP2P(matches); ok {
				return pid, false
			}
		}
		return claimedID, true
	}

	return claimedID, false
}

const notesLibp2pPrefix = "libp2p_peer_id:"

// findByNotesPeerID implements canonicalization step 3: among contacts
// sharing a public key, find the one whose Notes record this claimed
// libp2p peer ID, and return its own peer ID.
func findByNotesPeerID(matches []model.Contact, claimedID string) (string, bool) {
	for _, c := range matches {
		if strings.Contains(c.Notes, notesLibp2pPrefix+claimedID) {
			return c.PeerID, true
		}
	}
	return "", false
}

// findByLinkedLibP2P implements canonicalization step 4: among contacts
// sharing a public key, find one whose Notes links a libp2p peer ID at
// all, and use that contact's own peer ID.
func findByLinkedLibP2P(matches []model.Contact) (string, bool) {
	for _, c := range matches {
		if strings.Contains(c.Notes, notesLibp2pPrefix) {
			return c.PeerID, true
		}
	}
	return "", false
}

// ListenersFromNotes extracts the comma-separated multiaddr list from a
// Contact's Notes field, following the "listeners:<csv>" hint, for
// rebuilding dial candidates across a process restart.
func ListenersFromNotes(notes string) []string {
	for _, field := range strings.FieldsFunc(notes, func(r rune) bool { return r == '\n' || r == ';' }) {
		field = strings.TrimSpace(field)
		if rest, ok := strings.CutPrefix(field, "listeners:"); ok {
			if rest == "" {
				return nil
			}
			return strings.Split(rest, ",")
		}
	}
	return nil
}

// LibP2PPeerIDFromNotes extracts the "libp2p_peer_id:<id>" hint from a
// Contact's Notes field, if present.
func LibP2PPeerIDFromNotes(notes string) (string, bool) {
	for _, field := range strings.FieldsFunc(notes, func(r rune) bool { return r == '\n' || r == ';' }) {
		field = strings.TrimSpace(field)
		if rest, ok := strings.CutPrefix(field, notesLibp2pPrefix); ok && rest != "" {
			return rest, true
		}
	}
	return "", false
}

// DialCandidate is one normalized address a transport can attempt to dial.
type DialCandidate struct {
	Multiaddr string
	SameLAN   bool
}

// BuildDialCandidates normalizes raw addresses for targetPeerID: it
// rewrites 0.0.0.0 to localIPv4, converts host:port pairs to
// multiaddrs, drops loopback/link-local/0.0.0.0 and non-LAN private
// addresses outside localIPv4's /24, optionally synthesizes
// relay-circuit variants through each known relay peer, and orders
// same-LAN candidates first. Addresses whose embedded peer ID matches a
// bootstrap relay are never treated as chat targets.
func BuildDialCandidates(raw []string, localIPv4, targetPeerID string, relayPeerIDs []string, bootstrapAddrs []string, bootstrapPeerIDs map[string]bool) []DialCandidate {
	var out []DialCandidate
	seen := make(map[string]bool)

	for _, a := range raw {
		norm, ok := normalizeAddr(a, localIPv4)
		if !ok {
			continue
		}
		if bootstrapPeerIDs[extractPeerIDFromMultiaddr(norm)] {
			continue
		}
		if seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, DialCandidate{Multiaddr: norm, SameLAN: sameLAN(norm, localIPv4)})
	}

	if bootstrapPeerIDs[targetPeerID] {
		// bootstrap nodes are relay hops, never chat targets: no circuit
		// makes sense when the target itself is a bootstrap peer.
		return sortSameLANFirst(out)
	}

	for _, bootstrapAddr := range bootstrapAddrs {
		for _, relayPID := range relayPeerIDs {
			circuit := fmt.Sprintf("%s/p2p/%s/p2p-circuit/p2p/%s", bootstrapAddr, relayPID, targetPeerID)
			if seen[circuit] {
				continue
			}
			seen[circuit] = true
			out = append(out, DialCandidate{Multiaddr: circuit, SameLAN: false})
		}
	}

	return sortSameLANFirst(out)
}

// sortSameLANFirst stably reorders candidates so same-LAN ones come first.
func sortSameLANFirst(candidates []DialCandidate) []DialCandidate {
	sameLANFirst := make([]DialCandidate, 0, len(candidates))
	rest := make([]DialCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.SameLAN {
			sameLANFirst = append(sameLANFirst, c)
		} else {
			rest = append(rest, c)
		}
	}
	return append(sameLANFirst, rest...)
}

// normalizeAddr converts a raw "host:port" or partial multiaddr into a
// full multiaddr, substituting localIPv4 for 0.0.0.0, and rejects
// loopback/link-local/unroutable addresses.
func normalizeAddr(raw, localIPv4 string) (string, bool) {
	addr := raw
	if strings.HasPrefix(addr, "/ip4/") || strings.HasPrefix(addr, "/ip6/") || strings.HasPrefix(addr, "/dns4/") {
		// already a multiaddr; still substitute 0.0.0.0
		addr = strings.Replace(addr, "/ip4/0.0.0.0/", "/ip4/"+localIPv4+"/", 1)
	} else if host, port, err := net.SplitHostPort(raw); err == nil {
		if host == "0.0.0.0" {
			host = localIPv4
		}
		addr = fmt.Sprintf("/ip4/%s/tcp/%s", host, port)
	} else {
		return "", false
	}

	ip := extractIP(addr)
	if ip == nil {
		return addr, true // DNS-based multiaddrs pass through unchecked
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
		return "", false
	}
	if ip.IsPrivate() && !sameSlash24(ip, net.ParseIP(localIPv4)) {
		return "", false
	}
	return addr, true
}

func extractIP(multiaddr string) net.IP {
	parts := strings.Split(multiaddr, "/")
	for i, p := range parts {
		if (p == "ip4" || p == "ip6") && i+1 < len(parts) {
			return net.ParseIP(parts[i+1])
		}
	}
	return nil
}

func sameLAN(multiaddr, localIPv4 string) bool {
	ip := extractIP(multiaddr)
	local := net.ParseIP(localIPv4)
	if ip == nil || local == nil {
		return false
	}
	return sameSlash24(ip, local)
}

func sameSlash24(a, b net.IP) bool {
	a4, b4 := a.To4(), b.To4()
	if a4 == nil || b4 == nil {
		return false
	}
	return a4[0] == b4[0] && a4[1] == b4[1] && a4[2] == b4[2]
}

func extractPeerIDFromMultiaddr(multiaddr string) string {
	idx := strings.LastIndex(multiaddr, "/p2p/")
	if idx == -1 {
		return ""
	}
	return multiaddr[idx+len("/p2p/"):]
}
