package contracts

import (
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

const (
	// ProtocolName identifies the wire protocol in a handshake.
	ProtocolName = "iframe-message-bridge"

	// ProtocolVersion is the protocol version this module speaks.
	ProtocolVersion = "1.0.0"

	// ReadyName is the request peers answer with their PeerInfo.
	ReadyName = "ready"
)

// PeerInfo describes a peer, as returned by its ready handler
type PeerInfo struct {
	Protocol  string    `json:"protocol"`
	Version   string    `json:"version"`
	Handlers  []string  `json:"handlers,omitempty"`
	StartedAt time.Time `json:"startedAt"`
}

// NewPeerInfo describes the local peer with the given handler names
func NewPeerInfo(handlers []string, startedAt time.Time) PeerInfo {
	return PeerInfo{
		Protocol:  ProtocolName,
		Version:   ProtocolVersion,
		Handlers:  handlers,
		StartedAt: startedAt,
	}
}

// IsValid checks that the peer speaks this protocol and reports a version
func (p *PeerInfo) IsValid() bool {
	return p.Protocol == ProtocolName && p.Version != ""
}

// Supports checks the peer version against a semver constraint such as
// "^1.0" or ">= 1.2, < 2". An empty constraint accepts any version.
func (p *PeerInfo) Supports(constraint string) bool {
	if constraint == "" {
		return true
	}
	if p.Version == constraint {
		return true
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false
	}

	v, err := semver.NewVersion(p.Version)
	if err != nil {
		return false
	}

	return c.Check(v)
}

// HasHandler reports whether the peer registered a name matching pattern.
// A trailing or embedded * matches any run of characters.
func (p *PeerInfo) HasHandler(pattern string) bool {
	for _, name := range p.Handlers {
		if matchesPattern(pattern, name) {
			return true
		}
	}
	return false
}

func matchesPattern(pattern, name string) bool {
	if pattern == "" || pattern == name {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}

	expr := "^" + strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*") + "$"
	matched, err := regexp.MatchString(expr, name)
	return err == nil && matched
}
