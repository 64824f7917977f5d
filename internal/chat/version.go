package chat

import (
	"strings"

	"golang.org/x/mod/semver"
)

const (
	// ProtocolName is the identify protocol name announced by chat nodes
	ProtocolName = "chat"

	// Version is the release version of the chat node
	Version = "0.1.0"

	// DefaultTopic is the GossipSub topic all chat nodes share
	DefaultTopic = "rustconnect"
)

// ProtocolVersion returns the identify protocol version string, "{name}/{major}.{minor}".
// Patch releases stay wire compatible, so they are not part of the string.
func ProtocolVersion() string {
	return FormatProtocolVersion(ProtocolName, Version)
}

// FormatProtocolVersion builds the "{name}/{major}.{minor}" string for a semantic version.
// An unparsable version yields "{name}/0.0", which never matches a released node.
func FormatProtocolVersion(name, version string) string {
	v := version
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	mm := semver.MajorMinor(v)
	if mm == "" {
		mm = "v0.0"
	}
	return name + "/" + strings.TrimPrefix(mm, "v")
}
