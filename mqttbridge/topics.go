package mqttbridge

import (
	"strings"

	"github.com/tj-smith47/elmax-go"
)

// DefaultTopicPrefix is the root of every topic published by the bridge.
const DefaultTopicPrefix = "elmax"

// Topics builds the bridge topics under a prefix.
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return strings.TrimRight(t.Prefix, "/")
}

// Endpoint returns the state topic of an endpoint.
//
// Example: elmax/0a1b2c/zone/0a1b2c-zona-3
func (t Topics) Endpoint(panelID string, kind elmax.EndpointKind, endpointID string) string {
	return t.prefix() + "/" + segment(panelID) + "/" + string(kind) + "/" + segment(endpointID)
}

// Panel returns the topic of the panel summary.
//
// Example: elmax/0a1b2c/panel
func (t Topics) Panel(panelID string) string {
	return t.prefix() + "/" + segment(panelID) + "/panel"
}

// Status returns the bridge availability topic.
//
// Example: elmax/bridge/status
func (t Topics) Status() string {
	return t.prefix() + "/bridge/status"
}

// segment makes s safe as a single topic level.
func segment(s string) string {
	if s == "" {
		return "panel"
	}
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}
