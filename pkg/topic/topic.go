// Package topic parses and constructs the edge bus topic grammar used by
// thin-edge.io: te/device/<device>/[service/<service>]//<channel>.
package topic

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Root is the prefix of every edge bus topic this mapper subscribes to.
const Root = "te"

// Kind enumerates the channel shapes this mapper understands. thin-edge.io's
// full grammar also carries measurement, alarm and twin channels; only the
// ones the config operations need are modelled here.
type Kind int

const (
	// KindEntity is the bare entity topic, carrying a registration payload.
	KindEntity Kind = iota
	// KindCommand carries command progress, addressed by cmd id.
	KindCommand
	// KindCommandMetadata declares the operation's supported types.
	KindCommandMetadata
	// KindOther is any channel shape this mapper does not act on.
	KindOther
)

// ID identifies a device or service on the edge bus.
type ID struct {
	Device  string
	Service string
}

// IsService reports whether this id names a service rather than a device.
func (id ID) IsService() bool {
	return id.Service != ""
}

// String renders the canonical entity identifier, e.g. "device/main//" for
// a device or "device/main/service/collectd" for a service.
func (id ID) String() string {
	if id.Service == "" {
		return fmt.Sprintf("device/%s//", id.Device)
	}
	return fmt.Sprintf("device/%s/service/%s", id.Device, id.Service)
}

// RootTopic returns the bare entity topic ("te/device/<id>//...").
func (id ID) RootTopic() string {
	return Root + "/" + id.String()
}

// Channel describes what an edge bus message on an entity's topic carries.
type Channel struct {
	Kind      Kind
	Operation string
	CmdID     string
}

// CommandTopic builds the topic for a command instance.
func (id ID) CommandTopic(operation, cmdID string) string {
	return fmt.Sprintf("%s/cmd/%s/%s", id.RootTopic(), operation, cmdID)
}

// CommandMetadataTopic builds the topic an operation advertises its
// supported types on.
func (id ID) CommandMetadataTopic(operation string) string {
	return fmt.Sprintf("%s/cmd/%s", id.RootTopic(), operation)
}

// Parse splits an inbound edge bus topic into the entity it names and the
// channel it carries. It returns an error for topics that do not start with
// "te/device/" or whose entity segments are not "<device>//" or
// "<device>/service/<service>"; after a well-formed entity, any channel this
// mapper does not act on resolves to KindOther so callers can ignore it.
func Parse(topicName string) (ID, Channel, error) {
	if !strings.HasPrefix(topicName, Root+"/") {
		return ID{}, Channel{}, errors.Errorf("not an edge bus topic: %q", topicName)
	}
	rest := strings.TrimPrefix(topicName, Root+"/")
	parts := strings.Split(rest, "/")
	if len(parts) < 4 || parts[0] != "device" {
		return ID{}, Channel{}, errors.Errorf("malformed entity topic: %q", topicName)
	}

	device := parts[1]
	var service string
	switch {
	case parts[2] == "" && parts[3] == "":
		// device entity, no service segment
	case parts[2] == "service" && parts[3] != "":
		service = parts[3]
	default:
		return ID{}, Channel{}, errors.Errorf("malformed entity topic: %q", topicName)
	}
	id := ID{Device: device, Service: service}

	channelParts := parts[4:]
	if len(channelParts) == 0 {
		return id, Channel{Kind: KindEntity}, nil
	}
	if channelParts[0] == "cmd" && len(channelParts) == 2 {
		return id, Channel{Kind: KindCommandMetadata, Operation: channelParts[1]}, nil
	}
	if channelParts[0] == "cmd" && len(channelParts) == 3 {
		return id, Channel{Kind: KindCommand, Operation: channelParts[1], CmdID: channelParts[2]}, nil
	}
	return id, Channel{Kind: KindOther}, nil
}

// EntityMQTTID returns the prefix identifying the entity that owns topicName,
// if any. It is used by the auto-registration policy, which only needs to
// know "which entity does this message belong to", not the full channel.
func EntityMQTTID(topicName string) (ID, bool) {
	id, _, err := Parse(topicName)
	if err != nil {
		return ID{}, false
	}
	return id, true
}
