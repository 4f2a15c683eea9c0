// Package mapper implements the core translation engine between the
// thin-edge.io edge bus and the Cumulocity cloud's SmartREST protocol: the
// entity store, the pending-operations table, the Converter that turns
// messages on one side into messages on the other, and the Mapper Actor
// that drives it all from a single event loop.
package mapper

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/pkg/errors"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/download"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/entitystore"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/filestaging"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/fswatch"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/httpproxy"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/smartrest"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/tedge"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/topic"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/upload"
)

// Converter owns every piece of state the mapper needs to translate
// messages: the entity store, the pending-operations table, and the file
// staging layout. It is deliberately not safe for concurrent use — the
// Mapper Actor is its only caller, always from the same goroutine.
type Converter struct {
	config Config

	store   *entitystore.Store
	pending *pendingOps
	files   filestaging.Layout

	proxy      httpproxy.Proxy
	downloader download.Requester
	uploader   upload.Requester

	configTypes map[configTypesKey][]string

	syncing    bool
	syncBuffer []tedge.Message
}

// NewConverter builds a Converter with a fresh entity store seeded with the
// main device.
func NewConverter(cfg Config, mainDevice topic.ID, mainExternalID string, proxy httpproxy.Proxy, downloader download.Requester, uploader upload.Requester) *Converter {
	return &Converter{
		config:      cfg,
		store:       entitystore.New(mainDevice, mainExternalID),
		pending:     newPendingOps(),
		files:       filestaging.Layout{DataDir: cfg.DataDir, OpsDir: cfg.OpsDir},
		proxy:       proxy,
		downloader:  downloader,
		uploader:    uploader,
		configTypes: make(map[configTypesKey][]string),
		syncing:     true,
	}
}

// InitMessages returns the messages the Mapper Actor should publish before
// entering its event loop. Cached capability markers are logged here purely
// so startup surfaces what this mapper already believes it can do; they
// cannot be safely re-announced to the cloud without knowing the types each
// marker was last declared with, which isn't persisted to disk.
func (c *Converter) InitMessages() []tedge.Message {
	if names, err := filestaging.ScanCapabilities(c.files.OpsDir); err != nil {
		slog.Warn("Failed to scan cached capability markers", "err", err)
	} else if len(names) > 0 {
		slog.Info("Loaded cached capability markers for main device", "operations", names)
	}
	return nil
}

// Convert processes a single inbound message, returning zero or more
// messages to publish in response. While the startup sync window is open,
// messages are buffered instead of processed; see DrainSyncBuffer.
func (c *Converter) Convert(msg tedge.Message) []tedge.Message {
	if c.syncing {
		c.syncBuffer = append(c.syncBuffer, msg)
		return nil
	}
	return c.convertNow(msg)
}

// DrainSyncBuffer closes the startup sync window, returning every message
// that arrived while it was open in the order it arrived. The caller is
// expected to replay each one back through the normal MQTT message path
// (auto-registration included), not through convertNow directly.
func (c *Converter) DrainSyncBuffer() []tedge.Message {
	buffered := c.syncBuffer
	c.syncBuffer = nil
	c.syncing = false
	return buffered
}

func (c *Converter) convertNow(msg tedge.Message) []tedge.Message {
	if msg.Topic == CloudDownstreamTopic {
		return c.convertCloudFrame(msg)
	}

	id, ch, err := topic.Parse(msg.Topic)
	if err != nil {
		return nil
	}

	switch ch.Kind {
	case topic.KindEntity:
		if err := c.handleRegistration(id, msg.Payload); err != nil {
			slog.Warn("Failed to process entity registration", "topic", msg.Topic, "err", err)
		}
		return nil
	case topic.KindCommand:
		return c.dispatchCommand(id, ch, msg)
	case topic.KindCommandMetadata:
		return c.dispatchMetadata(id, ch, msg)
	default:
		return nil
	}
}

func (c *Converter) convertCloudFrame(msg tedge.Message) []tedge.Message {
	raw := string(msg.Payload)
	fields, err := smartrest.ParseFields(raw)
	if err != nil {
		slog.Warn("Failed to parse smartrest frame", "payload", raw, "err", err)
		return nil
	}
	msgID, err := smartrest.MessageID(fields)
	if err != nil {
		slog.Warn("Failed to read smartrest message id", "payload", raw, "err", err)
		return nil
	}

	var out []tedge.Message
	switch msgID {
	case smartrest.MsgConfigUploadRequest:
		out, err = c.HandleConfigUploadRequest(raw)
	case smartrest.MsgConfigDownloadRequest:
		out, err = c.HandleConfigDownloadRequest(raw)
	default:
		return nil
	}
	if err != nil {
		slog.Warn("Failed to handle smartrest frame", "payload", raw, "err", err)
		return nil
	}
	return out
}

func (c *Converter) dispatchCommand(id topic.ID, ch topic.Channel, msg tedge.Message) []tedge.Message {
	var out []tedge.Message
	var err error
	switch ch.Operation {
	case OperationConfigSnapshot:
		out, err = c.HandleConfigSnapshotCommand(id, ch.CmdID, msg.Payload)
	case OperationConfigUpdate:
		out, err = c.HandleConfigUpdateCommand(id, ch.CmdID, msg.Payload)
	default:
		return nil
	}
	if err != nil {
		slog.Warn("Failed to process command", "topic", msg.Topic, "err", err)
		return nil
	}
	return out
}

func (c *Converter) dispatchMetadata(id topic.ID, ch topic.Channel, msg tedge.Message) []tedge.Message {
	var out []tedge.Message
	var err error
	switch ch.Operation {
	case OperationConfigSnapshot:
		out, err = c.handleConfigMetadata(id, OperationConfigSnapshot, CloudOpUploadConfigFile, c.config.Capabilities.ConfigSnapshot, msg.Payload)
	case OperationConfigUpdate:
		out, err = c.handleConfigMetadata(id, OperationConfigUpdate, CloudOpDownloadConfigFile, c.config.Capabilities.ConfigUpdate, msg.Payload)
	default:
		return nil
	}
	if err != nil {
		slog.Warn("Failed to process command metadata", "topic", msg.Topic, "err", err)
		return nil
	}
	return out
}

// registrationPayload is the JSON body of an entity registration message.
// An empty payload is a deregistration tombstone.
type registrationPayload struct {
	Type       string `json:"@type"`
	ExternalID string `json:"@id"`
}

func (c *Converter) handleRegistration(id topic.ID, payload []byte) error {
	if len(payload) == 0 {
		// Deregistration: entities are never removed from the store mid-run,
		// matching the spec's "entities are never forgotten" invariant.
		return nil
	}
	var reg registrationPayload
	if err := json.Unmarshal(payload, &reg); err != nil {
		return errors.Wrapf(ErrMalformedPayload, "registration for %s: %v", id, err)
	}

	externalID := reg.ExternalID
	if externalID == "" {
		if id.IsService() {
			externalID = id.Service
		} else {
			externalID = id.Device
		}
	}

	entity := &entitystore.Entity{TopicID: id, ExternalID: externalID}
	switch reg.Type {
	case "device", "child-device":
		if c.store.IsDefaultMainDevice(id) {
			entity.Type = entitystore.MainDevice
		} else {
			entity.Type = entitystore.ChildDevice
			parent := c.store.MainDevice()
			entity.Parent = &parent
		}
	case "service":
		entity.Type = entitystore.Service
		parent := topic.ID{Device: id.Device}
		entity.Parent = &parent
	default:
		return errors.Wrapf(ErrMalformedPayload, "unknown entity type %q for %s", reg.Type, id)
	}

	c.store.Upsert(entity)
	return nil
}

// AutoRegister applies the auto-registration policy for an entity that
// owns a just-seen message but is not yet known to the store: id's device
// (as a child of the main device) and, if id names a service, the service
// itself are registered with the platform's fixed payloads. It returns the
// retained registration messages to publish, which is empty if id's device
// and, for a service, the service are already known.
func (c *Converter) AutoRegister(id topic.ID) []tedge.Message {
	var out []tedge.Message

	deviceID := topic.ID{Device: id.Device}
	if _, ok := c.store.Get(deviceID); !ok {
		c.store.Upsert(&entitystore.Entity{
			TopicID:    deviceID,
			ExternalID: deviceID.Device,
			Type:       entitystore.ChildDevice,
			Parent:     parentPtr(c.store.MainDevice()),
		})
		out = append(out, tedge.NewMessage(deviceID.RootTopic(), []byte(`{"@type":"device","type":"Gateway"}`)).WithRetain())
	}

	if id.IsService() {
		if _, ok := c.store.Get(id); !ok {
			c.store.Upsert(&entitystore.Entity{
				TopicID:    id,
				ExternalID: id.Service,
				Type:       entitystore.Service,
				Parent:     &deviceID,
			})
			out = append(out, tedge.NewMessage(id.RootTopic(), []byte(`{"@type":"service","type":"systemd"}`)).WithRetain())
		}
	}

	return out
}

func parentPtr(id topic.ID) *topic.ID {
	return &id
}

// cloudPublishTopic resolves the SmartREST topic to publish frames about id
// on: the main device's own topic, or its child's sub-topic.
func (c *Converter) cloudPublishTopic(id topic.ID) (string, error) {
	entity, ok := c.store.Get(id)
	if !ok {
		return "", errors.Wrapf(ErrUnregisteredDevice, "%s", id)
	}
	if c.store.IsDefaultMainDevice(id) {
		return CloudUpstreamTopic, nil
	}
	return CloudUpstreamTopic + "/" + entity.ExternalID, nil
}

// tedgeURL builds the local file-transfer URL a device downloads a staged
// config file from, or uploads one to.
func (c *Converter) tedgeURL(externalID, operation, configType, cmdID string) string {
	return fmt.Sprintf("http://%s/tedge/file-transfer/%s/%s/%s-%s",
		c.config.TedgeHTTPHost, externalID, operation, filestaging.SanitizeTypeTag(configType), cmdID)
}

// opsDirForEntity resolves the capability marker directory for entity, or
// reports that config operations are unsupported for it (nested child
// devices and services).
func (c *Converter) opsDirForEntity(entity *entitystore.Entity) (string, bool) {
	switch entity.Type {
	case entitystore.MainDevice:
		return c.files.OpsDir, true
	case entitystore.ChildDevice:
		if entity.Parent != nil && c.store.IsDefaultMainDevice(*entity.Parent) {
			return c.files.OpsDirFor(entity.ExternalID), true
		}
	}
	return "", false
}

func (c *Converter) handleConfigMetadata(id topic.ID, operation, cloudOp string, enabled bool, payload []byte) ([]tedge.Message, error) {
	if !enabled {
		slog.Warn("Ignoring config metadata, capability disabled", "operation", operation, "entity", id)
		return nil, nil
	}

	entity, ok := c.store.Get(id)
	if !ok {
		return nil, errors.Wrapf(ErrUnregisteredDevice, "%s", id)
	}
	dir, ok := c.opsDirForEntity(entity)
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedEntity, "%s", id)
	}

	var meta ConfigMetadataPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &meta); err != nil {
			return nil, errors.Wrapf(ErrMalformedPayload, "config metadata for %s: %v", id, err)
		}
	}

	if err := filestaging.WriteCapabilityMarker(dir, cloudOp); err != nil {
		return nil, err
	}

	types := append([]string(nil), meta.Types...)
	sort.Strings(types)
	c.configTypes[configTypesKey{externalID: entity.ExternalID, operation: operation}] = types

	smTopic, err := c.cloudPublishTopic(id)
	if err != nil {
		return nil, err
	}
	return []tedge.Message{tedge.NewMessage(smTopic, []byte(smartrest.SupportedConfigTypes(types)))}, nil
}

// ProcessOperationsUpdate re-announces the last known supported types for
// whichever entity's capability markers changed on disk, driven by the
// filesystem watcher. It is a best-effort re-sync, not a source of new
// type information — the marker files themselves don't carry types.
func (c *Converter) ProcessOperationsUpdate(update fswatch.OperationsUpdate) ([]tedge.Message, error) {
	var id topic.ID
	if update.IsMainDevice {
		id = c.store.MainDevice()
	} else {
		entity, ok := c.store.GetByExternalID(update.ChildExternalID)
		if !ok {
			return nil, errors.Wrapf(ErrUnknownDevice, "%s", update.ChildExternalID)
		}
		id = entity.TopicID
	}

	entity, ok := c.store.Get(id)
	if !ok {
		return nil, errors.Wrapf(ErrUnregisteredDevice, "%s", id)
	}

	var out []tedge.Message
	for _, operation := range []string{OperationConfigSnapshot, OperationConfigUpdate} {
		types, known := c.configTypes[configTypesKey{externalID: entity.ExternalID, operation: operation}]
		if !known {
			continue
		}
		smTopic, err := c.cloudPublishTopic(id)
		if err != nil {
			return nil, err
		}
		out = append(out, tedge.NewMessage(smTopic, []byte(smartrest.SupportedConfigTypes(types))))
	}
	return out, nil
}
