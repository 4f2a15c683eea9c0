package mapper

import (
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/download"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/entitystore"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/filestaging"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/smartrest"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/tedge"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/topic"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/upload"
)

// HandleConfigUploadRequest handles an inbound 526 frame by minting a new
// config_snapshot command for the requested device, instructing it to
// write its current configuration out to the local file-transfer endpoint.
func (c *Converter) HandleConfigUploadRequest(raw string) ([]tedge.Message, error) {
	if !c.config.Capabilities.ConfigSnapshot {
		slog.Warn("Ignoring config upload request, capability disabled", "frame", raw)
		return nil, nil
	}

	req, err := smartrest.ParseConfigUploadRequest(raw)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedFrame, err.Error())
	}
	entity, ok := c.store.GetByExternalID(req.Device)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownDevice, "%s", req.Device)
	}
	if _, ok := c.opsDirForEntity(entity); !ok {
		return nil, errors.Wrapf(ErrUnsupportedEntity, "%s", entity.TopicID)
	}

	cmdID := uuid.NewString()
	payload := ConfigSnapshotPayload{
		Status:   StatusInit,
		Type:     req.ConfigType,
		TedgeURL: c.tedgeURL(entity.ExternalID, OperationConfigSnapshot, req.ConfigType, cmdID),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode config_snapshot command")
	}
	return []tedge.Message{
		tedge.NewMessage(entity.TopicID.CommandTopic(OperationConfigSnapshot, cmdID), body).WithRetain(),
	}, nil
}

// HandleConfigSnapshotCommand reacts to a progress update on a
// config_snapshot command instance, driving the upload side of the state
// machine: executing announces to the cloud, successful dispatches the
// staged file for async upload, failed clears the command immediately.
func (c *Converter) HandleConfigSnapshotCommand(id topic.ID, cmdID string, raw []byte) ([]tedge.Message, error) {
	if !c.config.Capabilities.ConfigSnapshot {
		slog.Warn("Ignoring config_snapshot command, capability disabled", "entity", id, "cmd_id", cmdID)
		return nil, nil
	}
	var payload ConfigSnapshotPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errors.Wrap(ErrMalformedPayload, err.Error())
	}
	entity, ok := c.store.Get(id)
	if !ok {
		return nil, errors.Wrapf(ErrUnregisteredDevice, "%s", id)
	}
	smTopic, err := c.cloudPublishTopic(id)
	if err != nil {
		return nil, err
	}

	switch payload.Status {
	case StatusExecuting:
		return []tedge.Message{tedge.NewMessage(smTopic, []byte(smartrest.OperationExecuting(CloudOpUploadConfigFile)))}, nil

	case StatusSuccessful:
		path := c.files.SymlinkPath(entity.ExternalID, OperationConfigSnapshot, payload.Type, cmdID)
		c.pending.insertUpload(uploadContext{entity: id, cmdID: cmdID, configType: payload.Type, path: path})
		c.uploader.Upload(upload.Request{CmdID: cmdID, Path: path, ConfigType: payload.Type, ExternalID: entity.ExternalID})
		return nil, nil

	case StatusFailed:
		return []tedge.Message{
			tedge.NewMessage(smTopic, []byte(smartrest.OperationFailed(CloudOpUploadConfigFile, payload.Reason))),
			tedge.NewMessage(id.CommandTopic(OperationConfigSnapshot, cmdID), nil).WithRetain(),
		}, nil

	default:
		return nil, nil
	}
}

// HandleUploadResult finishes the config_snapshot state machine once the
// staged file has actually been pushed to the cloud.
func (c *Converter) HandleUploadResult(res upload.Result) ([]tedge.Message, error) {
	ctx, ok := c.pending.takeUpload(res.CmdID)
	if !ok {
		return nil, errors.Errorf("no pending upload for cmd id %s", res.CmdID)
	}
	smTopic, err := c.cloudPublishTopic(ctx.entity)
	if err != nil {
		return nil, err
	}
	clearTopic := ctx.entity.CommandTopic(OperationConfigSnapshot, ctx.cmdID)

	if res.Err != nil {
		return []tedge.Message{
			tedge.NewMessage(smTopic, []byte(smartrest.OperationFailed(CloudOpUploadConfigFile, res.Err.Error()))),
			tedge.NewMessage(clearTopic, nil).WithRetain(),
		}, nil
	}
	return []tedge.Message{
		tedge.NewMessage(smTopic, []byte(smartrest.OperationSuccessful(CloudOpUploadConfigFile, res.URL))),
		tedge.NewMessage(clearTopic, nil).WithRetain(),
	}, nil
}

// HandleConfigDownloadRequest handles an inbound 524 frame. A cache hit is
// served immediately by symlinking the existing artifact; a miss dispatches
// an async download and defers the command creation to HandleDownloadResult.
func (c *Converter) HandleConfigDownloadRequest(raw string) ([]tedge.Message, error) {
	if !c.config.Capabilities.ConfigUpdate {
		slog.Warn("Ignoring config download request, capability disabled", "frame", raw)
		return nil, nil
	}

	req, err := smartrest.ParseConfigDownloadRequest(raw)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedFrame, err.Error())
	}
	entity, ok := c.store.GetByExternalID(req.Device)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownDevice, "%s", req.Device)
	}
	if _, ok := c.opsDirForEntity(entity); !ok {
		return nil, errors.Wrapf(ErrUnsupportedEntity, "%s", entity.TopicID)
	}

	cmdID := uuid.NewString()
	fetchURL := req.URL
	if c.proxy.IsTenantURL(fetchURL) {
		fetchURL = c.proxy.ProxyURL(fetchURL)
	}

	if c.files.CacheHit(fetchURL) {
		symlinkPath := c.files.SymlinkPath(entity.ExternalID, OperationConfigUpdate, req.ConfigType, cmdID)
		if err := filestaging.CreateSymlink(symlinkPath, c.files.CachePath(fetchURL)); err != nil {
			return nil, err
		}
		return c.emitConfigUpdateInit(entity, cmdID, req.ConfigType, req.URL)
	}

	c.pending.insertDownload(downloadContext{entity: entity.TopicID, cmdID: cmdID, configType: req.ConfigType, remoteURL: req.URL})
	c.downloader.Download(download.Request{CmdID: cmdID, URL: fetchURL, Dest: c.files.CachePath(fetchURL)})
	return nil, nil
}

func (c *Converter) emitConfigUpdateInit(entity *entitystore.Entity, cmdID, configType, remoteURL string) ([]tedge.Message, error) {
	payload := ConfigUpdatePayload{
		Status:    StatusInit,
		Type:      configType,
		TedgeURL:  c.tedgeURL(entity.ExternalID, OperationConfigUpdate, configType, cmdID),
		RemoteURL: remoteURL,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode config_update command")
	}
	return []tedge.Message{
		tedge.NewMessage(entity.TopicID.CommandTopic(OperationConfigUpdate, cmdID), body).WithRetain(),
	}, nil
}

// HandleDownloadResult resumes a cache-miss config_update request once the
// download finishes: a failure is reported straight to the cloud without
// ever creating a local command (the device was never told anything was
// coming), a success symlinks the fresh cache entry and creates the command.
func (c *Converter) HandleDownloadResult(res download.Result) ([]tedge.Message, error) {
	ctx, ok := c.pending.takeDownload(res.CmdID)
	if !ok {
		return nil, errors.Errorf("no pending download for cmd id %s", res.CmdID)
	}
	entity, ok := c.store.Get(ctx.entity)
	if !ok {
		return nil, errors.Wrapf(ErrUnregisteredDevice, "%s", ctx.entity)
	}
	smTopic, err := c.cloudPublishTopic(ctx.entity)
	if err != nil {
		return nil, err
	}

	if res.Err != nil {
		return []tedge.Message{
			tedge.NewMessage(smTopic, []byte(smartrest.OperationExecuting(CloudOpDownloadConfigFile))),
			tedge.NewMessage(smTopic, []byte(smartrest.OperationFailed(CloudOpDownloadConfigFile, res.Err.Error()))),
		}, nil
	}

	symlinkPath := c.files.SymlinkPath(entity.ExternalID, OperationConfigUpdate, ctx.configType, ctx.cmdID)
	if err := filestaging.CreateSymlink(symlinkPath, res.Path); err != nil {
		return nil, err
	}
	return c.emitConfigUpdateInit(entity, ctx.cmdID, ctx.configType, ctx.remoteURL)
}

// HandleConfigUpdateCommand reacts to a progress update on a config_update
// command instance: executing announces to the cloud, successful and
// failed both clear the command and tear down the transfer symlink.
func (c *Converter) HandleConfigUpdateCommand(id topic.ID, cmdID string, raw []byte) ([]tedge.Message, error) {
	if !c.config.Capabilities.ConfigUpdate {
		slog.Warn("Ignoring config_update command, capability disabled", "entity", id, "cmd_id", cmdID)
		return nil, nil
	}
	var payload ConfigUpdatePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errors.Wrap(ErrMalformedPayload, err.Error())
	}
	entity, ok := c.store.Get(id)
	if !ok {
		return nil, errors.Wrapf(ErrUnregisteredDevice, "%s", id)
	}
	smTopic, err := c.cloudPublishTopic(id)
	if err != nil {
		return nil, err
	}

	switch payload.Status {
	case StatusExecuting:
		return []tedge.Message{tedge.NewMessage(smTopic, []byte(smartrest.OperationExecuting(CloudOpDownloadConfigFile)))}, nil

	case StatusSuccessful, StatusFailed:
		symlinkPath := c.files.SymlinkPath(entity.ExternalID, OperationConfigUpdate, payload.Type, cmdID)
		if err := filestaging.DeleteSymlink(symlinkPath); err != nil {
			slog.Warn("Failed to remove config_update transfer symlink", "path", symlinkPath, "err", err)
		}

		clear := tedge.NewMessage(id.CommandTopic(OperationConfigUpdate, cmdID), nil).WithRetain()
		if payload.Status == StatusFailed {
			return []tedge.Message{
				tedge.NewMessage(smTopic, []byte(smartrest.OperationFailed(CloudOpDownloadConfigFile, payload.Reason))),
				clear,
			}, nil
		}
		return []tedge.Message{
			tedge.NewMessage(smTopic, []byte(smartrest.OperationSuccessful(CloudOpDownloadConfigFile))),
			clear,
		}, nil

	default:
		return nil, nil
	}
}
