package mapper

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/thin-edge/tedge-c8y-mapper/pkg/download"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/fswatch"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/smartrest"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/tedge"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/topic"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/upload"
)

// Actor is the Mapper Actor: a single goroutine multiplexing MQTT, the
// filesystem watcher, the async download/upload result channels, and the
// startup sync timer, applying every input to the Converter in turn so the
// Converter itself never needs its own synchronization.
type Actor struct {
	converter  *Converter
	broker     tedge.Broker
	watcher    fswatch.Watcher
	downloader download.Requester
	uploader   upload.Requester
	syncWindow time.Duration
}

// NewActor wires a ready-to-run Actor around its collaborators.
func NewActor(converter *Converter, broker tedge.Broker, watcher fswatch.Watcher, downloader download.Requester, uploader upload.Requester, syncWindow time.Duration) *Actor {
	return &Actor{
		converter:  converter,
		broker:     broker,
		watcher:    watcher,
		downloader: downloader,
		uploader:   uploader,
		syncWindow: syncWindow,
	}
}

// Run drives the event loop until ctx is cancelled. It never returns an
// error on its own; broker and watcher failures are logged and the loop
// keeps going, matching the mapper's job of staying up for as long as
// possible rather than crashing on a single bad input.
func (a *Actor) Run(ctx context.Context) {
	a.publishAll(a.converter.InitMessages())

	syncTimer := time.NewTimer(a.syncWindow)
	defer syncTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Mapper actor shutting down")
			return

		case msg, ok := <-a.broker.Messages():
			if !ok {
				return
			}
			a.processMQTTMessage(msg)

		case ev, ok := <-a.watcher.Events():
			if !ok {
				continue
			}
			a.processFileWatchEvent(ev)

		case err, ok := <-a.watcher.Errors():
			if ok {
				slog.Warn("Filesystem watcher error", "err", err)
			}

		case res, ok := <-a.downloader.Results():
			if ok {
				a.processDownloadResult(res)
			}

		case res, ok := <-a.uploader.Results():
			if ok {
				a.processUploadResult(res)
			}

		case <-syncTimer.C:
			a.processSyncComplete()
		}
	}
}

func (a *Actor) publishAll(msgs []tedge.Message) {
	for _, msg := range msgs {
		if err := a.broker.Publish(msg); err != nil {
			slog.Warn("Failed to publish message", "topic", msg.Topic, "err", err)
		}
	}
}

// processMQTTMessage applies the auto-registration policy before handing
// the message to the Converter, so every command or metadata message the
// Converter ever sees belongs to an entity already present in the store.
func (a *Actor) processMQTTMessage(msg tedge.Message) {
	if id, ok := topic.EntityMQTTID(msg.Topic); ok {
		a.publishAll(a.converter.AutoRegister(id))
	}
	a.publishAll(a.converter.Convert(msg))
}

func (a *Actor) processFileWatchEvent(ev fswatch.Event) {
	if ev.Kind == fswatch.DirectoryCreated {
		childID := filepath.Base(ev.Path)
		frame := smartrest.ChildDeviceCreation(childID, childID, "thin-edge.io-child")
		a.publishAll([]tedge.Message{tedge.NewMessage(CloudUpstreamTopic, []byte(frame))})
		return
	}

	update, ok := fswatch.ClassifyOperationsUpdate(a.opsDir(), ev)
	if !ok {
		return
	}
	out, err := a.converter.ProcessOperationsUpdate(update)
	if err != nil {
		slog.Warn("Failed to process operations directory update", "path", ev.Path, "err", err)
		return
	}
	a.publishAll(out)
}

func (a *Actor) opsDir() string {
	return a.converter.config.OpsDir
}

func (a *Actor) processSyncComplete() {
	buffered := a.converter.DrainSyncBuffer()
	slog.Info("Sync window closed, replaying buffered messages", "count", len(buffered))
	for _, msg := range buffered {
		a.processMQTTMessage(msg)
	}
}

func (a *Actor) processDownloadResult(res download.Result) {
	out, err := a.converter.HandleDownloadResult(res)
	if err != nil {
		slog.Warn("Failed to process download result", "cmd_id", res.CmdID, "err", err)
		return
	}
	a.publishAll(out)
}

func (a *Actor) processUploadResult(res upload.Result) {
	out, err := a.converter.HandleUploadResult(res)
	if err != nil {
		slog.Warn("Failed to process upload result", "cmd_id", res.CmdID, "err", err)
		return
	}
	a.publishAll(out)
}
