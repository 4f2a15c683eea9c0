package mapper

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/fswatch"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/tedge"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/topic"
)

func startTestActor(t *testing.T, cfg Config) (*fakeBroker, *fakeWatcher, func()) {
	t.Helper()
	broker := newFakeBroker()
	watcher := newFakeWatcher()
	dl := newFakeDownloader()
	ul := newFakeUploader()
	converter := NewConverter(cfg, topic.ID{Device: "main"}, "my-device", &fakeProxy{}, dl, ul)
	actor := NewActor(converter, broker, watcher, dl, ul, cfg.SyncWindow)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		actor.Run(ctx)
		close(done)
	}()

	stop := func() {
		cancel()
		<-done
	}
	return broker, watcher, stop
}

func TestActorAutoRegistersUnknownDeviceBeforeConverting(t *testing.T) {
	cfg := testConfig(t)
	broker, _, stop := startTestActor(t, cfg)

	// Let the startup sync window close first so this message is processed
	// immediately instead of being buffered.
	time.Sleep(3 * cfg.SyncWindow)
	broker.deliver(tedge.NewMessage(topic.ID{Device: "child1"}.RootTopic(), []byte(`{"@type":"device"}`)))
	time.Sleep(3 * cfg.SyncWindow)
	stop()

	require.Len(t, broker.published, 1)
	assert.Equal(t, "te/device/child1//", broker.published[0].Topic)
	assert.Equal(t, `{"@type":"device","type":"Gateway"}`, string(broker.published[0].Payload))
	assert.True(t, broker.published[0].Retain)
}

func TestActorBuffersDuringSyncWindowThenReplays(t *testing.T) {
	cfg := testConfig(t)
	broker, _, stop := startTestActor(t, cfg)

	// Delivered immediately, before the sync timer fires: must be buffered,
	// not converted yet.
	broker.deliver(tedge.NewMessage("te/device/main///cmd/config_snapshot", []byte(`{"types":["tedge.toml"]}`)))
	time.Sleep(cfg.SyncWindow / 2)
	assert.Empty(t, broker.published)

	time.Sleep(3 * cfg.SyncWindow)
	stop()

	require.Len(t, broker.published, 1)
	assert.Equal(t, CloudUpstreamTopic, broker.published[0].Topic)
	assert.Equal(t, "119,tedge.toml", string(broker.published[0].Payload))
}

func TestActorAnnouncesChildDirectoryCreation(t *testing.T) {
	cfg := testConfig(t)
	broker, watcher, stop := startTestActor(t, cfg)

	watcher.events <- fswatch.Event{Kind: fswatch.DirectoryCreated, Path: filepath.Join(cfg.OpsDir, "child9")}
	time.Sleep(3 * cfg.SyncWindow)
	stop()

	require.Len(t, broker.published, 1)
	assert.Equal(t, CloudUpstreamTopic, broker.published[0].Topic)
	assert.Equal(t, "101,child9,child9,thin-edge.io-child", string(broker.published[0].Payload))
}
