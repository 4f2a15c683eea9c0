package mapper

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/thin-edge/tedge-c8y-mapper/pkg/download"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/fswatch"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/tedge"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/upload"
)

// fakeBroker is an in-memory stand-in for tedge.Broker, recording every
// published message instead of talking to a real MQTT broker.
type fakeBroker struct {
	published []tedge.Message
	inbound   chan tedge.Message
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{inbound: make(chan tedge.Message, 64)}
}

func (b *fakeBroker) Connect() error { return nil }
func (b *fakeBroker) Publish(msg tedge.Message) error {
	b.published = append(b.published, msg)
	return nil
}
func (b *fakeBroker) Subscribe(string) error        { return nil }
func (b *fakeBroker) Messages() <-chan tedge.Message { return b.inbound }
func (b *fakeBroker) Disconnect()                   {}

func (b *fakeBroker) deliver(msg tedge.Message) {
	b.inbound <- msg
}

// fakeProxy is a no-op httpproxy.Proxy for tests that don't exercise the
// upload/tenant-url paths directly.
type fakeProxy struct {
	tenantHost string
	uploadURL  string
	uploadErr  error
}

func (p *fakeProxy) UploadFile(_ context.Context, _, _, _ string) (string, error) {
	return p.uploadURL, p.uploadErr
}
func (p *fakeProxy) ProxyURL(remoteURL string) string {
	return "http://127.0.0.1:8001/c8y/binaries"
}
func (p *fakeProxy) IsTenantURL(remoteURL string) bool {
	return p.tenantHost != "" && strings.Contains(remoteURL, p.tenantHost)
}

// fakeDownloader records dispatched requests without actually performing
// any I/O; tests drive results by calling Converter.HandleDownloadResult
// directly.
type fakeDownloader struct {
	requests []download.Request
	results  chan download.Result
}

func newFakeDownloader() *fakeDownloader {
	return &fakeDownloader{results: make(chan download.Result, 16)}
}
func (d *fakeDownloader) Download(req download.Request)    { d.requests = append(d.requests, req) }
func (d *fakeDownloader) Results() <-chan download.Result { return d.results }
func (d *fakeDownloader) Close()                           {}

// fakeUploader is the upload-side counterpart to fakeDownloader.
type fakeUploader struct {
	requests []upload.Request
	results  chan upload.Result
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{results: make(chan upload.Result, 16)}
}
func (u *fakeUploader) Upload(req upload.Request)      { u.requests = append(u.requests, req) }
func (u *fakeUploader) Results() <-chan upload.Result { return u.results }
func (u *fakeUploader) Close()                         {}

// fakeWatcher is a no-op fswatch.Watcher with channels a test can push to.
type fakeWatcher struct {
	events chan fswatch.Event
	errs   chan error
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{events: make(chan fswatch.Event, 16), errs: make(chan error, 4)}
}
func (w *fakeWatcher) Events() <-chan fswatch.Event { return w.events }
func (w *fakeWatcher) Errors() <-chan error          { return w.errs }
func (w *fakeWatcher) Close() error                  { return nil }

func testConfig(t *testing.T) Config {
	dir := t.TempDir()
	return Config{
		TedgeHTTPHost: "127.0.0.1:8000",
		DataDir:       dir + "/data",
		OpsDir:        dir + "/ops",
		ConfigDir:     dir + "/config",
		SyncWindow:    10 * time.Millisecond,
		Capabilities: Capabilities{
			ConfigSnapshot: true,
			ConfigUpdate:   true,
		},
	}
}
