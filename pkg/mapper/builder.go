package mapper

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/download"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/fswatch"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/httpproxy"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/tedge"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/topic"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/upload"
)

// downloadTimeout bounds a single file download attempt.
const downloadTimeout = 2 * time.Minute

// BuildOptions declares everything the Builder needs to assemble an Actor.
// Collaborators are passed in already constructed so tests can substitute
// fakes without the Builder knowing the difference.
type BuildOptions struct {
	Config          Config
	MainDeviceTopic topic.ID
	MainExternalID  string

	Broker  tedge.Broker
	Proxy   httpproxy.Proxy
	Workers int
}

// Build provisions the on-disk directories this mapper owns and wires a
// ready-to-run Actor around a fresh Converter.
func Build(opts BuildOptions) (*Actor, error) {
	if err := os.MkdirAll(opts.Config.OpsDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create operations directory")
	}
	if err := os.MkdirAll(filepath.Join(opts.Config.ConfigDir, "device"), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create device config directory")
	}
	if err := os.MkdirAll(opts.Config.DataDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create data directory")
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = 2
	}
	downloader := download.NewHTTPDownloader(workers, downloadTimeout)
	uploader := upload.NewHTTPUploader(opts.Proxy, workers)

	watcher, err := fswatch.New(opts.Config.OpsDir)
	if err != nil {
		return nil, err
	}

	converter := NewConverter(opts.Config, opts.MainDeviceTopic, opts.MainExternalID, opts.Proxy, downloader, uploader)
	return NewActor(converter, opts.Broker, watcher, downloader, uploader, opts.Config.SyncWindow), nil
}
