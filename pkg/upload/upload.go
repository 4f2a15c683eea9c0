// Package upload implements the out-of-band config snapshot upload
// collaborator. Like pkg/download, requests are dispatched fire-and-forget
// and results arrive later on a channel keyed by cmd id, keeping the Mapper
// Actor's event loop non-blocking.
package upload

import (
	"context"

	"github.com/thin-edge/tedge-c8y-mapper/pkg/httpproxy"
)

// Request asks the uploader to push the staged file at Path to the cloud as
// a binary for ConfigType, on behalf of the device identified by
// ExternalID.
type Request struct {
	CmdID      string
	Path       string
	ConfigType string
	ExternalID string
}

// Result is delivered once a Request finishes, successfully or not. URL is
// the cloud-assigned binary location on success.
type Result struct {
	CmdID string
	URL   string
	Err   error
}

// Requester is the contract the Converter depends on.
type Requester interface {
	Upload(req Request)
	Results() <-chan Result
	Close()
}

// HTTPUploader is the production Requester, a small bounded worker pool over
// an httpproxy.Proxy.
type HTTPUploader struct {
	proxy   httpproxy.Proxy
	queue   chan Request
	results chan Result
	done    chan struct{}
}

// NewHTTPUploader starts workers goroutines consuming upload requests.
func NewHTTPUploader(proxy httpproxy.Proxy, workers int) *HTTPUploader {
	u := &HTTPUploader{
		proxy:   proxy,
		queue:   make(chan Request, 16),
		results: make(chan Result, 16),
		done:    make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go u.worker()
	}
	return u
}

func (u *HTTPUploader) worker() {
	for {
		select {
		case req, ok := <-u.queue:
			if !ok {
				return
			}
			url, err := u.proxy.UploadFile(context.Background(), req.Path, req.ConfigType, req.ExternalID)
			u.results <- Result{CmdID: req.CmdID, URL: url, Err: err}
		case <-u.done:
			return
		}
	}
}

// Upload enqueues req.
func (u *HTTPUploader) Upload(req Request) {
	u.queue <- req
}

// Results returns the channel completed uploads are published on.
func (u *HTTPUploader) Results() <-chan Result {
	return u.results
}

// Close signals the workers to stop taking requests off the queue. The
// queue itself stays open, so Upload does not fail after Close, and an
// upload already in progress still sends its result on Results().
func (u *HTTPUploader) Close() {
	close(u.done)
}
