package mapper

import (
	"github.com/thin-edge/tedge-c8y-mapper/pkg/topic"
)

// pendingKind distinguishes the two async operations a cmd id can be
// waiting on.
type pendingKind int

const (
	pendingDownload pendingKind = iota
	pendingUpload
)

// downloadContext is carried across a dispatched file download until its
// result arrives.
type downloadContext struct {
	entity     topic.ID
	cmdID      string
	configType string
	remoteURL  string
}

// uploadContext is carried across a dispatched config snapshot upload until
// its result arrives.
type uploadContext struct {
	entity     topic.ID
	cmdID      string
	configType string
	path       string
}

type pendingEntry struct {
	kind     pendingKind
	download downloadContext
	upload   uploadContext
}

// pendingOps is the C4 pending-operations table: an in-flight cmd id's
// context, keyed so an out-of-band result (a download or upload finishing)
// can be matched back to the command that started it. Like the entity
// store, it is owned exclusively by the Mapper Actor goroutine.
type pendingOps struct {
	entries map[string]pendingEntry
}

func newPendingOps() *pendingOps {
	return &pendingOps{entries: make(map[string]pendingEntry)}
}

func (p *pendingOps) insertDownload(ctx downloadContext) {
	p.entries[ctx.cmdID] = pendingEntry{kind: pendingDownload, download: ctx}
}

func (p *pendingOps) insertUpload(ctx uploadContext) {
	p.entries[ctx.cmdID] = pendingEntry{kind: pendingUpload, upload: ctx}
}

func (p *pendingOps) takeDownload(cmdID string) (downloadContext, bool) {
	e, ok := p.entries[cmdID]
	if !ok || e.kind != pendingDownload {
		return downloadContext{}, false
	}
	delete(p.entries, cmdID)
	return e.download, true
}

func (p *pendingOps) takeUpload(cmdID string) (uploadContext, bool) {
	e, ok := p.entries[cmdID]
	if !ok || e.kind != pendingUpload {
		return uploadContext{}, false
	}
	delete(p.entries, cmdID)
	return e.upload, true
}

// configTypesKey caches the last supported-types declaration seen for an
// entity's operation, so a later filesystem-driven recompute (capability
// markers changing on disk) can re-announce the same list without needing
// to read it back off the wire.
type configTypesKey struct {
	externalID string
	operation  string
}
