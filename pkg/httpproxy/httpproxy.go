// Package httpproxy wraps the local Cumulocity HTTP proxy collaborator:
// uploading config snapshots as cloud binaries, and rewriting
// tenant-hosted download URLs to route through the proxy's own
// authentication instead of carrying device-side credentials.
package httpproxy

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/reubenmiller/go-c8y/pkg/c8y"
)

// Proxy is the contract the Converter depends on. Production code uses
// C8yProxy, built on the go-c8y REST client exactly as the teacher's
// tedge.Client wires one up for identity and inventory lookups.
type Proxy interface {
	UploadFile(ctx context.Context, path, configType, externalID string) (string, error)
	ProxyURL(remoteURL string) string
	IsTenantURL(remoteURL string) bool
}

// C8yProxy is the production Proxy implementation.
type C8yProxy struct {
	client         *c8y.Client
	tenantDomain   string
	localProxyBase string
}

// NewC8yProxy builds a proxy collaborator. tenantDomain is the cloud
// tenant's public hostname (used to recognise URLs that need rewriting);
// localProxyBase is the local thin-edge.io auth proxy's base URL (e.g.
// "http://127.0.0.1:8001/c8y-proxy").
func NewC8yProxy(client *c8y.Client, tenantDomain, localProxyBase string) *C8yProxy {
	return &C8yProxy{
		client:         client,
		tenantDomain:   tenantDomain,
		localProxyBase: strings.TrimSuffix(localProxyBase, "/"),
	}
}

// UploadFile uploads the file at path to the cloud as a binary attachment
// for configType, returning the URL the cloud assigned it.
func (p *C8yProxy) UploadFile(ctx context.Context, path, configType, externalID string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to open staged config file %s", path)
	}
	defer f.Close()

	name := fmt.Sprintf("%s-%s", externalID, filepath.Base(configType))
	binary, _, err := p.client.Inventory.CreateBinary(ctx, f, &c8y.BinaryOptions{
		Name:        name,
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to upload config file")
	}
	return binary.Self, nil
}

// IsTenantURL reports whether remoteURL points at the cloud tenant itself
// (as opposed to an arbitrary third-party download location).
func (p *C8yProxy) IsTenantURL(remoteURL string) bool {
	u, err := url.Parse(remoteURL)
	if err != nil {
		return false
	}
	return p.tenantDomain != "" && strings.HasSuffix(u.Hostname(), p.tenantDomain)
}

// ProxyURL rewrites a tenant-hosted URL to route through the local auth
// proxy, which attaches device credentials on thin-edge.io's behalf.
func (p *C8yProxy) ProxyURL(remoteURL string) string {
	u, err := url.Parse(remoteURL)
	if err != nil {
		return remoteURL
	}
	result := p.localProxyBase + u.Path
	if u.RawQuery != "" {
		result += "?" + u.RawQuery
	}
	return result
}
