package upload

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProxy struct {
	url string
	err error
}

func (p *fakeProxy) UploadFile(_ context.Context, _, _, _ string) (string, error) {
	return p.url, p.err
}
func (p *fakeProxy) ProxyURL(remoteURL string) string { return remoteURL }
func (p *fakeProxy) IsTenantURL(string) bool          { return false }

func TestHTTPUploaderSuccess(t *testing.T) {
	proxy := &fakeProxy{url: "https://tenant.example.com/inventory/binaries/1"}
	u := NewHTTPUploader(proxy, 1)
	defer u.Close()

	u.Upload(Request{CmdID: "cmd-1", Path: "/tmp/staged", ConfigType: "tedge.toml", ExternalID: "child1"})

	select {
	case res := <-u.Results():
		require.NoError(t, res.Err)
		assert.Equal(t, "cmd-1", res.CmdID)
		assert.Equal(t, proxy.url, res.URL)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for upload result")
	}
}

func TestHTTPUploaderFailure(t *testing.T) {
	proxy := &fakeProxy{err: assertError("boom")}
	u := NewHTTPUploader(proxy, 1)
	defer u.Close()

	u.Upload(Request{CmdID: "cmd-2", Path: "/tmp/staged", ConfigType: "tedge.toml", ExternalID: "child1"})

	select {
	case res := <-u.Results():
		assert.Error(t, res.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for upload result")
	}
}

type assertError string

func (e assertError) Error() string { return string(e) }
