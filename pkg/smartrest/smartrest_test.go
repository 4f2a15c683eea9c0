package smartrest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigUploadRequest(t *testing.T) {
	req, err := ParseConfigUploadRequest("526,child1,/etc/tedge/tedge.toml")
	require.NoError(t, err)
	assert.Equal(t, "child1", req.Device)
	assert.Equal(t, "/etc/tedge/tedge.toml", req.ConfigType)
}

func TestParseConfigUploadRequestRejectsWrongShape(t *testing.T) {
	_, err := ParseConfigUploadRequest("524,child1,http://example.com,type")
	assert.Error(t, err)
}

func TestParseConfigDownloadRequest(t *testing.T) {
	req, err := ParseConfigDownloadRequest(`524,child1,https://example.com/file.bin,"my,type"`)
	require.NoError(t, err)
	assert.Equal(t, "child1", req.Device)
	assert.Equal(t, "https://example.com/file.bin", req.URL)
	assert.Equal(t, "my,type", req.ConfigType)
}

func TestMessageID(t *testing.T) {
	fields, err := ParseFields("501,c8y_UploadConfigFile")
	require.NoError(t, err)
	id, err := MessageID(fields)
	require.NoError(t, err)
	assert.Equal(t, 501, id)
}

func TestOperationFailedAlwaysQuotesReason(t *testing.T) {
	assert.Equal(t, `502,c8y_UploadConfigFile,"disk full"`, OperationFailed("c8y_UploadConfigFile", "disk full"))
}

func TestOperationSuccessfulWithAndWithoutPayload(t *testing.T) {
	assert.Equal(t, "503,c8y_UploadConfigFile", OperationSuccessful("c8y_UploadConfigFile"))
	assert.Equal(t, "503,c8y_UploadConfigFile,extra", OperationSuccessful("c8y_UploadConfigFile", "extra"))
}

func TestSupportedConfigTypes(t *testing.T) {
	assert.Equal(t, "119,tedge.toml,collectd.conf", SupportedConfigTypes([]string{"tedge.toml", "collectd.conf"}))
}
