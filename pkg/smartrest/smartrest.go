// Package smartrest parses cloud-inbound SmartREST frames and serializes
// the cloud-outbound ones this mapper emits. SmartREST is a line-oriented,
// comma-separated protocol: the first field is a numeric message id, and
// fields containing a literal comma must be quoted (standard CSV dialect).
package smartrest

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Message ids this mapper dispatches on. The wider thin-edge.io system
// routes many more; everything else is out of scope here.
const (
	MsgConfigDownloadRequest = 524
	MsgConfigUploadRequest   = 526
)

// ConfigUploadRequest is the parsed form of a "526,<device>,<type>" frame.
type ConfigUploadRequest struct {
	Device     string
	ConfigType string
}

// ConfigDownloadRequest is the parsed form of a
// "524,<device>,<url>,<type>" frame.
type ConfigDownloadRequest struct {
	Device     string
	URL        string
	ConfigType string
}

// ParseFields splits a raw SmartREST line into its comma-separated fields,
// honouring the platform's CSV quoting dialect (mirrors the pattern used
// elsewhere in the pack for comma-delimited wire formats, e.g. csv.go in
// Brightgate-product's phishtank importer).
func ParseFields(raw string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(raw))
	r.FieldsPerRecord = -1
	record, err := r.Read()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse smartrest frame %q", raw)
	}
	return record, nil
}

// MessageID returns the numeric message id fields[0] carries.
func MessageID(fields []string) (int, error) {
	if len(fields) == 0 {
		return 0, errors.New("empty smartrest frame")
	}
	id, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid smartrest message id %q", fields[0])
	}
	return id, nil
}

// ParseConfigUploadRequest parses a 526 frame.
func ParseConfigUploadRequest(raw string) (ConfigUploadRequest, error) {
	fields, err := ParseFields(raw)
	if err != nil {
		return ConfigUploadRequest{}, err
	}
	if len(fields) != 3 || fields[0] != strconv.Itoa(MsgConfigUploadRequest) {
		return ConfigUploadRequest{}, errors.Errorf("not a 526 frame: %q", raw)
	}
	return ConfigUploadRequest{Device: fields[1], ConfigType: fields[2]}, nil
}

// ParseConfigDownloadRequest parses a 524 frame.
func ParseConfigDownloadRequest(raw string) (ConfigDownloadRequest, error) {
	fields, err := ParseFields(raw)
	if err != nil {
		return ConfigDownloadRequest{}, err
	}
	if len(fields) != 4 || fields[0] != strconv.Itoa(MsgConfigDownloadRequest) {
		return ConfigDownloadRequest{}, errors.Errorf("not a 524 frame: %q", raw)
	}
	return ConfigDownloadRequest{Device: fields[1], URL: fields[2], ConfigType: fields[3]}, nil
}

// ChildDeviceCreation renders "101,<id>,<name>,<kind>".
func ChildDeviceCreation(id, name, kind string) string {
	return fmt.Sprintf("101,%s,%s,%s", id, name, kind)
}

// SupportedConfigTypes renders "119,<type1>,<type2>,...", sorted ascending
// by the caller (this function does not sort so callers control policy for
// pre-sorted slices, such as the per-entity type lists the Converter caches).
func SupportedConfigTypes(types []string) string {
	return "119," + strings.Join(types, ",")
}

// OperationExecuting renders "501,<op>".
func OperationExecuting(op string) string {
	return fmt.Sprintf("501,%s", op)
}

// OperationFailed renders `502,<op>,"<reason>"`. The reason is always
// double-quoted, even when it contains no comma, matching the platform
// convention the config operations rely on.
func OperationFailed(op, reason string) string {
	return fmt.Sprintf("502,%s,%q", op, reason)
}

// OperationSuccessful renders "503,<op>" or "503,<op>,<payload>".
func OperationSuccessful(op string, payload ...string) string {
	if len(payload) == 0 || payload[0] == "" {
		return fmt.Sprintf("503,%s", op)
	}
	return fmt.Sprintf("503,%s,%s", op, payload[0])
}
