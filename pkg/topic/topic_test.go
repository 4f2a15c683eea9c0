package topic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDString(t *testing.T) {
	cases := []struct {
		name string
		id   ID
		want string
	}{
		{"device", ID{Device: "main"}, "device/main//"},
		{"service", ID{Device: "main", Service: "collectd"}, "device/main/service/collectd"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.id.String())
		})
	}
}

func TestRootTopic(t *testing.T) {
	id := ID{Device: "main"}
	assert.Equal(t, "te/device/main//", id.RootTopic())
}

func TestCommandTopic(t *testing.T) {
	id := ID{Device: "main"}
	assert.Equal(t, "te/device/main///cmd/config_snapshot/1234", id.CommandTopic("config_snapshot", "1234"))
}

func TestParseRoundTrip(t *testing.T) {
	cases := []struct {
		name      string
		topicName string
		wantID    ID
		wantKind  Kind
		wantOp    string
		wantCmd   string
	}{
		{
			name:      "device entity",
			topicName: "te/device/main//",
			wantID:    ID{Device: "main"},
			wantKind:  KindEntity,
		},
		{
			name:      "service entity",
			topicName: "te/device/main/service/collectd",
			wantID:    ID{Device: "main", Service: "collectd"},
			wantKind:  KindEntity,
		},
		{
			name:      "command metadata",
			topicName: "te/device/main///cmd/config_snapshot",
			wantID:    ID{Device: "main"},
			wantKind:  KindCommandMetadata,
			wantOp:    "config_snapshot",
		},
		{
			name:      "command instance",
			topicName: "te/device/main///cmd/config_snapshot/1234",
			wantID:    ID{Device: "main"},
			wantKind:  KindCommand,
			wantOp:    "config_snapshot",
			wantCmd:   "1234",
		},
		{
			name:      "child device command",
			topicName: "te/device/child1///cmd/config_update/abcd",
			wantID:    ID{Device: "child1"},
			wantKind:  KindCommand,
			wantOp:    "config_update",
			wantCmd:   "abcd",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, ch, err := Parse(tc.topicName)
			require.NoError(t, err)
			assert.Equal(t, tc.wantID, id)
			assert.Equal(t, tc.wantKind, ch.Kind)
			assert.Equal(t, tc.wantOp, ch.Operation)
			assert.Equal(t, tc.wantCmd, ch.CmdID)

			var rebuilt string
			switch ch.Kind {
			case KindEntity:
				rebuilt = id.RootTopic()
			case KindCommandMetadata:
				rebuilt = id.CommandMetadataTopic(ch.Operation)
			case KindCommand:
				rebuilt = id.CommandTopic(ch.Operation, ch.CmdID)
			}
			assert.Equal(t, tc.topicName, rebuilt)
		})
	}
}

func TestParseRejectsNonEdgeBusTopics(t *testing.T) {
	_, _, err := Parse("c8y/s/ds")
	assert.Error(t, err)
}

func TestParseRejectsMalformedEntityTopics(t *testing.T) {
	_, _, err := Parse("te/device/main")
	assert.Error(t, err)
}

func TestEntityMQTTID(t *testing.T) {
	id, ok := EntityMQTTID("te/device/child1///cmd/config_update/abcd")
	require.True(t, ok)
	assert.Equal(t, "child1", id.Device)

	_, ok = EntityMQTTID("not/an/edge/topic")
	assert.False(t, ok)
}
