package entitystore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/topic"
)

func TestNewSeedsMainDevice(t *testing.T) {
	mainID := topic.ID{Device: "main"}
	store := New(mainID, "my-device")

	entity, ok := store.Get(mainID)
	require.True(t, ok)
	assert.Equal(t, MainDevice, entity.Type)
	assert.Equal(t, "my-device", entity.ExternalID)
	assert.True(t, store.IsDefaultMainDevice(mainID))
}

func TestUpsertFirstWriterWins(t *testing.T) {
	store := New(topic.ID{Device: "main"}, "main")
	childID := topic.ID{Device: "child1"}

	created := store.Upsert(&Entity{TopicID: childID, ExternalID: "child1", Type: ChildDevice})
	assert.True(t, created)

	created = store.Upsert(&Entity{TopicID: childID, ExternalID: "different-id", Type: Service})
	assert.False(t, created)

	entity, ok := store.Get(childID)
	require.True(t, ok)
	assert.Equal(t, "child1", entity.ExternalID)
	assert.Equal(t, ChildDevice, entity.Type)
}

func TestGetByExternalID(t *testing.T) {
	store := New(topic.ID{Device: "main"}, "main")
	childID := topic.ID{Device: "child1"}
	store.Upsert(&Entity{TopicID: childID, ExternalID: "child1-ext", Type: ChildDevice})

	entity, ok := store.GetByExternalID("child1-ext")
	require.True(t, ok)
	assert.Equal(t, childID, entity.TopicID)

	_, ok = store.GetByExternalID("does-not-exist")
	assert.False(t, ok)
}
