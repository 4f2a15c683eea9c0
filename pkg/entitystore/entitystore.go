// Package entitystore is the in-memory registry of devices and services
// known to the mapper, keyed by both their edge bus topic id and their
// opaque cloud external id.
package entitystore

import (
	"github.com/thin-edge/tedge-c8y-mapper/pkg/topic"
)

// Type classifies an Entity. Exactly one MainDevice exists per store.
type Type string

const (
	MainDevice  Type = "MainDevice"
	ChildDevice Type = "ChildDevice"
	Service     Type = "Service"
)

// Entity is a main device, child device, or service known to the mapper.
type Entity struct {
	TopicID    topic.ID
	ExternalID string
	Type       Type
	// Parent is set for ChildDevice (owning device, always the main device
	// for the configuration operations this mapper supports) and Service
	// (the device the service runs on).
	Parent *topic.ID
}

// Store is the single source of truth for known entities. Per the
// concurrency model, it is owned exclusively by the Mapper Actor's single
// goroutine and therefore needs no internal locking.
type Store struct {
	byTopic    map[string]*Entity
	byExternal map[string]*Entity
	mainDevice topic.ID
}

// New creates a store pre-populated with the main device.
func New(mainDevice topic.ID, mainExternalID string) *Store {
	s := &Store{
		byTopic:    make(map[string]*Entity),
		byExternal: make(map[string]*Entity),
		mainDevice: mainDevice,
	}
	s.Upsert(&Entity{
		TopicID:    mainDevice,
		ExternalID: mainExternalID,
		Type:       MainDevice,
	})
	return s
}

// Get returns the entity registered under id, if any.
func (s *Store) Get(id topic.ID) (*Entity, bool) {
	e, ok := s.byTopic[id.String()]
	return e, ok
}

// GetByExternalID returns the entity registered under the given cloud
// external id, if any.
func (s *Store) GetByExternalID(externalID string) (*Entity, bool) {
	e, ok := s.byExternal[externalID]
	return e, ok
}

// Upsert inserts e if unknown, or does nothing if an entity is already
// registered under e.TopicID (first writer wins for immutable fields). It
// reports whether a new entity was created.
func (s *Store) Upsert(e *Entity) bool {
	key := e.TopicID.String()
	if _, exists := s.byTopic[key]; exists {
		return false
	}
	s.byTopic[key] = e
	if e.ExternalID != "" {
		s.byExternal[e.ExternalID] = e
	}
	return true
}

// IsDefaultMainDevice reports whether id names the store's main device.
func (s *Store) IsDefaultMainDevice(id topic.ID) bool {
	return id.String() == s.mainDevice.String()
}

// MainDevice returns the topic id of the store's main device.
func (s *Store) MainDevice() topic.ID {
	return s.mainDevice
}
