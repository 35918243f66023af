package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"sync"
)

// HomeIndex is a flattened, live view of the hub's device tree.
//
// Every record appears in the flat table. Records whose type tag is known also
// appear in exactly one typed table. Records are never mutated in place, an
// update replaces them, so values returned by the getters are safe to keep.
//
// There is no way to remove a record. Objects removed on the hub stay in the
// index until a new snapshot is fetched.
type HomeIndex struct {
	mu sync.RWMutex

	lights      map[string]*Light
	blinds      map[string]*Blind
	thermostats map[string]*Thermostat
	outlets     map[string]*Outlet
	suppliers   map[string]*Supplier
	rooms       map[string]*Room
	all         map[string]Device
}

// NewHomeIndex builds an index from a full-detail snapshot of the root object.
func NewHomeIndex(root json.RawMessage) (*HomeIndex, error) {
	h := &HomeIndex{
		lights:      make(map[string]*Light),
		blinds:      make(map[string]*Blind),
		thermostats: make(map[string]*Thermostat),
		outlets:     make(map[string]*Outlet),
		suppliers:   make(map[string]*Supplier),
		rooms:       make(map[string]*Room),
		all:         make(map[string]Device),
	}

	err := h.visit(root)
	if err != nil {
		return nil, err
	}

	return h, nil
}

func (h *HomeIndex) visit(data json.RawMessage) error {
	var fields map[string]json.RawMessage
	err := json.Unmarshal(data, &fields)
	if err != nil {
		return fmt.Errorf("unmarshal record: %w", err)
	}

	d, err := decodeDevice(fields)
	if err != nil {
		return err
	}

	h.insert(d)

	for _, element := range d.Base().Elements {
		if len(element.Data) == 0 || string(element.Data) == "null" {
			continue
		}

		err := h.visit(element.Data)
		if err != nil {
			return fmt.Errorf("element %s of %s: %w", element.ID, d.Base().ID, err)
		}
	}

	return nil
}

// insert puts d in the typed table matching its type and in the flat table.
// A record previously stored under the same id is dropped from its typed
// table first, in case the type changed.
func (h *HomeIndex) insert(d Device) {
	id := d.Base().ID
	if prev, ok := h.all[id]; ok {
		h.removeTyped(prev)
	}

	switch v := d.(type) {
	case *Light:
		h.lights[id] = v
	case *Blind:
		h.blinds[id] = v
	case *Thermostat:
		h.thermostats[id] = v
	case *Outlet:
		h.outlets[id] = v
	case *Supplier:
		h.suppliers[id] = v
	case *Room:
		h.rooms[id] = v
	}
	h.all[id] = d
}

func (h *HomeIndex) removeTyped(d Device) {
	id := d.Base().ID
	switch d.(type) {
	case *Light:
		delete(h.lights, id)
	case *Blind:
		delete(h.blinds, id)
	case *Thermostat:
		delete(h.thermostats, id)
	case *Outlet:
		delete(h.outlets, id)
	case *Supplier:
		delete(h.suppliers, id)
	case *Room:
		delete(h.rooms, id)
	}
}

// Update merges partial into the record with the given id. Fields present in
// partial overwrite the stored ones, omitted fields are kept.
//
// It returns the merged record, or false if id is not in the index.
func (h *HomeIndex) Update(id string, partial map[string]json.RawMessage) (Device, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev, ok := h.all[id]
	if !ok {
		return nil, false
	}

	fields := prev.Base().Fields()
	maps.Copy(fields, partial)

	merged, err := decodeDevice(fields)
	if err != nil {
		slog.Warn("failed to decode merged record",
			slog.String("object_id", id),
			slog.Any("error", err),
		)
		return nil, false
	}

	// The stored id wins over anything the update carries.
	merged.Base().ID = id
	h.insert(merged)

	return merged, true
}

// Get returns the record with the given id.
func (h *HomeIndex) Get(id string) (Device, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	d, ok := h.all[id]
	return d, ok
}

// All returns all records keyed by id.
func (h *HomeIndex) All() map[string]Device {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return maps.Clone(h.all)
}

func (h *HomeIndex) Lights() map[string]*Light {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return maps.Clone(h.lights)
}

func (h *HomeIndex) Blinds() map[string]*Blind {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return maps.Clone(h.blinds)
}

func (h *HomeIndex) Thermostats() map[string]*Thermostat {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return maps.Clone(h.thermostats)
}

func (h *HomeIndex) Outlets() map[string]*Outlet {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return maps.Clone(h.outlets)
}

func (h *HomeIndex) Suppliers() map[string]*Supplier {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return maps.Clone(h.suppliers)
}

func (h *HomeIndex) Rooms() map[string]*Room {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return maps.Clone(h.rooms)
}
