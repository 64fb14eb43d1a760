// Package mirror holds the locally cached copy of dataplane-owned interfaces and
// their addresses. The dataplane stays authoritative; the store is rebuilt from it
// on every connect.
package mirror

import (
	"math"
	"sort"
	"sync"

	"inet.af/netaddr"
)

const DefaultIndexOffset = 1000

// Listener receives every change applied to the store, in the order it was
// applied. Calls are made by the writer after the change is visible to readers.
type Listener interface {
	InterfaceUpdated(iface *Interface)
	InterfaceRemoved(iface *Interface)
	AddressAdded(iface *Interface, prefix netaddr.IPPrefix)
	AddressRemoved(iface *Interface, prefix netaddr.IPPrefix)
}

type changeKind uint8

const (
	changeUpdated changeKind = iota
	changeRemoved
	changeAddrAdded
	changeAddrRemoved
)

type change struct {
	kind   changeKind
	iface  *Interface
	prefix netaddr.IPPrefix
}

type Store struct {
	// wmu serializes writers across mutation and listener dispatch.
	wmu sync.Mutex

	mu     sync.RWMutex
	byID   map[uint32]*Interface
	byName map[string]*Interface
	offset int

	listeners []Listener
}

func New(offset int) *Store {
	if offset <= 0 {
		offset = DefaultIndexOffset
	}
	return &Store{
		byID:   make(map[uint32]*Interface),
		byName: make(map[string]*Interface),
		offset: offset,
	}
}

func (s *Store) Subscribe(l Listener) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Store) Offset() int {
	return s.offset
}

// IfIndex derives the control-plane interface index for a dataplane id.
func (s *Store) IfIndex(id uint32) int {
	return int(id) + s.offset
}

// DataplaneID inverts IfIndex. Indexes below the offset belong to natively
// managed interfaces and have no dataplane id, as do indexes too large to map
// back onto one.
func (s *Store) DataplaneID(ifIndex int) (uint32, bool) {
	if ifIndex < s.offset || int64(ifIndex-s.offset) > math.MaxUint32 {
		return 0, false
	}
	return uint32(ifIndex - s.offset), true
}

func (s *Store) Get(id uint32) (*Interface, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if iface, ok := s.byID[id]; ok {
		return iface.Clone(), true
	}
	return nil, false
}

func (s *Store) GetByName(name string) (*Interface, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if iface, ok := s.byName[name]; ok {
		return iface.Clone(), true
	}
	return nil, false
}

func (s *Store) GetByIfIndex(ifIndex int) (*Interface, bool) {
	id, ok := s.DataplaneID(ifIndex)
	if !ok {
		return nil, false
	}
	return s.Get(id)
}

func (s *Store) List() []*Interface {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Interface, 0, len(s.byID))
	for _, iface := range s.byID {
		result = append(result, iface.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Upsert creates or replaces one interface, including its address set.
func (s *Store) Upsert(iface *Interface) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.mu.Lock()
	changes := s.upsertLocked(iface.Clone())
	s.mu.Unlock()

	s.notify(changes)
}

// Replace installs ifaces as the complete inventory. Interfaces not listed are
// removed together with their addresses.
func (s *Store) Replace(ifaces []*Interface) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	keep := make(map[uint32]struct{}, len(ifaces))
	for _, iface := range ifaces {
		keep[iface.ID] = struct{}{}
	}

	s.mu.Lock()
	var changes []change
	for id := range s.byID {
		if _, ok := keep[id]; !ok {
			changes = append(changes, s.removeLocked(id)...)
		}
	}
	for _, iface := range ifaces {
		changes = append(changes, s.upsertLocked(iface.Clone())...)
	}
	s.mu.Unlock()

	s.notify(changes)
}

func (s *Store) Remove(id uint32) bool {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.mu.Lock()
	changes := s.removeLocked(id)
	s.mu.Unlock()

	s.notify(changes)
	return len(changes) > 0
}

func (s *Store) RemoveByName(name string) bool {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.mu.Lock()
	var changes []change
	if iface, ok := s.byName[name]; ok {
		changes = s.removeLocked(iface.ID)
	}
	s.mu.Unlock()

	s.notify(changes)
	return len(changes) > 0
}

// AddAddress binds prefix to the interface. It reports false when the interface
// is unknown; binding an already bound prefix is a no-op.
func (s *Store) AddAddress(id uint32, prefix netaddr.IPPrefix) bool {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.mu.Lock()
	iface, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	var changes []change
	if !iface.HasAddress(prefix) {
		iface.Addresses = append(iface.Addresses, prefix)
		changes = append(changes, change{kind: changeAddrAdded, iface: iface.Clone(), prefix: prefix})
	}
	s.mu.Unlock()

	s.notify(changes)
	return true
}

// RemoveAddress unbinds prefix from the interface. It reports false when the
// interface is unknown; removing an unbound prefix is a no-op.
func (s *Store) RemoveAddress(id uint32, prefix netaddr.IPPrefix) bool {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.mu.Lock()
	iface, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	var changes []change
	for i, existing := range iface.Addresses {
		if existing == prefix {
			iface.Addresses = append(iface.Addresses[:i:i], iface.Addresses[i+1:]...)
			changes = append(changes, change{kind: changeAddrRemoved, iface: iface.Clone(), prefix: prefix})
			break
		}
	}
	s.mu.Unlock()

	s.notify(changes)
	return true
}

func (s *Store) upsertLocked(iface *Interface) []change {
	iface.Addresses = dedupe(iface.Addresses)

	old, exists := s.byID[iface.ID]
	if exists && old.Name != iface.Name {
		delete(s.byName, old.Name)
	}
	s.byID[iface.ID] = iface
	if iface.Name != "" {
		s.byName[iface.Name] = iface
	}

	var changes []change
	if !exists || !old.sameAttrs(iface) {
		changes = append(changes, change{kind: changeUpdated, iface: iface.Clone()})
	}
	if exists {
		for _, prefix := range old.Addresses {
			if !iface.HasAddress(prefix) {
				changes = append(changes, change{kind: changeAddrRemoved, iface: iface.Clone(), prefix: prefix})
			}
		}
	}
	for _, prefix := range iface.Addresses {
		if !exists || !old.HasAddress(prefix) {
			changes = append(changes, change{kind: changeAddrAdded, iface: iface.Clone(), prefix: prefix})
		}
	}
	return changes
}

func (s *Store) removeLocked(id uint32) []change {
	iface, ok := s.byID[id]
	if !ok {
		return nil
	}
	delete(s.byID, id)
	if cur, ok := s.byName[iface.Name]; ok && cur.ID == id {
		delete(s.byName, iface.Name)
	}

	changes := make([]change, 0, len(iface.Addresses)+1)
	for _, prefix := range iface.Addresses {
		changes = append(changes, change{kind: changeAddrRemoved, iface: iface.Clone(), prefix: prefix})
	}
	return append(changes, change{kind: changeRemoved, iface: iface.Clone()})
}

func (s *Store) notify(changes []change) {
	if len(changes) == 0 || len(s.listeners) == 0 {
		return
	}
	for _, c := range changes {
		for _, l := range s.listeners {
			switch c.kind {
			case changeUpdated:
				l.InterfaceUpdated(c.iface)
			case changeRemoved:
				l.InterfaceRemoved(c.iface)
			case changeAddrAdded:
				l.AddressAdded(c.iface, c.prefix)
			case changeAddrRemoved:
				l.AddressRemoved(c.iface, c.prefix)
			}
		}
	}
}

func dedupe(prefixes []netaddr.IPPrefix) []netaddr.IPPrefix {
	if len(prefixes) < 2 {
		return prefixes
	}
	seen := make(map[netaddr.IPPrefix]struct{}, len(prefixes))
	out := prefixes[:0]
	for _, p := range prefixes {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
