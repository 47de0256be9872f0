package ecs

import (
	"fmt"
	"reflect"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Snapshot is the persisted form of a world: one string-keyed map entry
// per registered resource, and per phase one list of systems tagged with
// their registration order. The format is closed-world: decoding demands
// exactly the registered set. Unknown keys, duplicate keys, and missing
// keys are all fatal, so a snapshot can never silently drift from the
// registries that wrote it.

type snapshotDoc struct {
	Resources yaml.Node       `yaml:"resources"`
	Systems   snapshotSystems `yaml:"systems"`
}

type snapshotSystems struct {
	FixedUpdate yaml.Node `yaml:"fixed_update"`
	Update      yaml.Node `yaml:"update"`
	Render      yaml.Node `yaml:"render"`
	Maintenance yaml.Node `yaml:"maintenance"`
}

type systemEntryDoc struct {
	Name  string    `yaml:"name"`
	Order int       `yaml:"order"`
	State yaml.Node `yaml:"state"`
}

// Snapshot serializes the world. Every registered resource must be
// present and every system must be registered; either absence is an
// error, because a snapshot that cannot round-trip is worse than no
// snapshot.
func (w *World) Snapshot() ([]byte, error) {
	resNode, err := encodeResources(w.res, w.spec.Resources)
	if err != nil {
		return nil, err
	}

	doc := snapshotDoc{Resources: *resNode}
	phases := []struct {
		name string
		reg  SystemRegistry
		sys  *Systems
		node *yaml.Node
	}{
		{"fixed_update", w.spec.FixedUpdate, w.fixedUpdate, &doc.Systems.FixedUpdate},
		{"update", w.spec.Update, w.update, &doc.Systems.Update},
		{"render", renderRegistry(w.spec.Render), renderSystems(w.render), &doc.Systems.Render},
		{"maintenance", w.spec.Maintenance, w.maintenance, &doc.Systems.Maintenance},
	}
	for _, p := range phases {
		node, err := encodeSystems(p.sys, p.reg)
		if err != nil {
			return nil, fmt.Errorf("phase %s: %w", p.name, err)
		}
		*p.node = *node
	}

	return yaml.Marshal(&doc)
}

// NewWorldFromSnapshot rebuilds a world from a snapshot produced with the
// same spec. Resources come entirely from the snapshot (registry-driven
// constructors do not run); systems are constructed against the restored
// resources and then overlaid with their persisted state in recorded
// order.
func NewWorldFromSnapshot(spec WorldSpec, data []byte, log *zap.Logger) (*World, error) {
	if log == nil {
		log = zap.NewNop()
	}

	full := NewResourceRegistry(append(builtinResources(), spec.Resources.Bindings()...)...)
	if err := full.Validate(); err != nil {
		return nil, err
	}
	spec.Resources = full

	var doc snapshotDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}

	res, err := decodeResources(&doc.Resources, full)
	if err != nil {
		return nil, err
	}

	w := &World{log: log, res: res, spec: spec}
	w.receiver = GetMut[EventQueue[WorldEvent]](res).Subscribe()

	if w.fixedUpdate, err = decodeSystems(&doc.Systems.FixedUpdate, spec.FixedUpdate, res); err != nil {
		return nil, fmt.Errorf("phase fixed_update: %w", err)
	}
	if w.update, err = decodeSystems(&doc.Systems.Update, spec.Update, res); err != nil {
		return nil, fmt.Errorf("phase update: %w", err)
	}
	if w.maintenance, err = decodeSystems(&doc.Systems.Maintenance, spec.Maintenance, res); err != nil {
		return nil, fmt.Errorf("phase maintenance: %w", err)
	}
	renderCol, err := decodeSystems(&doc.Systems.Render, renderRegistry(spec.Render), res)
	if err != nil {
		return nil, fmt.Errorf("phase render: %w", err)
	}
	if renderCol.Len() > 0 {
		w.render = renderCol.entries[0].sys
	}

	return w, nil
}

func renderRegistry(b SystemBinding) SystemRegistry {
	if b.build == nil {
		return NewSystemRegistry()
	}
	return NewSystemRegistry(b)
}

func renderSystems(render System) *Systems {
	s := NewSystems()
	if render != nil {
		s.Insert(render)
	}
	return s
}

// encodeResources walks the registry in order and emits one map entry per
// binding. A registered resource that is absent from the container is a
// fatal serialization error.
func encodeResources(res *Resources, reg ResourceRegistry) (*yaml.Node, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, b := range reg.Bindings() {
		entry := res.lookup(b.rtype)
		if entry == nil {
			return nil, fmt.Errorf("resource %q absent at serialize time", b.Name)
		}

		var key, value yaml.Node
		if err := key.Encode(b.Name); err != nil {
			return nil, err
		}
		entry.mu.RLock()
		err := value.Encode(entry.value)
		entry.mu.RUnlock()
		if err != nil {
			return nil, fmt.Errorf("encode resource %q: %w", b.Name, err)
		}
		node.Content = append(node.Content, &key, &value)
	}
	return node, nil
}

// decodeResources is the inverse: each map entry is matched against the
// registry by name (unknown or repeated names are fatal), and after the
// map is consumed every registry member must have been seen.
func decodeResources(node *yaml.Node, reg ResourceRegistry) (*Resources, error) {
	if node.Kind == 0 {
		return nil, fmt.Errorf("snapshot has no resources map")
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("resources: expected a map, got %v", node.Kind)
	}

	res := NewResources()
	seen := make(map[string]struct{}, reg.Len())
	for i := 0; i+1 < len(node.Content); i += 2 {
		var name string
		if err := node.Content[i].Decode(&name); err != nil {
			return nil, fmt.Errorf("resources: bad key: %w", err)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("resources: duplicate field %q", name)
		}

		binding, ok := findResourceBinding(reg, name)
		if !ok {
			return nil, fmt.Errorf("resources: unknown field %q", name)
		}
		v, err := binding.decode(node.Content[i+1])
		if err != nil {
			return nil, err
		}
		res.insertDynamic(binding.rtype, v)
		seen[name] = struct{}{}
	}

	for _, b := range reg.Bindings() {
		if _, ok := seen[b.Name]; !ok {
			return nil, fmt.Errorf("resources: missing field %q", b.Name)
		}
	}
	return res, nil
}

func findResourceBinding(reg ResourceRegistry, name string) (ResourceBinding, bool) {
	for _, b := range reg.Bindings() {
		if b.Name == name {
			return b, true
		}
	}
	return ResourceBinding{}, false
}

// encodeSystems emits the phase's systems as {name, order, state}
// entries, order recording registration position. A system whose type has
// no binding is fatal.
func encodeSystems(systems *Systems, reg SystemRegistry) (*yaml.Node, error) {
	node := &yaml.Node{Kind: yaml.SequenceNode}
	order := 0
	var encodeErr error
	systems.Each(func(sys System) bool {
		binding, ok := findSystemBinding(reg, reflect.TypeOf(sys))
		if !ok {
			encodeErr = fmt.Errorf("system %s is not registered", sys.Name())
			return false
		}

		var state yaml.Node
		if err := state.Encode(sys); err != nil {
			encodeErr = fmt.Errorf("encode system %q: %w", binding.Name, err)
			return false
		}
		var entry yaml.Node
		if err := entry.Encode(systemEntryDoc{Name: binding.Name, Order: order, State: state}); err != nil {
			encodeErr = err
			return false
		}
		node.Content = append(node.Content, &entry)
		order++
		return true
	})
	return node, encodeErr
}

// decodeSystems rebuilds one phase. The same closed-world rules apply as
// for resources, plus the order values must form a permutation of the
// registration positions so the collection comes back in its original
// order.
func decodeSystems(node *yaml.Node, reg SystemRegistry, res *Resources) (*Systems, error) {
	entries := []systemEntryDoc{}
	if node.Kind != 0 {
		if err := node.Decode(&entries); err != nil {
			return nil, fmt.Errorf("bad system list: %w", err)
		}
	}

	if len(entries) != reg.Len() {
		return nil, fmt.Errorf("expected %d systems, snapshot has %d", reg.Len(), len(entries))
	}

	ordered := make([]System, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.Name]; dup {
			return nil, fmt.Errorf("duplicate system %q", e.Name)
		}
		seen[e.Name] = struct{}{}

		binding, ok := findSystemBindingByName(reg, e.Name)
		if !ok {
			return nil, fmt.Errorf("unknown system %q", e.Name)
		}
		if e.Order < 0 || e.Order >= len(ordered) || ordered[e.Order] != nil {
			return nil, fmt.Errorf("system %q has bad order %d", e.Name, e.Order)
		}
		sys, err := binding.decode(res, &e.State)
		if err != nil {
			return nil, err
		}
		ordered[e.Order] = sys
	}

	for _, b := range reg.Bindings() {
		if _, ok := seen[b.Name]; !ok {
			return nil, fmt.Errorf("missing system %q", b.Name)
		}
	}

	out := NewSystems()
	for _, sys := range ordered {
		out.Insert(sys)
	}
	return out, nil
}

func findSystemBinding(reg SystemRegistry, t reflect.Type) (SystemBinding, bool) {
	for _, b := range reg.Bindings() {
		// Systems are inserted as pointers; bindings record the element
		// type.
		if t.Kind() == reflect.Pointer && t.Elem() == b.rtype {
			return b, true
		}
		if t == b.rtype {
			return b, true
		}
	}
	return SystemBinding{}, false
}

func findSystemBindingByName(reg SystemRegistry, name string) (SystemBinding, bool) {
	for _, b := range reg.Bindings() {
		if b.Name == name {
			return b, true
		}
	}
	return SystemBinding{}, false
}

// ── YAML representations of the core resources ─────────────────────

// MarshalYAML renders an entity as the [index, generation] pair.
func (e Entity) MarshalYAML() (any, error) {
	return [2]uint32{uint32(e.idx), uint32(e.gen)}, nil
}

// UnmarshalYAML restores an entity from the [index, generation] pair.
func (e *Entity) UnmarshalYAML(node *yaml.Node) error {
	var pair [2]uint32
	if err := node.Decode(&pair); err != nil {
		return fmt.Errorf("entity: %w", err)
	}
	e.idx = Index(pair[0])
	e.gen = Generation(pair[1])
	return nil
}

type entitiesDoc struct {
	MaxIndex    Index        `yaml:"max_index"`
	FreeIndices []Index      `yaml:"free_indices"`
	Generations []Generation `yaml:"generations"`
}

// MarshalYAML persists the allocator's full identity state so restored
// worlds never reissue a live handle.
func (e *Entities) MarshalYAML() (any, error) {
	return entitiesDoc{
		MaxIndex:    e.maxIndex,
		FreeIndices: e.freeIndices,
		Generations: e.generations,
	}, nil
}

// UnmarshalYAML restores the allocator.
func (e *Entities) UnmarshalYAML(node *yaml.Node) error {
	var doc entitiesDoc
	if err := node.Decode(&doc); err != nil {
		return fmt.Errorf("entities: %w", err)
	}
	e.maxIndex = doc.MaxIndex
	e.freeIndices = doc.FreeIndices
	e.generations = doc.Generations
	return nil
}

type storageEntryDoc[T any] struct {
	Index Index `yaml:"index"`
	Value T     `yaml:"value"`
}

// MarshalYAML persists the occupied entries in ascending index order.
func (s *DenseStorage[T]) MarshalYAML() (any, error) {
	entries := make([]storageEntryDoc[T], 0, s.Len())
	s.Each(func(i Index, v *T) bool {
		entries = append(entries, storageEntryDoc[T]{Index: i, Value: *v})
		return true
	})
	return entries, nil
}

// UnmarshalYAML rebuilds the storage from its entry list.
func (s *DenseStorage[T]) UnmarshalYAML(node *yaml.Node) error {
	var entries []storageEntryDoc[T]
	if err := node.Decode(&entries); err != nil {
		return fmt.Errorf("dense storage: %w", err)
	}
	s.Clear()
	for _, e := range entries {
		s.Insert(e.Index, e.Value)
	}
	return nil
}

type tagStorageDoc[T any] struct {
	Shared  T       `yaml:"shared"`
	Indices []Index `yaml:"indices"`
}

// MarshalYAML persists the shared value and the marked indices.
func (s *TagStorage[T]) MarshalYAML() (any, error) {
	return tagStorageDoc[T]{Shared: s.shared, Indices: s.present.Indices()}, nil
}

// UnmarshalYAML rebuilds the tag storage.
func (s *TagStorage[T]) UnmarshalYAML(node *yaml.Node) error {
	var doc tagStorageDoc[T]
	if err := node.Decode(&doc); err != nil {
		return fmt.Errorf("tag storage: %w", err)
	}
	s.present.Clear()
	s.shared = doc.Shared
	for _, i := range doc.Indices {
		s.present.Add(i)
	}
	return nil
}

type eventQueueDoc[E any] struct {
	Events []E `yaml:"events"`
}

// MarshalYAML persists the buffered events. Receiver cursors are
// deliberately not persisted: subscriptions are re-established by system
// constructors on restore, and a subscriber never sees events sent before
// it subscribed, so the buffer drains naturally on the first receive.
func (q *EventQueue[E]) MarshalYAML() (any, error) {
	return eventQueueDoc[E]{Events: q.events}, nil
}

// UnmarshalYAML restores the buffer with an empty receiver table.
func (q *EventQueue[E]) UnmarshalYAML(node *yaml.Node) error {
	var doc eventQueueDoc[E]
	if err := node.Decode(&doc); err != nil {
		return fmt.Errorf("event queue: %w", err)
	}
	q.events = doc.Events
	q.receivers = make(map[int]*receiverState)
	q.maxID = 0
	q.freeIDs = nil
	return nil
}
