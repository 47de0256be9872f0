package ecs

import (
	"context"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func churnSpec() WorldSpec {
	return WorldSpec{
		Resources: NewResourceRegistry(
			BindResource("score", func() *score { return &score{} }),
			BindResource("healths", func() *DenseStorage[health] { return &DenseStorage[health]{} }),
			BindResource("frozen", func() *TagStorage[frozen] { return &TagStorage[frozen]{} }),
		),
		Update: NewSystemRegistry(
			BindSystem("counting", func(res *Resources) (*countingSystem, error) {
				return &countingSystem{}, nil
			}),
			BindSystem("spawn_once", func(res *Resources) (*spawnOnce, error) {
				return &spawnOnce{}, nil
			}),
		),
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	w := testWorld(t, churnSpec())
	ctx := context.Background()

	// Some entity churn so the allocator carries real state.
	entities := GetMut[Entities](w.Resources())
	a := entities.Create()
	b := entities.Create()
	c := entities.Create()
	entities.Destroy(b)

	Mutate(w.Resources(), func(s *DenseStorage[health]) {
		s.Insert(a.Index(), health{HP: 10})
		s.Insert(c.Index(), health{HP: 30})
	})
	Mutate(w.Resources(), func(s *TagStorage[frozen]) {
		s.Insert(c.Index(), frozen{})
	})
	Mutate(w.Resources(), func(s *score) { s.Points = 42 })

	if err := w.Update(ctx, 0, time.Millisecond); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	data, err := w.Snapshot()
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}

	w2, err := NewWorldFromSnapshot(churnSpec(), data, nil)
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	View(w2.Resources(), func(s *score) {
		if s.Points != 42 {
			t.Fatalf("score not restored, got %d", s.Points)
		}
	})
	View(w2.Resources(), func(s *DenseStorage[health]) {
		if s.Len() != 2 {
			t.Fatalf("expected 2 health entries, got %d", s.Len())
		}
		if hp := s.Get(c.Index()); hp == nil || hp.HP != 30 {
			t.Fatalf("health at %d wrong: %v", c.Index(), hp)
		}
	})
	View(w2.Resources(), func(s *TagStorage[frozen]) {
		if !s.Contains(c.Index()) || s.Contains(a.Index()) {
			t.Fatalf("tag storage not restored")
		}
	})

	restored := GetMut[Entities](w2.Resources())
	if restored.Len() != 2 {
		t.Fatalf("expected 2 live entities, got %d", restored.Len())
	}
	// The freed slot must come back at the next generation, not repeat b.
	reused := restored.Create()
	if reused.Index() != b.Index() || reused.Generation() <= b.Generation() {
		t.Fatalf("restored allocator reissued %v after %v", reused, b)
	}

	// System state survives and the counter keeps counting from there.
	counting := FindSystem[countingSystem](w2.update)
	if counting == nil || counting.Calls != 1 {
		t.Fatalf("counting system state not restored: %+v", counting)
	}
	if err := w2.Update(ctx, time.Millisecond, time.Millisecond); err != nil {
		t.Fatalf("update on restored world failed: %v", err)
	}
	if counting.Calls != 2 {
		t.Fatalf("restored system did not resume, calls=%d", counting.Calls)
	}
}

func TestSnapshotPreservesSystemOrder(t *testing.T) {
	w := testWorld(t, churnSpec())
	data, err := w.Snapshot()
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}

	w2, err := NewWorldFromSnapshot(churnSpec(), data, nil)
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	var names []string
	w2.update.Each(func(sys System) bool {
		names = append(names, sys.Name())
		return true
	})
	if len(names) != 2 || names[0] != "counting" || names[1] != "spawn_once" {
		t.Fatalf("phase order not preserved: %v", names)
	}
}

func TestSnapshotRestoredWorldMaintains(t *testing.T) {
	w := testWorld(t, churnSpec())
	data, err := w.Snapshot()
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	w2, err := NewWorldFromSnapshot(churnSpec(), data, nil)
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	GetMut[EventQueue[WorldEvent]](w2.Resources()).Send(CreateEntity())
	if ctl, err := w2.Maintain(context.Background()); err != nil || ctl != Continue {
		t.Fatalf("maintain on restored world: ctl=%v err=%v", ctl, err)
	}
	if GetMut[Entities](w2.Resources()).Len() != 1 {
		t.Fatalf("restored world did not apply entity creation")
	}
}

func decodeResourcesFrom(t *testing.T, src string, reg ResourceRegistry) error {
	t.Helper()
	var doc struct {
		Resources yaml.Node `yaml:"resources"`
	}
	if err := yaml.Unmarshal([]byte(src), &doc); err != nil {
		t.Fatalf("bad test document: %v", err)
	}
	_, err := decodeResources(&doc.Resources, reg)
	return err
}

func TestDecodeResourcesRejectsUnknownField(t *testing.T) {
	reg := NewResourceRegistry(
		BindResource("score", func() *score { return &score{} }),
	)
	err := decodeResourcesFrom(t, "resources:\n  score: {points: 1}\n  mystery: {}\n", reg)
	if err == nil || !strings.Contains(err.Error(), `unknown field "mystery"`) {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestDecodeResourcesRejectsDuplicateField(t *testing.T) {
	reg := NewResourceRegistry(
		BindResource("score", func() *score { return &score{} }),
	)
	err := decodeResourcesFrom(t, "resources:\n  score: {points: 1}\n  score: {points: 2}\n", reg)
	if err == nil || !strings.Contains(err.Error(), `duplicate field "score"`) {
		t.Fatalf("expected duplicate field error, got %v", err)
	}
}

func TestDecodeResourcesRejectsMissingField(t *testing.T) {
	reg := NewResourceRegistry(
		BindResource("score", func() *score { return &score{} }),
		BindResource("title", func() *title { return &title{} }),
	)
	err := decodeResourcesFrom(t, "resources:\n  score: {points: 1}\n", reg)
	if err == nil || !strings.Contains(err.Error(), `missing field "title"`) {
		t.Fatalf("expected missing field error, got %v", err)
	}
}

func decodeSystemsFrom(t *testing.T, src string, reg SystemRegistry) (*Systems, error) {
	t.Helper()
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(src), &node); err != nil {
		t.Fatalf("bad test document: %v", err)
	}
	list := &node
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		list = node.Content[0]
	}
	return decodeSystems(list, reg, NewResources())
}

func countingRegistry() SystemRegistry {
	return NewSystemRegistry(
		BindSystem("counting", func(res *Resources) (*countingSystem, error) {
			return &countingSystem{}, nil
		}),
	)
}

func TestDecodeSystemsRejectsUnknownSystem(t *testing.T) {
	_, err := decodeSystemsFrom(t, "- {name: mystery, order: 0, state: {}}\n", countingRegistry())
	if err == nil || !strings.Contains(err.Error(), `unknown system "mystery"`) {
		t.Fatalf("expected unknown system error, got %v", err)
	}
}

func TestDecodeSystemsRejectsCountMismatch(t *testing.T) {
	_, err := decodeSystemsFrom(t, "[]\n", countingRegistry())
	if err == nil || !strings.Contains(err.Error(), "expected 1 systems") {
		t.Fatalf("expected count mismatch error, got %v", err)
	}
}

func TestDecodeSystemsRejectsBadOrder(t *testing.T) {
	_, err := decodeSystemsFrom(t, "- {name: counting, order: 3, state: {calls: 0}}\n", countingRegistry())
	if err == nil || !strings.Contains(err.Error(), "bad order") {
		t.Fatalf("expected bad order error, got %v", err)
	}
}

func TestDecodeSystemsRestoresState(t *testing.T) {
	s, err := decodeSystemsFrom(t, "- {name: counting, order: 0, state: {calls: 9}}\n", countingRegistry())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	counting := FindSystem[countingSystem](s)
	if counting == nil || counting.Calls != 9 {
		t.Fatalf("state overlay failed: %+v", counting)
	}
}

func TestSnapshotRejectsUnregisteredSystem(t *testing.T) {
	w := testWorld(t, WorldSpec{})
	w.update.Insert(&failSystem{})
	if _, err := w.Snapshot(); err == nil {
		t.Fatalf("expected error for a system outside the registry")
	}
}

func TestEntityYAMLPair(t *testing.T) {
	e := NewEntity(4, 3)
	data, err := yaml.Marshal(e)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var back Entity
	if err := yaml.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if back != e {
		t.Fatalf("round trip changed entity: %v != %v", back, e)
	}
}
