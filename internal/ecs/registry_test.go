package ecs

import (
	"strings"
	"testing"
	"time"
)

func TestResourceRegistryMembership(t *testing.T) {
	r := NewResourceRegistry(
		BindResource("score", func() *score { return &score{} }),
	)
	if r.Len() != 1 {
		t.Fatalf("expected 1 binding, got %d", r.Len())
	}
	if !ContainsResource[score](r) {
		t.Fatalf("expected score registered")
	}
	if ContainsResource[title](r) {
		t.Fatalf("title was never registered")
	}

	r2 := r.Push(BindResource("title", func() *title { return &title{} }))
	if r.Len() != 1 {
		t.Fatalf("push must not mutate the receiver, len=%d", r.Len())
	}
	if r2.Len() != 2 || !ContainsResource[title](r2) {
		t.Fatalf("pushed registry missing title")
	}
	// Push prepends.
	if r2.Bindings()[0].Name != "title" {
		t.Fatalf("expected title first, got %q", r2.Bindings()[0].Name)
	}
}

func TestResourceRegistryValidate(t *testing.T) {
	ok := NewResourceRegistry(
		BindResource("score", func() *score { return &score{} }),
		BindResource("title", func() *title { return &title{} }),
	)
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid registry rejected: %v", err)
	}

	dupName := NewResourceRegistry(
		BindResource("score", func() *score { return &score{} }),
		BindResource("score", func() *title { return &title{} }),
	)
	if err := dupName.Validate(); err == nil || !strings.Contains(err.Error(), "duplicate resource name") {
		t.Fatalf("expected duplicate name error, got %v", err)
	}

	dupType := NewResourceRegistry(
		BindResource("a", func() *score { return &score{} }),
		BindResource("b", func() *score { return &score{} }),
	)
	if err := dupType.Validate(); err == nil || !strings.Contains(err.Error(), "duplicate resource type") {
		t.Fatalf("expected duplicate type error, got %v", err)
	}

	unnamed := NewResourceRegistry(BindResource("", func() *score { return &score{} }))
	if err := unnamed.Validate(); err == nil {
		t.Fatalf("expected error for unnamed binding")
	}
}

type dbHandle struct {
	dsn string
}

type dbDeps struct {
	DSN string
}

func TestBindResourceDeps(t *testing.T) {
	b := BindResourceDeps("db", func(d dbDeps) (*dbHandle, error) {
		return &dbHandle{dsn: d.DSN}, nil
	})

	v, err := b.withDeps(dbDeps{DSN: "postgres://local"})
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}
	if h := v.(*dbHandle); h.dsn != "postgres://local" {
		t.Fatalf("wrong handle: %+v", h)
	}

	if _, err := b.withDeps(42); err == nil {
		t.Fatalf("expected type mismatch error for wrong deps value")
	}
}

type countingSystem struct {
	Calls int `yaml:"calls"`
}

func (s *countingSystem) Name() string { return "counting" }

func (s *countingSystem) Run(res *Resources, t, dt time.Duration) error {
	s.Calls++
	return nil
}

func TestSystemRegistryMembershipAndValidate(t *testing.T) {
	newCounting := func(res *Resources) (*countingSystem, error) {
		return &countingSystem{}, nil
	}

	r := NewSystemRegistry(BindSystem("counting", newCounting))
	if r.Len() != 1 || !ContainsSystem[countingSystem](r) {
		t.Fatalf("counting system not registered")
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("valid registry rejected: %v", err)
	}

	dup := r.Push(BindSystem("counting2", newCounting))
	if err := dup.Validate(); err == nil || !strings.Contains(err.Error(), "duplicate system type") {
		t.Fatalf("expected duplicate type error, got %v", err)
	}
}

func TestBindSystemNilCtorPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for nil constructor")
		}
	}()
	BindSystem[countingSystem]("broken", nil)
}
