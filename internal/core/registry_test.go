package core

import (
	"context"
	"errors"
	"testing"
)

type stubAdapter struct {
	key      string
	priority int
	detect   func([]string) bool
}

func (a stubAdapter) Key() string   { return a.key }
func (a stubAdapter) Priority() int { return a.priority }
func (a stubAdapter) Detect(h []string) bool {
	return a.detect != nil && a.detect(h)
}
func (a stubAdapter) HeaderMap([]string) map[string]string { return nil }
func (a stubAdapter) Validate(Record) ValidationResult     { return Reject("stub", nil) }
func (a stubAdapter) Upsert(context.Context, Store, Candidate, UpsertParams) (UpsertAction, error) {
	return ActionDuplicate, nil
}

// isolateRegistry empties the registry for one test and restores whatever
// was registered before.
func isolateRegistry(t *testing.T) {
	t.Helper()
	saved := All()
	Clear()
	t.Cleanup(func() {
		Clear()
		for _, a := range saved {
			Register(a)
		}
	})
}

// ----------------------------------------------------------------------------
// Registry Tests
// ----------------------------------------------------------------------------

func TestRegistryOrdering(t *testing.T) {
	isolateRegistry(t)

	Register(stubAdapter{key: "low", priority: 1})
	Register(stubAdapter{key: "high_b", priority: 5})
	Register(stubAdapter{key: "high_a", priority: 5})

	all := All()
	want := []string{"high_a", "high_b", "low"}
	if len(all) != len(want) {
		t.Fatalf("All() len = %d, want %d", len(all), len(want))
	}
	for i, k := range want {
		if all[i].Key() != k {
			t.Errorf("All()[%d] = %q, want %q", i, all[i].Key(), k)
		}
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	isolateRegistry(t)
	Register(stubAdapter{key: "dup"})

	defer func() {
		if recover() == nil {
			t.Error("Register with a duplicate key did not panic")
		}
	}()
	Register(stubAdapter{key: "dup"})
}

func TestDetectAdapter(t *testing.T) {
	isolateRegistry(t)

	hasYear := func(h []string) bool {
		for _, x := range h {
			if x == "year" {
				return true
			}
		}
		return false
	}
	Register(stubAdapter{key: DefaultAdapterKey, priority: 10})
	Register(stubAdapter{key: "yearly", priority: 20, detect: hasYear})

	a, err := DetectAdapter([]string{"facility", "year"})
	if err != nil || a.Key() != "yearly" {
		t.Errorf("DetectAdapter(year) = %v, %v, want yearly", a, err)
	}

	a, err = DetectAdapter([]string{"something", "else"})
	if err != nil || a.Key() != DefaultAdapterKey {
		t.Errorf("DetectAdapter(unknown) = %v, %v, want default", a, err)
	}
}

func TestDetectAdapterEmptyRegistry(t *testing.T) {
	isolateRegistry(t)

	if _, err := DetectAdapter([]string{"x"}); !errors.Is(err, ErrNoAdapter) {
		t.Errorf("DetectAdapter on empty registry = %v, want ErrNoAdapter", err)
	}
	if _, ok := Get("anything"); ok {
		t.Error("Get on empty registry returned ok")
	}
}
