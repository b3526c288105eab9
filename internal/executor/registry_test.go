package executor

import (
	"context"
	"errors"
	"testing"
)

type namedStub struct {
	name string
}

func (s *namedStub) Name() string { return s.name }

func (s *namedStub) Execute(ctx context.Context, query string, taskCtx map[string]any) (any, error) {
	return s.name + ":" + query, nil
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&namedStub{name: "search"}, "web search"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(&namedStub{name: "chat"}, "conversation"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if !r.Has("search") || r.Count() != 2 {
		t.Errorf("Has/Count mismatch: has=%v count=%d", r.Has("search"), r.Count())
	}

	exec, err := r.Resolve("chat")
	if err != nil {
		t.Fatalf("Resolve(chat): %v", err)
	}
	if exec.Name() != "chat" {
		t.Errorf("resolved executor = %s, want chat", exec.Name())
	}

	if _, err := r.Resolve("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve(nope) error = %v, want ErrNotFound", err)
	}
	if got := r.Get("nope"); got != nil {
		t.Errorf("Get(nope) = %v, want nil", got)
	}
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&namedStub{name: "search"}, ""); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := r.Register(&namedStub{name: "search"}, ""); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("duplicate Register error = %v, want ErrAlreadyRegistered", err)
	}
	if err := r.Register(nil, ""); err == nil {
		t.Error("Register(nil) error = nil, want error")
	}
	if err := r.Register(&namedStub{name: ""}, ""); err == nil {
		t.Error("Register with empty name error = nil, want error")
	}
}

func TestRegistry_NamesAndCatalogSorted(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&namedStub{name: "weather_api"}, "weather lookups")
	r.MustRegister(&namedStub{name: "chat"}, "conversation")
	r.MustRegister(&namedStub{name: "search"}, "web search")

	names := r.Names()
	want := []string{"chat", "search", "weather_api"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Names() = %v, want %v", names, want)
		}
	}

	catalog := r.Catalog()
	if len(catalog) != 3 || catalog[0].Name != "chat" || catalog[0].Description != "conversation" {
		t.Errorf("Catalog() = %+v, want sorted entries with descriptions", catalog)
	}
}

func TestRegistry_MustRegisterPanicsOnDuplicate(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&namedStub{name: "rag"}, "")
	defer func() {
		if recover() == nil {
			t.Error("MustRegister duplicate did not panic")
		}
	}()
	r.MustRegister(&namedStub{name: "rag"}, "")
}
