package driver

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"hookrelay/pkg/hookrelay"
)

func TestNewRegistryRejectsInvalidDescriptors(t *testing.T) {
	t.Parallel()

	builder := stubBuilder(nil)
	tests := []struct {
		name        string
		descriptors []Descriptor
		wantErrSub  string
	}{
		{name: "empty type", descriptors: []Descriptor{{Builder: builder}}, wantErrSub: "empty descriptor type"},
		{name: "nil builder", descriptors: []Descriptor{{Type: "telegram"}}, wantErrSub: "nil builder"},
		{
			name:        "duplicate",
			descriptors: []Descriptor{{Type: "telegram", Builder: builder}, {Type: "telegram", Builder: builder}},
			wantErrSub:  "duplicate",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewRegistry(testCase.descriptors)
			if err == nil || !strings.Contains(err.Error(), testCase.wantErrSub) {
				t.Fatalf("error = %v, want substring %q", err, testCase.wantErrSub)
			}
		})
	}
}

func TestRegistryTypesAndSupports(t *testing.T) {
	t.Parallel()

	registry, err := NewRegistry([]Descriptor{
		{Type: "telegram", Builder: stubBuilder(nil)},
		{Type: "console", Builder: stubBuilder(nil)},
	})
	if err != nil {
		t.Fatalf("new registry failed: %v", err)
	}

	types := registry.Types()
	if len(types) != 2 || types[0] != "console" || types[1] != "telegram" {
		t.Fatalf("types = %v", types)
	}
	types[0] = "mutated"
	if registry.Types()[0] != "console" {
		t.Fatal("types leaked internal slice")
	}
	if !registry.Supports("telegram") || registry.Supports("discord") {
		t.Fatal("supports mismatch")
	}
	var nilRegistry *Registry
	if nilRegistry.Supports("telegram") || nilRegistry.Types() != nil {
		t.Fatal("nil registry should support nothing")
	}
}

func TestRegistryBuildEnabled(t *testing.T) {
	t.Parallel()

	registry, err := NewRegistry([]Descriptor{
		{Type: "telegram", Builder: stubBuilder(errors.New("broken build"))},
	})
	if err != nil {
		t.Fatalf("new registry failed: %v", err)
	}

	tests := []struct {
		name        string
		definitions []Definition
		wantNames   []string
		wantErrSub  string
	}{
		{
			name: "builds enabled only",
			definitions: []Definition{
				{Name: "tg-main", Type: "telegram", Enabled: true},
				{Name: "tg-off", Type: "telegram"},
			},
			wantNames: []string{"tg-main"},
		},
		{
			name:        "builder failure",
			definitions: []Definition{{Name: "broken", Type: "telegram", Enabled: true}},
			wantErrSub:  "broken build",
		},
		{
			name: "duplicate name",
			definitions: []Definition{
				{Name: "tg", Type: "telegram", Enabled: true},
				{Name: "tg", Type: "telegram", Enabled: true},
			},
			wantErrSub: "duplicate name",
		},
		{
			name:        "unsupported type",
			definitions: []Definition{{Name: "dc", Type: "discord", Enabled: true}},
			wantErrSub:  "unsupported type",
		},
		{
			name:        "empty name",
			definitions: []Definition{{Type: "telegram", Enabled: true}},
			wantErrSub:  "empty name",
		},
		{
			name:        "nil driver",
			definitions: []Definition{{Name: "nil", Type: "telegram", Enabled: true}},
			wantErrSub:  "nil driver",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			drivers, err := registry.BuildEnabled(context.Background(), testCase.definitions, slog.Default())
			if testCase.wantErrSub != "" {
				if err == nil || !strings.Contains(err.Error(), testCase.wantErrSub) {
					t.Fatalf("error = %v, want substring %q", err, testCase.wantErrSub)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(drivers) != len(testCase.wantNames) {
				t.Fatalf("drivers = %d, want %d", len(drivers), len(testCase.wantNames))
			}
			for index, name := range testCase.wantNames {
				if drivers[index].Name() != name {
					t.Fatalf("drivers[%d] = %q, want %q", index, drivers[index].Name(), name)
				}
			}
		})
	}

	var nilRegistry *Registry
	if _, err := nilRegistry.BuildEnabled(context.Background(), nil, nil); err == nil {
		t.Fatal("expected nil registry error")
	}
}

// stubBuilder fails definitions named "broken" with failure and returns nil for "nil".
func stubBuilder(failure error) BuilderFunc {
	return func(_ context.Context, definition Definition, _ *slog.Logger) (hookrelay.Driver, error) {
		switch definition.Name {
		case "broken":
			return nil, failure
		case "nil":
			return nil, nil
		}

		return stubDriver{name: definition.Name}, nil
	}
}

type stubDriver struct {
	name string
}

func (d stubDriver) Name() string {
	return d.name
}

func (d stubDriver) Start(_ context.Context, _ hookrelay.InvocationSink) error {
	return nil
}

func (d stubDriver) Shutdown(_ context.Context) error {
	return nil
}
