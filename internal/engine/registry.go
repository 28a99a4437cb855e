package engine

import (
	"fmt"

	"go.uber.org/fx"
)

// Registry is the fixed set of engines, one per system.
type Registry struct {
	engines map[SystemType]Engine
}

type RegistryParams struct {
	fx.In

	Engines []Engine `group:"engines"`
}

// NewRegistry builds the registry and fails unless every known system has exactly one engine.
func NewRegistry(p RegistryParams) (*Registry, error) {
	engines := make(map[SystemType]Engine, len(p.Engines))
	for _, e := range p.Engines {
		if e == nil {
			continue
		}
		system := e.System()
		if _, err := ParseSystem(string(system)); err != nil {
			return nil, err
		}
		if _, dup := engines[system]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEngine, system)
		}
		engines[system] = e
	}
	for _, system := range allSystems {
		if _, ok := engines[system]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrEngineNotRegistered, system)
		}
	}
	return &Registry{engines: engines}, nil
}

func (r *Registry) Get(system SystemType) (Engine, error) {
	e, ok := r.engines[system]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSystem, system)
	}
	return e, nil
}

// Systems lists registered systems sorted by name.
func (r *Registry) Systems() []SystemType {
	return sortedSystems(r.engines)
}

// Descriptor is the public summary of an engine.
type Descriptor struct {
	System      SystemType `json:"system"`
	Version     string     `json:"version"`
	Description string     `json:"description"`
}

func (r *Registry) Describe() []Descriptor {
	systems := r.Systems()
	out := make([]Descriptor, 0, len(systems))
	for _, system := range systems {
		e := r.engines[system]
		out = append(out, Descriptor{System: system, Version: e.Version(), Description: e.Description()})
	}
	return out
}

// AsEngine tags a constructor so its engine joins the registry group.
func AsEngine(constructor any) any {
	return fx.Annotate(constructor, fx.As(new(Engine)), fx.ResultTags(`group:"engines"`))
}
