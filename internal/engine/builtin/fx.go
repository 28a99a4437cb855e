// Package builtin wires the built-in engines into the registry.
package builtin

import (
	"github.com/smallbiznis/destiny/internal/engine"
	"github.com/smallbiznis/destiny/internal/engine/astrology"
	"github.com/smallbiznis/destiny/internal/engine/bazi"
	"github.com/smallbiznis/destiny/internal/engine/name"
	"github.com/smallbiznis/destiny/internal/engine/numerology"
	"github.com/smallbiznis/destiny/internal/engine/ziwei"
	"go.uber.org/fx"
)

var Module = fx.Module("engine",
	fx.Provide(
		engine.AsEngine(ziwei.New),
		engine.AsEngine(bazi.New),
		engine.AsEngine(astrology.New),
		engine.AsEngine(numerology.New),
		engine.AsEngine(name.New),
	),
	fx.Provide(engine.NewRegistry),
)

// Engines returns one instance of every built-in engine.
func Engines() []engine.Engine {
	return []engine.Engine{ziwei.New(), bazi.New(), astrology.New(), numerology.New(), name.New()}
}

// NewRegistry builds a registry of the built-in engines without fx.
func NewRegistry() (*engine.Registry, error) {
	return engine.NewRegistry(engine.RegistryParams{Engines: Engines()})
}
