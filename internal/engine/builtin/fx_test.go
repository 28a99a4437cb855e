package builtin

import (
	"context"
	"testing"

	"github.com/smallbiznis/destiny/internal/calendar"
	"github.com/smallbiznis/destiny/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

func TestModule_RegistersEverySystem(t *testing.T) {
	var registry *engine.Registry
	app := fxtest.New(t, Module, fx.Populate(&registry))
	app.RequireStart()
	defer app.RequireStop()

	assert.ElementsMatch(t, engine.AllSystems(), registry.Systems())
	for _, d := range registry.Describe() {
		assert.NotEmpty(t, d.Version)
		assert.NotEmpty(t, d.Description)
	}
}

func TestEngines_Deterministic(t *testing.T) {
	registry, err := NewRegistry()
	require.NoError(t, err)

	moment, err := calendar.Resolve(calendar.BirthInput{
		Calendar:    calendar.CalendarLunar,
		Year:        2023,
		Month:       2,
		Day:         9,
		LeapMonth:   true,
		Hour:        23,
		Minute:      15,
		Gender:      calendar.GenderMale,
		DisplayName: "Chen Wei",
	}, calendar.PolicyStrictSameDay)
	require.NoError(t, err)

	for _, system := range registry.Systems() {
		e, err := registry.Get(system)
		require.NoError(t, err)

		first, err := e.Generate(context.Background(), moment, nil)
		require.NoError(t, err, system)
		second, err := e.Generate(context.Background(), moment, nil)
		require.NoError(t, err, system)
		assert.JSONEq(t, string(first.Payload), string(second.Payload), system)
		assert.Equal(t, string(first.Payload), string(second.Payload), system)
	}
}

func TestEngines_HonourCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, e := range Engines() {
		_, err := e.Generate(ctx, calendar.CanonicalBirthMoment{DisplayName: "X"}, nil)
		assert.ErrorIs(t, err, context.Canceled, e.System())
	}
}
