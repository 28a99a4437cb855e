// Package engine defines the calculation engine contract and the static registry of
// report systems.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/smallbiznis/destiny/internal/calendar"
)

type SystemType string

const (
	SystemZiwei      SystemType = "ziwei"
	SystemBazi       SystemType = "bazi"
	SystemAstrology  SystemType = "astrology"
	SystemNumerology SystemType = "numerology"
	SystemName       SystemType = "name"
)

var allSystems = []SystemType{SystemZiwei, SystemBazi, SystemAstrology, SystemNumerology, SystemName}

// AllSystems returns every known system in a stable order.
func AllSystems() []SystemType {
	out := make([]SystemType, len(allSystems))
	copy(out, allSystems)
	return out
}

func ParseSystem(value string) (SystemType, error) {
	system := SystemType(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range allSystems {
		if system == known {
			return system, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSystem, value)
}

// Options are caller-supplied engine parameters. Values must be JSON-compatible.
type Options map[string]any

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

// Diagnostic is a non-fatal note from an engine, such as proximity to a boundary.
type Diagnostic struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Result is what an engine produces: a JSON payload plus diagnostics.
type Result struct {
	Payload     json.RawMessage `json:"payload"`
	Diagnostics []Diagnostic    `json:"diagnostics,omitempty"`
}

// Engine computes one report system. Implementations hold no mutable state and must
// return identical payloads for identical inputs.
type Engine interface {
	System() SystemType
	// Version is folded into report fingerprints; bump it when output changes.
	Version() string
	Description() string
	Generate(ctx context.Context, moment calendar.CanonicalBirthMoment, opts Options) (Result, error)
}

var (
	ErrUnknownSystem       = errors.New("unknown_system")
	ErrEngineComputation   = errors.New("engine_computation_failed")
	ErrInvalidOptions      = errors.New("invalid_engine_options")
	ErrEngineNotRegistered = errors.New("engine_not_registered")
	ErrDuplicateEngine     = errors.New("duplicate_engine")
)

// ComputationFailed wraps an engine failure so callers can match ErrEngineComputation.
func ComputationFailed(system SystemType, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrEngineComputation, system, fmt.Sprintf(format, args...))
}

// DecodeOptions decodes caller options into an engine's typed option struct.
func DecodeOptions(opts Options, out any) error {
	if len(opts) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "option",
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(map[string]any(opts)); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidOptions, err.Error())
	}
	return nil
}

// MergeOptions layers caller options over defaults. Caller keys win.
func MergeOptions(defaults, caller Options) Options {
	if len(defaults) == 0 && len(caller) == 0 {
		return Options{}
	}
	merged := make(Options, len(defaults)+len(caller))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range caller {
		merged[k] = v
	}
	return merged
}

// EncodePayload renders an engine payload as compact JSON.
func EncodePayload(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func sortedSystems(in map[SystemType]Engine) []SystemType {
	out := make([]SystemType, 0, len(in))
	for system := range in {
		out = append(out, system)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CivilDate is the calendar date as entered, before any late Zi day advance.
func CivilDate(moment calendar.CanonicalBirthMoment) calendar.SolarDate {
	if moment.DayAdvanced {
		return moment.Solar.AddDays(-1)
	}
	return moment.Solar
}
