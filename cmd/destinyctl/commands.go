package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/smallbiznis/destiny/internal/calendar"
	"github.com/smallbiznis/destiny/internal/engine"
	"github.com/smallbiznis/destiny/internal/engine/builtin"
	"github.com/spf13/cobra"
)

type birthFlags struct {
	calendar  string
	date      string
	clock     string
	leap      bool
	offset    int
	hasOffset bool
	longitude float64
	trueSolar bool
	gender    string
	name      string
	policy    string
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "destinyctl",
		Short:        "Inspect birth resolution and engine output",
		SilenceUsage: true,
	}
	root.AddCommand(newEnginesCmd(), newResolveCmd(), newGenerateCmd())
	return root
}

func newEnginesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "engines",
		Short: "List built-in engines and their versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := builtin.NewRegistry()
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), registry.Describe())
		},
	}
}

func newResolveCmd() *cobra.Command {
	var flags birthFlags
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve birth data into a canonical birth moment",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.hasOffset = cmd.Flags().Changed("utc-offset")
			moment, err := flags.resolve()
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), moment)
		},
	}
	bindBirthFlags(cmd, &flags)
	return cmd
}

func newGenerateCmd() *cobra.Command {
	var (
		flags   birthFlags
		system  string
		options []string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run one engine against birth data",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.hasOffset = cmd.Flags().Changed("utc-offset")
			moment, err := flags.resolve()
			if err != nil {
				return err
			}
			st, err := engine.ParseSystem(system)
			if err != nil {
				return err
			}
			opts, err := parseOptions(options)
			if err != nil {
				return err
			}
			registry, err := builtin.NewRegistry()
			if err != nil {
				return err
			}
			e, err := registry.Get(st)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			res, err := e.Generate(ctx, moment, opts)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), struct {
				System  engine.SystemType `json:"system"`
				Version string            `json:"version"`
				engine.Result
			}{System: st, Version: e.Version(), Result: res})
		},
	}
	bindBirthFlags(cmd, &flags)
	cmd.Flags().StringVar(&system, "system", "", "engine to run (ziwei, bazi, astrology, numerology, name)")
	cmd.Flags().StringArrayVar(&options, "option", nil, "engine option as key=value, repeatable")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "engine timeout")
	_ = cmd.MarkFlagRequired("system")
	return cmd
}

func bindBirthFlags(cmd *cobra.Command, f *birthFlags) {
	cmd.Flags().StringVar(&f.calendar, "calendar", string(calendar.CalendarSolar), "calendar of the stated date (solar or lunar)")
	cmd.Flags().StringVar(&f.date, "date", "", "birth date as YYYY-MM-DD")
	cmd.Flags().StringVar(&f.clock, "time", "12:00", "birth time as HH:MM")
	cmd.Flags().BoolVar(&f.leap, "leap", false, "lunar date is in a leap month")
	cmd.Flags().IntVar(&f.offset, "utc-offset", 0, "civil UTC offset in minutes")
	cmd.Flags().Float64Var(&f.longitude, "longitude", 0, "birth longitude in degrees east")
	cmd.Flags().BoolVar(&f.trueSolar, "true-solar", false, "apply mean solar time correction")
	cmd.Flags().StringVar(&f.gender, "gender", string(calendar.GenderUnspecified), "male, female or unspecified")
	cmd.Flags().StringVar(&f.name, "name", "", "display name")
	cmd.Flags().StringVar(&f.policy, "policy", string(calendar.PolicyLateZiAdvancesDay), "rectification policy for 23:00-24:00 births")
	_ = cmd.MarkFlagRequired("date")
}

func (f birthFlags) resolve() (calendar.CanonicalBirthMoment, error) {
	var year, month, day int
	if _, err := fmt.Sscanf(f.date, "%d-%d-%d", &year, &month, &day); err != nil {
		return calendar.CanonicalBirthMoment{}, fmt.Errorf("invalid --date %q: %w", f.date, err)
	}
	var hour, minute int
	if _, err := fmt.Sscanf(f.clock, "%d:%d", &hour, &minute); err != nil {
		return calendar.CanonicalBirthMoment{}, fmt.Errorf("invalid --time %q: %w", f.clock, err)
	}

	input := calendar.BirthInput{
		Calendar:      calendar.CalendarSystem(strings.ToLower(f.calendar)),
		Year:          year,
		Month:         month,
		Day:           day,
		LeapMonth:     f.leap,
		Hour:          hour,
		Minute:        minute,
		TrueSolarTime: f.trueSolar,
		Gender:        calendar.Gender(strings.ToLower(f.gender)),
		DisplayName:   f.name,
	}
	if f.hasOffset {
		offset := f.offset
		input.UTCOffsetMinutes = &offset
	}
	if f.trueSolar {
		longitude := f.longitude
		input.Location.Longitude = &longitude
	}
	return calendar.Resolve(input, calendar.RectificationPolicy(f.policy))
}

// parseOptions turns key=value pairs into engine options. Values that parse as
// JSON scalars keep their type.
func parseOptions(pairs []string) (engine.Options, error) {
	opts := engine.Options{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: %q", engine.ErrInvalidOptions, pair)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			opts[key] = decoded
			continue
		}
		opts[key] = value
	}
	return opts, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
