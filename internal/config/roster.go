package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/easeaico/agora/internal/types"
)

// textProviders are the provider kinds a character may rank.
var textProviders = []string{"anthropic", "openai", "grok", "gemini", "openrouter"}

// Roster is the character roster file.
type Roster struct {
	Characters []RosterCharacter `yaml:"characters"`
	// Topics feed the static topic source.
	Topics []string `yaml:"topics"`
}

// RosterCharacter is one seeded character.
type RosterCharacter struct {
	ID      string             `yaml:"id"`
	Name    string             `yaml:"name"`
	Persona string             `yaml:"persona"`
	Energy  float64            `yaml:"energy"`
	Traits  map[string]float64 `yaml:"traits"`
	Voice   types.VoiceConfig  `yaml:"voice"`
	// Providers is the text provider order, best first.
	Providers []string `yaml:"providers"`
}

// Character converts the entry into a fresh character.
func (r RosterCharacter) Character() types.Character {
	traits := types.DefaultTraits()
	for name, v := range r.Traits {
		traits = traits.With(name, v)
	}
	energy := r.Energy
	if energy == 0 {
		energy = 50
	}
	return types.Character{
		ID:         r.ID,
		Name:       r.Name,
		Persona:    r.Persona,
		Traits:     traits.Clamped(),
		LifeEnergy: types.ClampEnergy(energy),
		Stage:      types.StageNascent,
		Voice:      r.Voice.WithDefaults(),
	}
}

// Seed converts every roster entry into a fresh character.
func (r Roster) Seed() []types.Character {
	out := make([]types.Character, 0, len(r.Characters))
	for _, c := range r.Characters {
		out = append(out, c.Character())
	}
	return out
}

// LoadRoster reads and validates the roster at path.
func LoadRoster(path string) (Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Roster{}, fmt.Errorf("failed to read roster: %w", err)
	}
	return ParseRoster(data)
}

// ParseRoster decodes a roster. Unknown fields are rejected.
func ParseRoster(data []byte) (Roster, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var roster Roster
	if err := dec.Decode(&roster); err != nil && !errors.Is(err, io.EOF) {
		return Roster{}, fmt.Errorf("failed to parse roster: %w", err)
	}
	if err := roster.Validate(); err != nil {
		return Roster{}, err
	}
	return roster, nil
}

// Validate checks ids, bounds, voices and provider names.
func (r Roster) Validate() error {
	var errs []error
	if len(r.Characters) < 2 {
		errs = append(errs, fmt.Errorf("roster needs at least 2 characters, has %d", len(r.Characters)))
	}
	seen := map[string]bool{}
	for i, c := range r.Characters {
		if c.ID == "" {
			errs = append(errs, fmt.Errorf("character %d: id is required", i))
			continue
		}
		if seen[c.ID] {
			errs = append(errs, fmt.Errorf("character %s: duplicate id", c.ID))
		}
		seen[c.ID] = true
		if c.Name == "" {
			errs = append(errs, fmt.Errorf("character %s: name is required", c.ID))
		}
		if c.Energy < 0 || c.Energy > types.EnergyCeiling {
			errs = append(errs, fmt.Errorf("character %s: energy %.1f out of range", c.ID, c.Energy))
		}
		for name, v := range c.Traits {
			if !slices.Contains(types.TraitNames, name) {
				errs = append(errs, fmt.Errorf("character %s: unknown trait %q", c.ID, name))
			} else if v < 0 || v > 1 {
				errs = append(errs, fmt.Errorf("character %s: trait %s %.2f out of range", c.ID, name, v))
			}
		}
		if err := c.Voice.WithDefaults().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("character %s: voice: %w", c.ID, err))
		}
		for _, p := range c.Providers {
			if !slices.Contains(textProviders, p) {
				errs = append(errs, fmt.Errorf("character %s: unknown text provider %q", c.ID, p))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid roster: %w", err)
	}
	return nil
}
