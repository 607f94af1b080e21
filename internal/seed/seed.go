// Package seed loads event capacity definitions from YAML and registers them.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MarkoPoloResearchLab/inventory/pkg/inventory"
)

// File is the document layout of a seed file.
//
//	events:
//	  - id: harbor-nights
//	    tiers:
//	      - tier: ga
//	        public_limit: 500
//	        hidden_limit: 25
type File struct {
	Events []Event `yaml:"events"`
}

// Event lists the tiers of one event.
type Event struct {
	ID    string `yaml:"id"`
	Tiers []Tier `yaml:"tiers"`
}

// Tier is the capacity of one event tier.
type Tier struct {
	Tier        string `yaml:"tier"`
	PublicLimit int64  `yaml:"public_limit"`
	HiddenLimit int64  `yaml:"hidden_limit"`
}

// Definition is a validated record to create.
type Definition struct {
	Key         inventory.RecordKey
	PublicLimit int64
	HiddenLimit int64
}

// Result counts what Apply did.
type Result struct {
	Created int
	Skipped int
}

// Loader is the subset of the inventory service needed to seed records.
type Loader interface {
	CreateRecord(ctx context.Context, key inventory.RecordKey, publicLimit int64, baseHiddenLimit int64) (inventory.Record, error)
}

// LoadFile reads and validates a seed file from disk.
func LoadFile(path string) ([]Definition, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer file.Close()
	return Parse(file)
}

// Parse decodes a seed document and validates every tier.
func Parse(reader io.Reader) ([]Definition, error) {
	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)
	var document File
	if err := decoder.Decode(&document); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode seed file: %w", err)
	}

	seen := make(map[inventory.RecordKey]struct{})
	definitions := make([]Definition, 0, len(document.Events))
	for eventIndex, event := range document.Events {
		if len(event.Tiers) == 0 {
			return nil, fmt.Errorf("event %d (%q): no tiers", eventIndex, event.ID)
		}
		for _, tier := range event.Tiers {
			key, err := inventory.NewRecordKey(event.ID, tier.Tier)
			if err != nil {
				return nil, fmt.Errorf("event %d (%q): %w", eventIndex, event.ID, err)
			}
			if _, duplicate := seen[key]; duplicate {
				return nil, fmt.Errorf("%s: %w", key, inventory.ErrRecordExists)
			}
			if tier.PublicLimit < 0 || tier.HiddenLimit < 0 {
				return nil, fmt.Errorf("%s: %w: limits must not be negative", key, inventory.ErrInvalidAmount)
			}
			seen[key] = struct{}{}
			definitions = append(definitions, Definition{Key: key, PublicLimit: tier.PublicLimit, HiddenLimit: tier.HiddenLimit})
		}
	}
	return definitions, nil
}

// Apply creates every definition. Records that already exist are left untouched,
// so a seed file can be applied on every start.
func Apply(ctx context.Context, loader Loader, definitions []Definition) (Result, error) {
	var result Result
	for _, definition := range definitions {
		_, err := loader.CreateRecord(ctx, definition.Key, definition.PublicLimit, definition.HiddenLimit)
		switch {
		case err == nil:
			result.Created++
		case errors.Is(err, inventory.ErrRecordExists):
			result.Skipped++
		default:
			return result, fmt.Errorf("seed %s: %w", definition.Key, err)
		}
	}
	return result, nil
}
