package cardpack

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Definition is the deck shape for the card pack, loadable from a YAML
// file so operators can reskin the deck without a rebuild.
type Definition struct {
	PackID    string   `yaml:"pack_id"`
	Suits     []string `yaml:"suits"`
	Ranks     []string `yaml:"ranks"`
	HandSize  int      `yaml:"hand_size"`
	MaxRounds int      `yaml:"max_rounds"`
}

// DefaultDefinition is the compiled-in 52-card deck: four suits,
// thirteen ranks, five-card deal, three rounds.
func DefaultDefinition() Definition {
	return Definition{
		PackID:    "simple-cards",
		Suits:     []string{"hearts", "diamonds", "clubs", "spades"},
		Ranks:     []string{"A", "2", "3", "4", "5", "6", "7", "8", "9", "10", "J", "Q", "K"},
		HandSize:  5,
		MaxRounds: 3,
	}
}

// LoadDefinition reads a pack definition file. Fields left out of the
// file keep their defaults.
func LoadDefinition(path string) (Definition, error) {
	def := DefaultDefinition()
	data, err := os.ReadFile(path)
	if err != nil {
		return def, fmt.Errorf("read pack definition %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &def); err != nil {
		return def, fmt.Errorf("parse pack definition %s: %w", path, err)
	}
	if err := def.validate(); err != nil {
		return def, fmt.Errorf("pack definition %s: %w", path, err)
	}
	return def, nil
}

func (d Definition) validate() error {
	if d.PackID == "" {
		return fmt.Errorf("pack_id is required")
	}
	if len(d.Suits) == 0 || len(d.Ranks) == 0 {
		return fmt.Errorf("suits and ranks must be non-empty")
	}
	if d.HandSize < 1 {
		return fmt.Errorf("hand_size must be at least 1")
	}
	if d.MaxRounds < 1 {
		return fmt.Errorf("max_rounds must be at least 1")
	}
	return nil
}

// DeckSize returns the number of cards the definition produces.
func (d Definition) DeckSize() int {
	return len(d.Suits) * len(d.Ranks)
}

// BuildDeck enumerates every card id, suits outermost, unshuffled.
func (d Definition) BuildDeck() []string {
	deck := make([]string, 0, d.DeckSize())
	for _, suit := range d.Suits {
		for _, rank := range d.Ranks {
			deck = append(deck, suit+"-"+rank)
		}
	}
	return deck
}
