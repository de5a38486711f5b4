// Package catalog holds the immutable card table: names, accepted guess
// aliases, rarity tiers and spawn weights. Loaded once at startup from a
// YAML file and read-only afterwards.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownTier = errors.New("unknown rarity tier")
	ErrEmpty       = errors.New("catalog has no cards")
)

// Tier is a rarity tier, ordered for display from TierCommon up.
type Tier int

const (
	TierCommon Tier = iota + 1
	TierUncommon
	TierRare
	TierEpic
	TierLegendary
)

var tierNames = map[Tier]string{
	TierCommon:    "common",
	TierUncommon:  "uncommon",
	TierRare:      "rare",
	TierEpic:      "epic",
	TierLegendary: "legendary",
}

// stealValues maps stealable tiers to the integer value used by the steal
// odds formula. Common sits below the stealable floor and has no value.
var stealValues = map[Tier]int{
	TierUncommon:  10,
	TierRare:      30,
	TierEpic:      55,
	TierLegendary: 80,
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// StealValue returns the tier's value in the steal formula; ok is false for
// tiers below the stealable floor.
func (t Tier) StealValue() (int, bool) {
	v, ok := stealValues[t]
	return v, ok
}

// Stealable reports whether the tier is at or above the stealable floor.
func (t Tier) Stealable() bool {
	_, ok := stealValues[t]
	return ok
}

func ParseTier(s string) (Tier, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range tierNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTier, s)
}

// Card is one catalog entry. Aliases always include the display name.
type Card struct {
	Name    string
	Aliases []string
	Tier    Tier
	Weight  int
	Asset   string
}

// Matches reports whether a guess names this card: trimmed, lowercased,
// exact match against any alias.
func (c Card) Matches(guess string) bool {
	guess = strings.ToLower(strings.TrimSpace(guess))
	if guess == "" {
		return false
	}
	for _, a := range c.Aliases {
		if guess == strings.ToLower(a) {
			return true
		}
	}
	return false
}

// Catalog is the loaded card table.
type Catalog struct {
	cards  []Card
	byName map[string]Card
}

// New builds a catalog from cards, validating names, tiers and weights.
func New(cards []Card) (*Catalog, error) {
	if len(cards) == 0 {
		return nil, ErrEmpty
	}
	byName := make(map[string]Card, len(cards))
	for i, c := range cards {
		if strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("card %d: empty name", i)
		}
		if _, dup := byName[c.Name]; dup {
			return nil, fmt.Errorf("duplicate card name %q", c.Name)
		}
		if c.Weight <= 0 {
			return nil, fmt.Errorf("card %q: weight must be positive", c.Name)
		}
		if _, ok := tierNames[c.Tier]; !ok {
			return nil, fmt.Errorf("card %q: %w", c.Name, ErrUnknownTier)
		}
		if !hasAlias(c.Aliases, c.Name) {
			c.Aliases = append([]string{c.Name}, c.Aliases...)
		}
		cards[i] = c
		byName[c.Name] = c
	}
	return &Catalog{cards: cards, byName: byName}, nil
}

func hasAlias(aliases []string, name string) bool {
	for _, a := range aliases {
		if strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}

type catalogFile struct {
	Cards []struct {
		Name    string   `yaml:"name"`
		Aliases []string `yaml:"aliases"`
		Tier    string   `yaml:"tier"`
		Weight  int      `yaml:"weight"`
		Asset   string   `yaml:"asset"`
	} `yaml:"cards"`
}

// Load reads a catalog YAML file.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	cards := make([]Card, 0, len(f.Cards))
	for _, c := range f.Cards {
		tier, err := ParseTier(c.Tier)
		if err != nil {
			return nil, fmt.Errorf("card %q: %w", c.Name, err)
		}
		cards = append(cards, Card{
			Name:    c.Name,
			Aliases: c.Aliases,
			Tier:    tier,
			Weight:  c.Weight,
			Asset:   c.Asset,
		})
	}
	return New(cards)
}

// Cards returns the full card list in catalog order.
func (c *Catalog) Cards() []Card { return c.cards }

// ByName looks a card up by its exact display name.
func (c *Catalog) ByName(name string) (Card, bool) {
	card, ok := c.byName[name]
	return card, ok
}

// Find resolves user input to a card via alias matching.
func (c *Catalog) Find(input string) (Card, bool) {
	for _, card := range c.cards {
		if card.Matches(input) {
			return card, true
		}
	}
	return Card{}, false
}

func (c *Catalog) Len() int { return len(c.cards) }
