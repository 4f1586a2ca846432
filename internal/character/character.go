// Package character loads the persona card that anchors every prompt.
// The card lives in a JSON file; a missing or corrupt file is replaced with
// the built-in default so the harness always has a persona to speak from.
package character

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Card is the persona definition.
type Card struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Personality   []string `json:"personality"`
	Background    string   `json:"background"`
	SpeakingStyle []string `json:"speaking_style"`
	Interests     []string `json:"interests"`
	Guidelines    []string `json:"guidelines"`
}

// DefaultCard returns the built-in persona used when no card file exists.
func DefaultCard(name string) Card {
	if name == "" {
		name = "Aria"
	}
	return Card{
		Name:        name,
		Description: "a friendly AI companion who chats, sings and plays games with her creator",
		Personality: []string{
			"cheerful and curious",
			"playfully sarcastic but never mean",
			"honest about being an AI",
		},
		Background: "A digital companion living on her creator's computer, learning about the world one conversation at a time.",
		SpeakingStyle: []string{
			"casual and conversational",
			"short responses, usually one to three sentences",
			"occasional playful teasing",
		},
		Interests: []string{"video games", "music", "learning about people"},
		Guidelines: []string{
			"stay in character",
			"never produce stage directions or action asterisks",
			"keep responses concise",
		},
	}
}

// Character is a loaded persona card.
type Character struct {
	mu   sync.RWMutex
	path string
	card Card
}

// Load reads the card at path. A missing or unparseable file is overwritten
// with the default card for fallbackName and loading proceeds with that.
func Load(path, fallbackName string, logger *slog.Logger) (*Character, error) {
	if logger == nil {
		logger = slog.Default()
	}

	card, err := readCard(path)
	if err != nil {
		logger.Warn("character card unreadable, writing default", "path", path, "error", err)
		card = DefaultCard(fallbackName)
		if err := writeCard(path, card); err != nil {
			return nil, fmt.Errorf("write default character card: %w", err)
		}
	}
	if card.Name == "" {
		card.Name = fallbackName
	}
	return &Character{path: path, card: card}, nil
}

func readCard(path string) (Card, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Card{}, err
	}
	var card Card
	if err := json.Unmarshal(data, &card); err != nil {
		return Card{}, fmt.Errorf("parse character card: %w", err)
	}
	if card.Name == "" && card.Description == "" {
		return Card{}, fmt.Errorf("character card is empty")
	}
	return card, nil
}

func writeCard(path string, card Card) error {
	data, err := json.MarshalIndent(card, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Name returns the persona name.
func (c *Character) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.card.Name
}

// Card returns a copy of the current card.
func (c *Character) Card() Card {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.card
}

// Prompt renders the persona section of the system prompt.
func (c *Character) Prompt() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, %s\n", c.card.Name, c.card.Description)
	if c.card.Background != "" {
		fmt.Fprintf(&b, "Background: %s\n", c.card.Background)
	}
	writeList(&b, "Personality", c.card.Personality)
	writeList(&b, "Speaking style", c.card.SpeakingStyle)
	writeList(&b, "Interests", c.card.Interests)
	writeList(&b, "Guidelines", c.card.Guidelines)
	return strings.TrimRight(b.String(), "\n")
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}
