package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultGenerationModel is used when config.yaml does not name one.
const DefaultGenerationModel = "gemini-2.0-flash"

// Settings holds the optional config.yaml at the home root. Every field has a
// usable default so a missing file is fine.
type Settings struct {
	Generation Generation `yaml:"generation"`
	Slack      Slack      `yaml:"slack"`
}

// Generation configures the text generation backend.
type Generation struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// Slack configures the optional Slack webhook notifier.
type Slack struct {
	WebhookURL string `yaml:"webhook_url"`
}

// LoadSettings reads home/config.yaml, applies env overrides (GENAI_API_KEY,
// GENAI_MODEL, SLACK_WEBHOOK_URL), and fills defaults. A missing file yields
// defaults without error.
func LoadSettings(home string) (Settings, error) {
	var s Settings
	path := filepath.Join(home, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Settings{}, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &s); err != nil {
			return Settings{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if v := os.Getenv("GENAI_API_KEY"); v != "" {
		s.Generation.APIKey = v
	}
	if v := os.Getenv("GENAI_MODEL"); v != "" {
		s.Generation.Model = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		s.Slack.WebhookURL = v
	}
	if s.Generation.Model == "" {
		s.Generation.Model = DefaultGenerationModel
	}
	return s, nil
}
