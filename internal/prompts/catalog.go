// Package prompts holds the model prompts and the user-visible reply texts,
// keyed by language tag.
package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"secretary/internal/ai"
)

//go:embed catalog.yaml
var builtin []byte

// Reply text keys.
const (
	Onboarding       = "onboarding"
	Refusal          = "refusal"
	NotUnderstood    = "not_understood"
	GenericError     = "generic_error"
	CommandError     = "command_error"
	SummaryFailed    = "summary_failed"
	Help             = "help"
	TasksHeader      = "tasks_header"
	TasksEmpty       = "tasks_empty"
	TaskLine         = "task_line"
	Status           = "status"
	Report           = "report"
	Settings         = "settings"
	NotificationsOn  = "notifications_on"
	NotificationsOff = "notifications_off"
	IntroFormat      = "intro_format"
	IntroSuccess     = "intro_success"
	IntroFailure     = "intro_failure"
	IntroRegistered  = "intro_registered"
	DueReminder      = "due_reminder"
	DailySummary     = "daily_summary"
	WeeklySummary    = "weekly_summary"
)

// StatusLabel returns the text key for a task status label.
func StatusLabel(status string) string {
	return "status_" + status
}

// Prompt keys.
const (
	PromptPersona       = "persona"
	PromptRelevance     = "relevance"
	PromptLanguageHint  = "language_hint"
	PromptSummarySystem = "summary_system"
	PromptSummaryUser   = "summary_user"
	PromptExtractSystem = "extract_system"
	PromptExtractUser   = "extract_user"
)

var requiredPrompts = []string{
	PromptPersona, PromptRelevance, PromptSummarySystem, PromptSummaryUser,
	PromptExtractSystem, PromptExtractUser,
}

// Catalog is a set of prompts and per-language reply texts.
type Catalog struct {
	Prompts map[string]string            `yaml:"prompts"`
	Locales map[string]map[string]string `yaml:"locales"`

	defaultLang string
}

// Load returns the built-in catalog, with the YAML file at path merged over
// it when path is non-empty. defaultLang must be one of the catalog's
// languages; texts missing in other languages fall back to it.
func Load(path, defaultLang string) (*Catalog, error) {
	c := &Catalog{}
	if err := yaml.Unmarshal(builtin, c); err != nil {
		return nil, fmt.Errorf("failed to parse built-in catalog: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read prompts file: %w", err)
		}
		var override Catalog
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to parse prompts file %s: %w", path, err)
		}
		c.merge(&override)
	}

	c.defaultLang = defaultLang
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// MustDefault returns the built-in catalog with zh-TW as the default
// language. It panics if the embedded file is malformed.
func MustDefault() *Catalog {
	c, err := Load("", "zh-TW")
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) merge(o *Catalog) {
	if c.Prompts == nil {
		c.Prompts = make(map[string]string)
	}
	for k, v := range o.Prompts {
		c.Prompts[k] = v
	}
	if c.Locales == nil {
		c.Locales = make(map[string]map[string]string)
	}
	for lang, texts := range o.Locales {
		if c.Locales[lang] == nil {
			c.Locales[lang] = make(map[string]string)
		}
		for k, v := range texts {
			c.Locales[lang][k] = v
		}
	}
}

// Validate checks that every required prompt exists and that the default
// language defines every text any language defines.
func (c *Catalog) Validate() error {
	for _, k := range requiredPrompts {
		if c.Prompts[k] == "" {
			return fmt.Errorf("prompt %q is missing", k)
		}
	}
	base, ok := c.Locales[c.defaultLang]
	if !ok {
		return fmt.Errorf("default language %q has no texts", c.defaultLang)
	}
	for lang, texts := range c.Locales {
		for k := range texts {
			if _, ok := base[k]; !ok {
				return fmt.Errorf("text %q of %s is missing in default language %s", k, lang, c.defaultLang)
			}
		}
	}
	return nil
}

// DefaultLanguage returns the fallback language tag.
func (c *Catalog) DefaultLanguage() string {
	return c.defaultLang
}

// Languages returns the language tags the catalog has texts for.
func (c *Catalog) Languages() []string {
	langs := make([]string, 0, len(c.Locales))
	for l := range c.Locales {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return langs
}

// Text returns the reply text for key in lang, formatted with args. Unknown
// languages and missing keys fall back to the default language; a key that
// is missing there too is returned as is.
func (c *Catalog) Text(lang, key string, args ...any) string {
	s, ok := c.Locales[lang][key]
	if !ok {
		s, ok = c.Locales[c.defaultLang][key]
	}
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(s, args...)
	}
	return s
}

// Prompt returns a model prompt by key.
func (c *Catalog) Prompt(key string) string {
	return c.Prompts[key]
}

// AIPrompts returns the prompts used by the completion gateway.
func (c *Catalog) AIPrompts() ai.Prompts {
	return ai.Prompts{
		Persona:       c.Prompt(PromptPersona),
		Relevance:     c.Prompt(PromptRelevance),
		LanguageHint:  c.Prompt(PromptLanguageHint),
		SummarySystem: c.Prompt(PromptSummarySystem),
		SummaryUser:   c.Prompt(PromptSummaryUser),
		ExtractSystem: c.Prompt(PromptExtractSystem),
		ExtractUser:   c.Prompt(PromptExtractUser),
	}
}
