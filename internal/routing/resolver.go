// Package routing maps logical model ids onto concrete backend candidates.
package routing

import "fmt"

// Provider identifies an upstream model backend.
type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderOpenAI Provider = "openai"
)

// Preference selects which providers may serve a turn.
type Preference string

const (
	PreferLoadBalance Preference = "load-balance"
	PreferGeminiOnly  Preference = "gemini-only"
	PreferOpenAIOnly  Preference = "openai-only"
)

// ParsePreference reports whether s names a known preference.
func ParsePreference(s string) (Preference, bool) {
	switch p := Preference(s); p {
	case PreferLoadBalance, PreferGeminiOnly, PreferOpenAIOnly:
		return p, true
	}
	return "", false
}

// Candidate is one provider plus the backend model id it serves.
type Candidate struct {
	Provider Provider
	Model    string
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s/%s", c.Provider, c.Model)
}

// Resolve returns the ordered candidates for logicalModelID. Gemini is always
// ordered before OpenAI under load-balance, so OpenAI only serves as the
// fallback. Providers without a binding for the id are skipped; an empty
// result means there is nothing to call. Unknown preferences behave as
// load-balance.
func Resolve(logicalModelID string, geminiTable map[string]string, pref Preference, openaiTable map[string]string) []Candidate {
	candidates := make([]Candidate, 0, 2)

	if pref != PreferOpenAIOnly {
		if model, ok := geminiTable[logicalModelID]; ok && model != "" {
			candidates = append(candidates, Candidate{Provider: ProviderGemini, Model: model})
		}
	}
	if pref != PreferGeminiOnly {
		if model, ok := openaiTable[logicalModelID]; ok && model != "" {
			candidates = append(candidates, Candidate{Provider: ProviderOpenAI, Model: model})
		}
	}

	return candidates
}
