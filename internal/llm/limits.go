package llm

import "strings"

// MaxOutputTokens returns a conservative output-token ceiling for a provider/model pair.
// The table is approximate and only used to size requests; providers remain authoritative.
func MaxOutputTokens(provider, model string) int {
	switch strings.ToLower(provider) {
	case ProviderGemini:
		return 16384
	case ProviderOpenAI:
		return 16384
	case ProviderDeepSeek:
		return 8192
	case ProviderQwen:
		m := strings.ToLower(model)
		switch {
		case strings.Contains(m, "plus"):
			return 16384
		case strings.Contains(m, "max"):
			return 8192
		default:
			return 8192
		}
	default:
		return 4096
	}
}
