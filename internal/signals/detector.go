package signals

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Flags is the result of classifying one message.
type Flags struct {
	Anger      bool `json:"anger"`
	Disconnect bool `json:"disconnect"`
	Rumination bool `json:"rumination"`
	HighRisk   bool `json:"highRisk"`
}

// Any reports whether at least one signal fired.
func (f Flags) Any() bool {
	return f.Anger || f.Disconnect || f.Rumination || f.HighRisk
}

// Fired lists the keys of the signals that fired, in stable order.
func (f Flags) Fired() []Key {
	var fired []Key
	if f.Anger {
		fired = append(fired, KeyAnger)
	}
	if f.Disconnect {
		fired = append(fired, KeyDisconnect)
	}
	if f.Rumination {
		fired = append(fired, KeyRumination)
	}
	if f.HighRisk {
		fired = append(fired, KeyHighRisk)
	}
	return fired
}

// Detect classifies text against the config. Matching is substring-based over
// case-folded, diacritic-stripped text; a signal fires if any of its keywords
// appears.
func Detect(text string, cfg Config) Flags {
	folded := Normalize(text)
	return Flags{
		Anger:      matchAny(folded, cfg.Anger.Keywords),
		Disconnect: matchAny(folded, cfg.Disconnect.Keywords),
		Rumination: matchAny(folded, cfg.Rumination.Keywords),
		HighRisk:   matchAny(folded, cfg.HighRisk.Keywords),
	}
}

func matchAny(folded string, keywords []string) bool {
	for _, keyword := range keywords {
		keyword = Normalize(keyword)
		if keyword == "" {
			continue
		}
		if strings.Contains(folded, keyword) {
			return true
		}
	}
	return false
}

var diacriticStripper = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// Normalize lowercases text and strips combining diacritical marks, so that
// "Querría MORIRME" and "querria morirme" compare equal.
func Normalize(text string) string {
	stripped, _, err := transform.String(diacriticStripper, text)
	if err != nil {
		// Fall back to plain case folding on malformed input.
		stripped = text
	}
	return strings.ToLower(stripped)
}
