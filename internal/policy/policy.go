// Package policy models the typed AI policy configuration: free-text
// directives owned by a psychologist or a conversation, numeric tuning for
// the model call, and signal-detection overrides.
package policy

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sanamente-ai/sanamente-platform/internal/signals"
)

// Scope tags who owns a policy.
type Scope string

const (
	ScopePsychologist Scope = "PSYCHOLOGIST"
	ScopeConversation Scope = "CONVERSATION"
)

// Tuning holds the numeric AI parameters a psychologist can adjust.
type Tuning struct {
	MaxTurns          int     `json:"maxTurns"`
	MaxTokens         int32   `json:"maxTokens"`
	Temperature       float32 `json:"temperature"`
	TurnLimitDisabled bool    `json:"turnLimitDisabled"`
}

// Tuning bounds. Values outside these are clamped, not rejected.
const (
	DefaultMaxTurns    = 3
	DefaultMaxTokens   = 300
	DefaultTemperature = 0.4

	minTurns       = 1
	maxTurns       = 10
	minTokens      = 50
	maxTokens      = 2000
	minTemperature = 0
	maxTemperature = 1
)

// DefaultTuning returns the tuning used when a psychologist has not set any.
func DefaultTuning() Tuning {
	return Tuning{
		MaxTurns:    DefaultMaxTurns,
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
	}
}

// Clamp forces the tuning into sane bounds, substituting defaults for unset
// (zero) values.
func (t Tuning) Clamp() Tuning {
	out := t
	if out.MaxTurns == 0 {
		out.MaxTurns = DefaultMaxTurns
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = DefaultMaxTokens
	}
	if out.Temperature == 0 {
		out.Temperature = DefaultTemperature
	}

	if out.MaxTurns < minTurns {
		out.MaxTurns = minTurns
	}
	if out.MaxTurns > maxTurns {
		out.MaxTurns = maxTurns
	}
	if out.MaxTokens < minTokens {
		out.MaxTokens = minTokens
	}
	if out.MaxTokens > maxTokens {
		out.MaxTokens = maxTokens
	}
	if out.Temperature < minTemperature {
		out.Temperature = minTemperature
	}
	if out.Temperature > maxTemperature {
		out.Temperature = maxTemperature
	}
	return out
}

// Policy is one stored policy row.
type Policy struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	Scope           Scope
	OwnerID         uuid.UUID // psychologist id or conversation id, per scope
	Text            string
	Tuning          Tuning
	SignalOverrides signals.Overrides
	UpdatedAt       time.Time
}

// MergeText concatenates policy directives for prompt composition:
// psychologist-level text first, then conversation-level, blank-line joined.
func MergeText(policies []Policy) string {
	var parts []string
	for _, scope := range []Scope{ScopePsychologist, ScopeConversation} {
		for _, p := range policies {
			if p.Scope != scope {
				continue
			}
			if text := strings.TrimSpace(p.Text); text != "" {
				parts = append(parts, text)
			}
		}
	}
	return strings.Join(parts, "\n\n")
}

// EffectiveTuning picks the psychologist-level tuning, clamped; when no
// psychologist policy exists the defaults apply.
func EffectiveTuning(policies []Policy) Tuning {
	for _, p := range policies {
		if p.Scope == ScopePsychologist {
			return p.Tuning.Clamp()
		}
	}
	return DefaultTuning()
}

// EffectiveSignalConfig resolves the psychologist's signal overrides into the
// defaults.
func EffectiveSignalConfig(policies []Policy) signals.Config {
	for _, p := range policies {
		if p.Scope == ScopePsychologist {
			return signals.Resolve(p.SignalOverrides)
		}
	}
	return signals.Defaults()
}
