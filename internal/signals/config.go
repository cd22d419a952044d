// Package signals implements the keyword-based clinical signal classifier.
// It is deliberately a conservative, deterministic detector: clinical-safety
// logic must be inspectable, never a black box.
package signals

import "strings"

// Key identifies one of the fixed clinical signals.
type Key string

const (
	KeyAnger      Key = "anger"
	KeyDisconnect Key = "disconnect"
	KeyRumination Key = "rumination"
	KeyHighRisk   Key = "highRisk"
)

// Keys lists all signal keys in a stable order.
func Keys() []Key {
	return []Key{KeyAnger, KeyDisconnect, KeyRumination, KeyHighRisk}
}

// Signal is one signal's keyword list and the prompt directive injected when
// it fires.
type Signal struct {
	Keywords  []string `json:"keywords"`
	Directive string   `json:"directive"`
}

// Config holds the full per-signal configuration.
type Config struct {
	Anger      Signal `json:"anger"`
	Disconnect Signal `json:"disconnect"`
	Rumination Signal `json:"rumination"`
	HighRisk   Signal `json:"highRisk"`
}

// Overrides is a partial psychologist-level override of the defaults.
type Overrides struct {
	Anger      *Signal `json:"anger,omitempty"`
	Disconnect *Signal `json:"disconnect,omitempty"`
	Rumination *Signal `json:"rumination,omitempty"`
	HighRisk   *Signal `json:"highRisk,omitempty"`
}

// Defaults returns the built-in signal configuration. Keywords are matched
// against case-folded, diacritic-stripped text, so they are written bare.
func Defaults() Config {
	return Config{
		Anger: Signal{
			Keywords: []string{
				"estoy harto", "estoy harta", "me da rabia", "odio", "furioso",
				"furiosa", "no aguanto mas", "me enfurece", "estoy enojado",
				"estoy enojada",
			},
			Directive: "El paciente muestra señales de enojo. Valida su emoción sin confrontar y evita frases que minimicen lo que siente.",
		},
		Disconnect: Signal{
			Keywords: []string{
				"no me entiendes", "esto no sirve", "no tiene sentido hablar",
				"para que escribo", "no me ayudas", "dejame en paz",
			},
			Directive: "El paciente parece desconectado de la conversación. Responde breve, cercano y pregunta qué necesitaría para sentirse acompañado.",
		},
		Rumination: Signal{
			Keywords: []string{
				"no dejo de pensar", "una y otra vez", "no puedo parar de pensar",
				"siempre lo mismo", "le doy vueltas",
			},
			Directive: "El paciente muestra rumiación. Ayuda a poner el pensamiento en perspectiva con una pregunta concreta, sin dar consejos largos.",
		},
		HighRisk: Signal{
			Keywords: []string{
				"me quiero morir", "quiero morirme", "quitarme la vida",
				"no quiero vivir", "hacerme dano", "suicid", "acabar con todo",
			},
			Directive: "ALERTA: el paciente expresa ideación de riesgo. No generes una respuesta automática; se usa la respuesta de seguridad fija.",
		},
	}
}

// Resolve merges a partial override into the defaults key by key. A key whose
// override has a non-empty keyword list and a non-blank directive replaces the
// default for that key entirely; otherwise each empty field keeps its default.
func Resolve(overrides Overrides) Config {
	cfg := Defaults()
	cfg.Anger = mergeSignal(cfg.Anger, overrides.Anger)
	cfg.Disconnect = mergeSignal(cfg.Disconnect, overrides.Disconnect)
	cfg.Rumination = mergeSignal(cfg.Rumination, overrides.Rumination)
	cfg.HighRisk = mergeSignal(cfg.HighRisk, overrides.HighRisk)
	return cfg
}

func mergeSignal(def Signal, override *Signal) Signal {
	if override == nil {
		return def
	}
	merged := def
	if len(override.Keywords) > 0 {
		merged.Keywords = override.Keywords
	}
	if trimmed := strings.TrimSpace(override.Directive); trimmed != "" {
		merged.Directive = trimmed
	}
	return merged
}

// Get returns the configuration for one signal key.
func (c Config) Get(key Key) Signal {
	switch key {
	case KeyAnger:
		return c.Anger
	case KeyDisconnect:
		return c.Disconnect
	case KeyRumination:
		return c.Rumination
	case KeyHighRisk:
		return c.HighRisk
	default:
		return Signal{}
	}
}
