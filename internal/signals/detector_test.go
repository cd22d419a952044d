package signals

import (
	"reflect"
	"testing"
)

func TestDetectHighRiskDefaultKeywords(t *testing.T) {
	cfg := Defaults()
	cases := []string{
		"me quiero morir",
		"Me Quiero MORIR",
		"la verdad es que me quiero morir y no sé qué hacer",
		"estoy pensando en quitarme la vida",
		"tengo pensamientos suicidas",
	}
	for _, text := range cases {
		flags := Detect(text, cfg)
		if !flags.HighRisk {
			t.Errorf("Detect(%q): expected highRisk", text)
		}
	}
}

func TestDetectDiacriticFolding(t *testing.T) {
	cfg := Defaults()
	// Keyword "hacerme dano" must match the accented spelling.
	if !Detect("quiero hacerme daño", cfg).HighRisk {
		t.Error("expected highRisk on accented text")
	}
	// And an accented keyword must match bare text.
	custom := Resolve(Overrides{Anger: &Signal{Keywords: []string{"estoy enojádo"}, Directive: "x"}})
	if !Detect("ESTOY ENOJADO contigo", custom).Anger {
		t.Error("expected anger with accented keyword against bare text")
	}
}

func TestDetectMultipleSignals(t *testing.T) {
	cfg := Defaults()
	flags := Detect("Odio esto, no dejo de pensar en lo mismo", cfg)
	if !flags.Anger || !flags.Rumination {
		t.Fatalf("expected anger+rumination, got %+v", flags)
	}
	if flags.HighRisk || flags.Disconnect {
		t.Fatalf("unexpected signals fired: %+v", flags)
	}
	if got := flags.Fired(); !reflect.DeepEqual(got, []Key{KeyAnger, KeyRumination}) {
		t.Fatalf("Fired order mismatch: %v", got)
	}
}

func TestDetectNothing(t *testing.T) {
	flags := Detect("hoy me fue bien en el trabajo", Defaults())
	if flags.Any() {
		t.Fatalf("expected no signals, got %+v", flags)
	}
	if len(flags.Fired()) != 0 {
		t.Fatal("Fired should be empty")
	}
}

func TestDetectIgnoresEmptyKeywords(t *testing.T) {
	cfg := Config{Anger: Signal{Keywords: []string{"", "   "}}}
	if Detect("cualquier cosa", cfg).Anger {
		t.Fatal("blank keywords must never match")
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"Querría MORIRME": "querria morirme",
		"ñandú":           "nandu",
		"ASCII only":      "ascii only",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}
