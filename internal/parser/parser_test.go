package parser

import (
	"reflect"
	"testing"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name string
		text string
		want float64
	}{
		{"plain integer", "Nota: 8", 8},
		{"decimal", "Score: 7.5 — boa chamada", 7.5},
		{"number mid-sentence", "A chamada merece 32 pontos no total", 32},
		{"no number", "não foi possível avaliar", DefaultScore},
		{"empty", "", DefaultScore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.text); got != tt.want {
				t.Errorf("Score(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestScoreInRange(t *testing.T) {
	if got := ScoreInRange("Nota: 87", 10); got != 10 {
		t.Errorf("clamped high = %v, want 10", got)
	}
	if got := ScoreInRange("sem nota", 10); got != DefaultScore {
		t.Errorf("default = %v, want %v", got, DefaultScore)
	}
	if got := ScoreInRange("Nota: 3.5", 40); got != 3.5 {
		t.Errorf("in range = %v, want 3.5", got)
	}
}

func TestSections(t *testing.T) {
	text := "**TIPO DE CHAMADA:** Descoberta\n" +
		"**PONTUAÇÃO:** 28\n- clareza: 4/5\n" +
		"**FEEDBACK:** Boa condução geral da conversa."

	got := Sections(text, []string{"TIPO DE CHAMADA", "PONTUAÇÃO", "FEEDBACK", "PONTOS FORTES"})

	if got["TIPO DE CHAMADA"] != "Descoberta" {
		t.Errorf("call type section = %q", got["TIPO DE CHAMADA"])
	}
	if got["PONTUAÇÃO"] != "28\n- clareza: 4/5" {
		t.Errorf("score section = %q", got["PONTUAÇÃO"])
	}
	if got["FEEDBACK"] != "Boa condução geral da conversa." {
		t.Errorf("feedback section = %q", got["FEEDBACK"])
	}
	// Missing marker yields empty string, not a missing key.
	if v, ok := got["PONTOS FORTES"]; !ok || v != "" {
		t.Errorf("missing section = %q (present=%v), want empty", v, ok)
	}
}

func TestSectionsToleratesColonOutsideBold(t *testing.T) {
	got := Sections("**FEEDBACK**: tudo certo", []string{"FEEDBACK"})
	if got["FEEDBACK"] != "tudo certo" {
		t.Errorf("section = %q, want %q", got["FEEDBACK"], "tudo certo")
	}
}

func TestBulletList(t *testing.T) {
	text := "Pontos:\n- primeiro\n• segundo\n* terceiro\n-\nnão é item\n  - indentado"
	got := BulletList(text)
	want := []string{"primeiro", "segundo", "terceiro", "indentado"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("BulletList = %v, want %v", got, want)
	}
}

func TestBulletListEmpty(t *testing.T) {
	if got := BulletList("sem marcadores aqui"); got != nil {
		t.Errorf("BulletList = %v, want nil", got)
	}
}

func TestSubScores(t *testing.T) {
	text := "- clareza: 4/5\n- rapport: 9/5\n- escuta ativa: 3 / 5\nfechamento: 2/5"
	got := SubScores(text, []string{"clareza", "rapport", "escuta ativa", "fechamento"})

	if got["clareza"] != 4 {
		t.Errorf("clareza = %d, want 4", got["clareza"])
	}
	// Out-of-range numerators are clamped.
	if got["rapport"] != 5 {
		t.Errorf("rapport = %d, want 5 (clamped)", got["rapport"])
	}
	if got["escuta_ativa"] != 3 {
		t.Errorf("escuta_ativa = %d, want 3", got["escuta_ativa"])
	}
	// Line without a bullet glyph is not a sub-score; category defaults to 0.
	if got["fechamento"] != 0 {
		t.Errorf("fechamento = %d, want 0", got["fechamento"])
	}
}

func TestNormalizeCategory(t *testing.T) {
	if got := NormalizeCategory("  Proposta   de Valor "); got != "proposta_de_valor" {
		t.Errorf("NormalizeCategory = %q", got)
	}
}

func TestCallType(t *testing.T) {
	if got := CallType("Demonstração\ncom detalhes extras"); got != "Demonstração" {
		t.Errorf("CallType = %q, want Demonstração", got)
	}
	if got := CallType("   "); got != DefaultCallType {
		t.Errorf("CallType default = %q, want %q", got, DefaultCallType)
	}
}
