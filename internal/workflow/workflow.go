// Package workflow defines the prompt plans the pipeline orchestrator runs.
// A workflow bundles everything that varies between the sales-call,
// scale-expert and batch-CV flows — scoring scale, input budget, prompt
// sequence, section markers — so the orchestrator itself stays single.
package workflow

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/scaleagents/api/internal/config"
	"github.com/scaleagents/api/internal/model"
	"github.com/scaleagents/api/internal/parser"
)

// TruncationMarker is appended whenever input is cut to the char budget so
// downstream consumers can tell content was dropped.
const TruncationMarker = "\n\n[truncated]"

// Step is one completion call in a plan. The user prompt is a template;
// {{input}} is the (truncated) transcript or CV text, {{previous}} the raw
// output of the preceding step, {{context}} the request-scoped context
// (e.g. the role description for CV scoring).
type Step struct {
	Name        string
	System      string
	User        string
	Temperature float64
	MaxTokens   int
	// Fallback substitutes the step output when the vendor returns an
	// empty completion; scoring must always produce some record.
	Fallback string
}

// Plan parameterizes one pipeline flavor.
type Plan struct {
	Workflow           model.Workflow
	Feature            string
	MaxScore           float64
	CharLimit          int
	NeedsTranscript    bool
	SectionMarkers     []string
	SubScoreCategories []string
	Steps              []Step
}

// Section marker names shared with the prompts below. The parser looks for
// these as `**MARKER:**` tokens in the model output.
const (
	MarkerCallType   = "TIPO DE CHAMADA"
	MarkerScore      = "PONTUAÇÃO"
	MarkerFeedback   = "FEEDBACK"
	MarkerStrengths  = "PONTOS FORTES"
	MarkerWeaknesses = "PONTOS FRACOS"
)

// SalesCallCategories are the 0-5 sub-score dimensions of a sales call
// evaluation; eight categories make the 0-40 total scale.
var SalesCallCategories = []string{
	"clareza", "rapport", "descoberta", "proposta de valor",
	"objeções", "fechamento", "tom", "escuta ativa",
}

// PlanFor returns the plan for a workflow, with char budgets taken from
// pipeline config.
func PlanFor(w model.Workflow, cfg *config.PipelineConfig) (*Plan, error) {
	switch w {
	case model.WorkflowSalesCall:
		return salesCallPlan(cfg.TranscriptCharLimit), nil
	case model.WorkflowScaleExpert:
		return scaleExpertPlan(cfg.TranscriptCharLimit), nil
	case model.WorkflowCVBatch:
		return cvBatchPlan(cfg.CVCharLimit), nil
	default:
		return nil, fmt.Errorf("unknown workflow: %s", w)
	}
}

func salesCallPlan(charLimit int) *Plan {
	return &Plan{
		Workflow:           model.WorkflowSalesCall,
		Feature:            model.FeatureCallAnalysis,
		MaxScore:           40,
		CharLimit:          charLimit,
		NeedsTranscript:    true,
		SectionMarkers:     []string{MarkerCallType, MarkerScore, MarkerFeedback, MarkerStrengths, MarkerWeaknesses},
		SubScoreCategories: SalesCallCategories,
		Steps: []Step{
			{
				Name: "evaluate",
				System: "Você é um coach de vendas sênior. Avalie a transcrição de uma " +
					"chamada de vendas de forma objetiva e estruturada, sempre em português.",
				User: "Analise a transcrição abaixo e responda exatamente neste formato:\n\n" +
					"**" + MarkerCallType + ":** (Descoberta, Demonstração, Follow-up, Fechamento ou Outro)\n" +
					"**" + MarkerScore + ":** (soma das categorias, 0-40)\n" +
					"- clareza: n/5\n- rapport: n/5\n- descoberta: n/5\n- proposta de valor: n/5\n" +
					"- objeções: n/5\n- fechamento: n/5\n- tom: n/5\n- escuta ativa: n/5\n" +
					"**" + MarkerFeedback + ":** (parágrafo único com o feedback geral)\n" +
					"**" + MarkerStrengths + ":**\n- ponto forte\n" +
					"**" + MarkerWeaknesses + ":**\n- ponto fraco\n\n" +
					"Transcrição:\n{{input}}",
				Temperature: 0.3,
				MaxTokens:   1500,
				Fallback:    "**" + MarkerScore + ":** 5.0\n**" + MarkerFeedback + ":** Análise indisponível.",
			},
		},
	}
}

func scaleExpertPlan(charLimit int) *Plan {
	return &Plan{
		Workflow:        model.WorkflowScaleExpert,
		Feature:         model.FeatureCallAnalysis,
		MaxScore:        10,
		CharLimit:       charLimit,
		NeedsTranscript: true,
		SectionMarkers:  []string{MarkerCallType},
		Steps: []Step{
			{
				Name: "score",
				System: "Você é um especialista em escalar operações comerciais. " +
					"Avalie a chamada e atribua uma nota de 0 a 10, justificando.",
				User: "Avalie a transcrição abaixo. Comece a resposta com a nota no formato " +
					"\"Nota: X.X\" e em seguida um parágrafo de justificativa.\n\n" +
					"**" + MarkerCallType + ":** identifique também o tipo de chamada.\n\n" +
					"Transcrição:\n{{input}}",
				Temperature: 0.3,
				MaxTokens:   800,
				Fallback:    "Nota: 5.0",
			},
			{
				Name:   "strengths",
				System: "Você é um especialista em escalar operações comerciais.",
				User: "Com base na avaliação abaixo, liste os pontos fortes da chamada " +
					"como uma lista de marcadores (-), um por linha.\n\nAvaliação:\n{{previous}}",
				Temperature: 0.5,
				MaxTokens:   500,
				Fallback:    "- Não foi possível identificar pontos fortes.",
			},
			{
				Name:   "weaknesses",
				System: "Você é um especialista em escalar operações comerciais.",
				User: "Com base na avaliação abaixo, liste os pontos a melhorar da chamada " +
					"como uma lista de marcadores (-), um por linha.\n\nAvaliação:\n{{previous}}",
				Temperature: 0.5,
				MaxTokens:   500,
				Fallback:    "- Não foi possível identificar pontos fracos.",
			},
		},
	}
}

func cvBatchPlan(charLimit int) *Plan {
	return &Plan{
		Workflow:        model.WorkflowCVBatch,
		Feature:         model.FeatureCVAnalysis,
		MaxScore:        10,
		CharLimit:       charLimit,
		NeedsTranscript: false,
		SectionMarkers:  []string{MarkerFeedback},
		Steps: []Step{
			{
				Name: "score",
				System: "Você é um recrutador técnico experiente. Avalie a adequação de um " +
					"currículo a uma vaga, sempre em português.",
				User: "Vaga:\n{{context}}\n\nCurrículo:\n{{input}}\n\n" +
					"Comece a resposta com \"Nota: X.X\" (0 a 10) e depois:\n" +
					"**" + MarkerFeedback + ":** parágrafo único explicando a nota.",
				Temperature: 0.2,
				MaxTokens:   700,
				Fallback:    "Nota: 5.0\n**" + MarkerFeedback + ":** Avaliação indisponível.",
			},
		},
	}
}

// RenderUser fills a step's user template.
func RenderUser(step Step, input, previous, context string) string {
	r := strings.NewReplacer(
		"{{input}}", input,
		"{{previous}}", previous,
		"{{context}}", context,
	)
	return r.Replace(step.User)
}

// Truncate hard-cuts text to limit characters and appends the visible
// truncation marker. It is a length cut, not a summary.
func Truncate(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + TruncationMarker
}

// ParseResult applies the parser's extraction rules to the raw step
// outputs of a plan run. It never fails; missing pieces come back as the
// documented defaults.
func ParseResult(p *Plan, outputs []string) *model.AnalysisResult {
	joined := strings.Join(outputs, "\n\n")
	sections := parser.Sections(joined, p.SectionMarkers)

	res := &model.AnalysisResult{
		RawVendor: joined,
	}

	// Score comes from the dedicated score section when present, else from
	// the first step's raw output.
	scoreSrc := sections[MarkerScore]
	if scoreSrc == "" && len(outputs) > 0 {
		scoreSrc = outputs[0]
	}
	res.Score = parser.ScoreInRange(scoreSrc, p.MaxScore)

	if len(p.SubScoreCategories) > 0 {
		res.SubScores = parser.SubScores(joined, p.SubScoreCategories)
	}

	if containsMarker(p.SectionMarkers, MarkerCallType) {
		res.CallType = parser.CallType(sections[MarkerCallType])
	}

	res.Feedback = strings.TrimSpace(sections[MarkerFeedback])
	if res.Feedback == "" && len(outputs) > 0 {
		res.Feedback = strings.TrimSpace(outputs[0])
	}

	switch p.Workflow {
	case model.WorkflowScaleExpert:
		// Steps 2 and 3 produce the bullet lists directly.
		if len(outputs) > 1 {
			res.Strengths = parser.BulletList(outputs[1])
		}
		if len(outputs) > 2 {
			res.Weaknesses = parser.BulletList(outputs[2])
		}
	default:
		res.Strengths = parser.BulletList(sections[MarkerStrengths])
		res.Weaknesses = parser.BulletList(sections[MarkerWeaknesses])
	}

	return res
}

func containsMarker(markers []string, m string) bool {
	for _, x := range markers {
		if x == m {
			return true
		}
	}
	return false
}
