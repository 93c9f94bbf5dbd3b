package application

import (
	"time"

	"github.com/ahrav/go-council/internal/domain"
)

// Prompt template placeholders.
const (
	PlaceholderFullQuery     = "{full_query}"
	PlaceholderUserQuery     = "{user_query}"
	PlaceholderResponsesText = "{responses_text}"
	PlaceholderStage1Text    = "{stage1_text}"
	PlaceholderStage2Text    = "{stage2_text}"
)

// DefaultStage1PromptTemplate sends the full query, attachments and context
// included, to every council member.
const DefaultStage1PromptTemplate = PlaceholderFullQuery

// DefaultStage2PromptTemplate asks each member to critique the anonymized
// answers and finish with a best-to-worst FINAL RANKING block.
const DefaultStage2PromptTemplate = `You are evaluating different responses to the following question:

Question: {user_query}

Here are the responses from different models (anonymized):

{responses_text}

Your task:
1. First, evaluate each response individually. For each response, explain what it does well and what it does poorly.
2. Then, at the very end of your response, provide a final ranking.

IMPORTANT: Your final ranking MUST be formatted EXACTLY as follows:
- Start with the line "FINAL RANKING:" (all caps, with colon)
- Then list the responses from best to worst as a numbered list
- Each line should be: number, period, space, then ONLY the response label (e.g., "1. Response A")
- Do not add any other text or explanations in the ranking section

Example of the correct format for your ENTIRE response:

Response A provides good detail on X but misses Y...
Response B is accurate but lacks depth on Z...
Response C offers the most comprehensive answer...

FINAL RANKING:
1. Response C
2. Response A
3. Response B

Now provide your evaluation and ranking:`

// DefaultStage3PromptTemplate is the chairman's synthesis prompt.
const DefaultStage3PromptTemplate = `You are the Chairman of an LLM Council. Multiple AI models have provided responses to a user's question, and then ranked each other's responses.

Original Question: {user_query}

STAGE 1 - Individual Responses:
{stage1_text}

STAGE 2 - Peer Rankings:
{stage2_text}

Your task as Chairman is to synthesize all of this information into a single, comprehensive, accurate answer to the user's original question. Consider:
- The individual responses and their insights
- The peer rankings and what they reveal about response quality
- Any patterns of agreement or disagreement

Provide a clear, well-reasoned final answer that represents the council's collective wisdom:`

// Default council composition.
var (
	DefaultCouncilModels = []string{
		"openai/gpt-5.1",
		"google/gemini-3-pro-preview",
		"anthropic/claude-sonnet-4.5",
		"x-ai/grok-4",
	}
	DefaultChairmanModel = "google/gemini-3-pro-preview"
)

// Settings is the runtime configuration of a council: who sits on it, how
// they are prompted, and how the pipeline runs. A Settings value is a
// snapshot; the Council never observes later edits.
type Settings struct {
	// CouncilModels lists the members in "provider/model" form. Order fixes
	// Stage 1 result order and Stage 2 label assignment.
	CouncilModels []string `yaml:"council_models" json:"council_models" validate:"required,min=1,unique,dive,modelid"`
	// ChairmanModel synthesizes the final answer and must sit on the council.
	ChairmanModel string `yaml:"chairman_model" json:"chairman_model" validate:"required,modelid"`
	// TitleModel generates conversation titles. Empty means ChairmanModel.
	TitleModel string `yaml:"title_model,omitempty" json:"title_model,omitempty" validate:"omitempty,modelid"`

	Stage1PromptTemplate string `yaml:"stage1_prompt_template" json:"stage1_prompt_template" validate:"required,placeholders=stage1"`
	Stage2PromptTemplate string `yaml:"stage2_prompt_template" json:"stage2_prompt_template" validate:"required,placeholders=stage2"`
	Stage3PromptTemplate string `yaml:"stage3_prompt_template" json:"stage3_prompt_template" validate:"required,placeholders=stage3"`

	CouncilTemperature  float64 `yaml:"council_temperature" json:"council_temperature" validate:"gte=0,lte=2"`
	Stage2Temperature   float64 `yaml:"stage2_temperature" json:"stage2_temperature" validate:"gte=0,lte=2"`
	ChairmanTemperature float64 `yaml:"chairman_temperature" json:"chairman_temperature" validate:"gte=0,lte=2"`

	// ExecutionMode is one of chat_only, chat_ranking, full.
	ExecutionMode string `yaml:"execution_mode" json:"execution_mode" validate:"omitempty,oneof=chat_only chat_ranking full"`
	// MaxCouncilModels caps the council size.
	MaxCouncilModels int `yaml:"max_council_models" json:"max_council_models" validate:"gte=1,lte=26"`
	// MaxConcurrency bounds in-flight queries per stage. Zero is unlimited.
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency" validate:"gte=0,lte=64"`
	// RequestTimeoutSeconds bounds each model call at the gateway.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds" json:"request_timeout_seconds" validate:"gte=1,lte=600"`
	// MaxAttachmentChars caps each attachment excerpt.
	MaxAttachmentChars int `yaml:"max_attachment_chars" json:"max_attachment_chars" validate:"gte=0,lte=200000"`
}

// DefaultSettings returns the built-in settings.
func DefaultSettings() Settings {
	return Settings{
		CouncilModels:         append([]string(nil), DefaultCouncilModels...),
		ChairmanModel:         DefaultChairmanModel,
		Stage1PromptTemplate:  DefaultStage1PromptTemplate,
		Stage2PromptTemplate:  DefaultStage2PromptTemplate,
		Stage3PromptTemplate:  DefaultStage3PromptTemplate,
		CouncilTemperature:    0.5,
		Stage2Temperature:     0.3,
		ChairmanTemperature:   0.4,
		ExecutionMode:         string(domain.ModeFull),
		MaxCouncilModels:      5,
		MaxConcurrency:        0,
		RequestTimeoutSeconds: 120,
		MaxAttachmentChars:    20000,
	}
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	s.CouncilModels = append([]string(nil), s.CouncilModels...)
	return s
}

// Mode returns the parsed execution mode.
func (s Settings) Mode() (domain.ExecutionMode, error) {
	return domain.ParseExecutionMode(s.ExecutionMode)
}

// RequestTimeout returns the per-call gateway timeout.
func (s Settings) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

// Title returns the model used for title generation.
func (s Settings) Title() string {
	if s.TitleModel != "" {
		return s.TitleModel
	}
	return s.ChairmanModel
}

// SettingsPatch is a partial update. Nil fields are left unchanged.
type SettingsPatch struct {
	CouncilModels         []string `yaml:"council_models,omitempty" json:"council_models,omitempty"`
	ChairmanModel         *string  `yaml:"chairman_model,omitempty" json:"chairman_model,omitempty"`
	TitleModel            *string  `yaml:"title_model,omitempty" json:"title_model,omitempty"`
	Stage1PromptTemplate  *string  `yaml:"stage1_prompt_template,omitempty" json:"stage1_prompt_template,omitempty"`
	Stage2PromptTemplate  *string  `yaml:"stage2_prompt_template,omitempty" json:"stage2_prompt_template,omitempty"`
	Stage3PromptTemplate  *string  `yaml:"stage3_prompt_template,omitempty" json:"stage3_prompt_template,omitempty"`
	CouncilTemperature    *float64 `yaml:"council_temperature,omitempty" json:"council_temperature,omitempty"`
	Stage2Temperature     *float64 `yaml:"stage2_temperature,omitempty" json:"stage2_temperature,omitempty"`
	ChairmanTemperature   *float64 `yaml:"chairman_temperature,omitempty" json:"chairman_temperature,omitempty"`
	ExecutionMode         *string  `yaml:"execution_mode,omitempty" json:"execution_mode,omitempty"`
	MaxCouncilModels      *int     `yaml:"max_council_models,omitempty" json:"max_council_models,omitempty"`
	MaxConcurrency        *int     `yaml:"max_concurrency,omitempty" json:"max_concurrency,omitempty"`
	RequestTimeoutSeconds *int     `yaml:"request_timeout_seconds,omitempty" json:"request_timeout_seconds,omitempty"`
	MaxAttachmentChars    *int     `yaml:"max_attachment_chars,omitempty" json:"max_attachment_chars,omitempty"`
}

// Apply returns s with the patch's non-nil fields applied. s is not
// modified.
func (p SettingsPatch) Apply(s Settings) Settings {
	out := s.Clone()
	if p.CouncilModels != nil {
		out.CouncilModels = append([]string(nil), p.CouncilModels...)
	}
	setIf(&out.ChairmanModel, p.ChairmanModel)
	setIf(&out.TitleModel, p.TitleModel)
	setIf(&out.Stage1PromptTemplate, p.Stage1PromptTemplate)
	setIf(&out.Stage2PromptTemplate, p.Stage2PromptTemplate)
	setIf(&out.Stage3PromptTemplate, p.Stage3PromptTemplate)
	setIf(&out.CouncilTemperature, p.CouncilTemperature)
	setIf(&out.Stage2Temperature, p.Stage2Temperature)
	setIf(&out.ChairmanTemperature, p.ChairmanTemperature)
	setIf(&out.ExecutionMode, p.ExecutionMode)
	setIf(&out.MaxCouncilModels, p.MaxCouncilModels)
	setIf(&out.MaxConcurrency, p.MaxConcurrency)
	setIf(&out.RequestTimeoutSeconds, p.RequestTimeoutSeconds)
	setIf(&out.MaxAttachmentChars, p.MaxAttachmentChars)
	return out
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
