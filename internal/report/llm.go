package report

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/alouette-a11y/alouette/internal/model"
)

// ErrNarrative marks an unusable narrative reply.
var ErrNarrative = errors.New("narrative rejected")

//go:embed narrative.schema.json
var narrativeSchema []byte

// JSONPoster posts a JSON body and decodes the JSON reply.
type JSONPoster interface {
	PostJSON(ctx context.Context, url string, headers http.Header, in, out any) error
}

// LLMConfig configures the chat completions endpoint.
type LLMConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
}

func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Endpoint: "https://openrouter.ai/api/v1/chat/completions",
		Model:    "google/gemini-flash-1.5",
		Timeout:  45 * time.Second,
	}
}

var _ Narrator = (*LLMNarrator)(nil)

// LLMNarrator asks an OpenAI-compatible model to rewrite the report prose.
// Replies are validated against narrative.schema.json.
type LLMNarrator struct {
	cfg    LLMConfig
	client JSONPoster
	schema *jsonschema.Schema
}

func NewLLMNarrator(cfg LLMConfig, client JSONPoster) (*LLMNarrator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm narrator: api key is required")
	}
	def := DefaultLLMConfig()
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	schema, err := compileNarrativeSchema()
	if err != nil {
		return nil, err
	}
	return &LLMNarrator{cfg: cfg, client: client, schema: schema}, nil
}

func compileNarrativeSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource("narrative.schema.json", bytes.NewReader(narrativeSchema)); err != nil {
		return nil, fmt.Errorf("load narrative schema: %w", err)
	}
	schema, err := c.Compile("narrative.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile narrative schema: %w", err)
	}
	return schema, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type llmReply struct {
	ExecutiveSummary string `json:"executiveSummary"`
	ScoreExplanation string `json:"scoreExplanation"`
	IssueGroups      []struct {
		RuleID      string `json:"ruleId"`
		Title       string `json:"title"`
		Explanation string `json:"explanation"`
		HowToFix    string `json:"howToFix"`
	} `json:"issueGroups"`
}

// promptGroup is the per-group payload sent to the model. Screenshots and
// markup stay local.
type promptGroup struct {
	RuleID    string       `json:"ruleId"`
	Criterion string       `json:"rgaaCriterion"`
	Impact    model.Impact `json:"impact,omitempty"`
	Count     int          `json:"count"`
	Title     string       `json:"title"`
	Details   string       `json:"details"`
}

const systemPrompt = `Tu es un expert en accessibilité web (RGAA/WCAG) qui rédige des rapports pour des non-techniciens (mairies, PME).
Je te fournis des groupes de problèmes déjà classés et comptés. Réécris uniquement les textes, en français simple, sans jargon, avec des solutions concrètes.
Ne modifie ni les nombres ni le score. Conserve chaque ruleId tel quel.
Réponds UNIQUEMENT avec un objet JSON de la forme :
{"executiveSummary": string (2-3 phrases), "scoreExplanation": string, "issueGroups": [{"ruleId": string, "title": string, "explanation": string, "howToFix": string}]}`

func (n *LLMNarrator) Narrate(ctx context.Context, in NarrativeInput) (*Narrative, error) {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	groups := make([]promptGroup, 0, len(in.Groups))
	for _, g := range in.Groups {
		groups = append(groups, promptGroup{
			RuleID:    g.RuleID,
			Criterion: g.CriterionCode,
			Impact:    g.Severity,
			Count:     g.Count,
			Title:     g.Title,
			Details:   g.Explanation,
		})
	}
	payload, err := json.Marshal(map[string]any{
		"site":         in.SiteURL,
		"score":        in.Score,
		"pagesScanned": in.PagesScanned,
		"issueGroups":  groups,
	})
	if err != nil {
		return nil, err
	}

	req := chatRequest{
		Model: n.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: "Voici les données à rédiger : " + string(payload)},
		},
		Temperature: 0.2,
	}
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+n.cfg.APIKey)

	var resp chatResponse
	if err := n.client.PostJSON(ctx, n.cfg.Endpoint, headers, req, &resp); err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		msg := "no choices"
		if resp.Error != nil && resp.Error.Message != "" {
			msg = resp.Error.Message
		}
		return nil, fmt.Errorf("%w: %s", ErrNarrative, msg)
	}

	return n.parse(resp.Choices[0].Message.Content)
}

func (n *LLMNarrator) parse(content string) (*Narrative, error) {
	cleaned := StripFences(content)

	var doc any
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		return nil, fmt.Errorf("%w: invalid json: %v", ErrNarrative, err)
	}
	if err := n.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNarrative, err)
	}

	var reply llmReply
	if err := json.Unmarshal([]byte(cleaned), &reply); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNarrative, err)
	}
	out := &Narrative{
		ExecutiveSummary: reply.ExecutiveSummary,
		ScoreExplanation: reply.ScoreExplanation,
		Groups:           make(map[string]GroupText, len(reply.IssueGroups)),
	}
	for _, g := range reply.IssueGroups {
		out.Groups[g.RuleID] = GroupText{Title: g.Title, Explanation: g.Explanation, Remediation: g.HowToFix}
	}
	return out, nil
}

// StripFences removes markdown code fences around a model reply.
func StripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}
