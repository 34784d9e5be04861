package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const agentSystemPrompt = `You are playing a Werewolf party game as one seat at the table. You receive the current game state as JSON and must answer with a single JSON object and nothing else:
{"speech": "<what you say aloud, may be empty>", "action": {"vote": "", "kill": "", "check": "", "guard": "", "save": false, "poison": ""}}
Only fill the fields asked for in "kinds". Targets are seat ids such as "P3". Never reveal your role unless it helps your team.`

const reviewSystemPrompt = `You are reviewing your own play in a finished Werewolf game. Answer with a single JSON object and nothing else:
{"overall_strategy": "<one sentence>", "biggest_mistake": "<one sentence>"}`

var errEmptyCompletion = errors.New("empty completion")

// llmDecider asks a language model for a decision.
type llmDecider struct {
	llm      llms.Model
	callOpts []llms.CallOption
}

func (d *llmDecider) Decide(ctx context.Context, dc DecisionContext) (Decision, error) {
	state, err := json.Marshal(dc)
	if err != nil {
		return Decision{}, err
	}
	text, err := d.complete(ctx, agentSystemPrompt, string(state))
	if err != nil {
		return Decision{}, err
	}
	var dec Decision
	if err := decodeJSONReply(text, &dec); err != nil {
		return Decision{}, fmt.Errorf("decode decision for %s: %w", dc.Seat, err)
	}
	return dec, nil
}

func (d *llmDecider) complete(ctx context.Context, system, human string) (string, error) {
	resp, err := d.llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, human),
	}, d.callOpts...)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", errEmptyCompletion
	}
	text := strings.TrimSpace(resp.Choices[0].Content)
	if text == "" {
		return "", errEmptyCompletion
	}
	return text, nil
}

// llmReviewer asks the same model for a post-game review.
type llmReviewer struct {
	*llmDecider
}

func (r llmReviewer) Review(ctx context.Context, in ReviewInput) (SeatReview, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "You were %s (%s). Result: %s. Survived: %v.\n", in.Seat, in.Role, in.Result, in.Survived)
	b.WriteString("Your memory of the game:\n")
	b.WriteString(strings.Join(in.Memory, "\n"))
	b.WriteString("\nSpeeches:\n")
	b.WriteString(strings.Join(in.Speeches, "\n"))

	text, err := r.complete(ctx, reviewSystemPrompt, b.String())
	if err != nil {
		return SeatReview{}, err
	}
	var sr SeatReview
	if err := decodeJSONReply(text, &sr); err != nil {
		return SeatReview{}, fmt.Errorf("decode review for %s: %w", in.Seat, err)
	}
	return sr, nil
}

// decodeJSONReply extracts the outermost JSON object from a model reply,
// tolerating code fences and surrounding prose.
func decodeJSONReply(text string, v any) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in reply %q", truncate(text, 80))
	}
	return json.Unmarshal([]byte(text[start:end+1]), v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// buildCallOpts builds LLM call options from the config.
func buildCallOpts(cfg AppConfig) []llms.CallOption {
	var opts []llms.CallOption

	if cfg.AgentTemperature != "" {
		if f, err := strconv.ParseFloat(cfg.AgentTemperature, 64); err == nil {
			opts = append(opts, llms.WithTemperature(f))
			log.Printf("Agents: temperature=%.2f", f)
		} else {
			log.Printf("Agents: invalid temperature %q: %v", cfg.AgentTemperature, err)
		}
	}

	if cfg.AgentThinking != "" {
		mode := llms.ThinkingMode(cfg.AgentThinking)
		switch mode {
		case llms.ThinkingModeNone, llms.ThinkingModeLow, llms.ThinkingModeMedium, llms.ThinkingModeHigh, llms.ThinkingModeAuto:
			opts = append(opts, llms.WithThinkingMode(mode))
			log.Printf("Agents: thinking=%s", mode)
		default:
			log.Printf("Agents: invalid thinking %q (valid: none, low, medium, high, auto)", cfg.AgentThinking)
		}
	}

	return opts
}

// newModel builds the configured language model, or nil when agents run offline.
func newModel(cfg AppConfig) (llms.Model, error) {
	model := cfg.AgentModel
	switch cfg.AgentProvider {
	case "ollama":
		return ollama.New(ollama.WithModel(model), ollama.WithServerURL(cfg.AgentOllamaURL))
	case "openai":
		return openai.New(openai.WithModel(model))
	case "claude":
		return anthropic.New(anthropic.WithModel(model))
	case "gemini":
		return googleai.New(context.Background(), googleai.WithDefaultModel(model))
	case "groq":
		return openai.New(
			openai.WithModel(model),
			openai.WithBaseURL("https://api.groq.com/openai/v1"),
			openai.WithToken(cfg.GroqAPIKey),
		)
	case "openai-compatible":
		if cfg.AgentURL == "" {
			return nil, errors.New("agent_url is required for openai-compatible provider")
		}
		opts := []openai.Option{
			openai.WithModel(model),
			openai.WithBaseURL(cfg.AgentURL),
		}
		if cfg.AgentAPIKey != "" {
			opts = append(opts, openai.WithToken(cfg.AgentAPIKey))
		}
		return openai.New(opts...)
	case "", "offline":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown agent provider %q", cfg.AgentProvider)
}

// initAgentBackend returns the decider and reviewer for autonomous seats.
// Any provider failure leaves the agents on their offline fallback.
func initAgentBackend(cfg AppConfig) (Decider, Reviewer) {
	timeout := cfg.DecisionTimeout.Duration
	llm, err := newModel(cfg)
	if err != nil {
		log.Printf("Agents: failed to init %s (%s): %v, using offline agents", cfg.AgentProvider, cfg.AgentModel, err)
		llm = nil
	}
	if llm == nil {
		log.Printf("Agents: offline (set agent_provider to enable a model)")
		return newFallbackDecider(nil, timeout), fallbackReviewer{timeout: timeout}
	}

	d := &llmDecider{llm: llm, callOpts: buildCallOpts(cfg)}
	log.Printf("Agents: %s model=%s", cfg.AgentProvider, cfg.AgentModel)
	return newFallbackDecider(d, timeout), fallbackReviewer{primary: llmReviewer{d}, timeout: timeout}
}
