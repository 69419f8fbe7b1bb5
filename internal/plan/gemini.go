package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/slavoc-ai/Focus-Flow-sub000/internal/domain"
)

const defaultModel = "gemini-2.5-flash"

// GeminiRefiner implements Refiner against the Gemini API.
type GeminiRefiner struct {
	client *genai.Client
	model  string
}

// NewGeminiRefiner creates a refiner; the API key is required.
func NewGeminiRefiner(ctx context.Context, apiKey, model string) (*GeminiRefiner, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai api key is required")
	}
	if model == "" {
		model = defaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiRefiner{client: client, model: model}, nil
}

func (g *GeminiRefiner) Refine(ctx context.Context, command string, tasks []domain.Task) (domain.PlanResult, error) {
	prompt, err := buildPrompt(command, tasks)
	if err != nil {
		return domain.PlanResult{}, err
	}
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return domain.PlanResult{}, fmt.Errorf("generate plan: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return domain.PlanResult{}, fmt.Errorf("empty plan response")
	}
	return ParseResult(text)
}

func buildPrompt(command string, tasks []domain.Task) (string, error) {
	current, err := json.Marshal(tasks)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("You refine a focus-session task plan. Respond with JSON only, shaped as\n")
	b.WriteString(`{"modifications":[...],"new_title":"...","explanation":"..."}` + "\n")
	b.WriteString("Each modification is one of:\n")
	b.WriteString(`{"operation":"update","task_id":"...","changes":{"title":"...","action":"...","details":"...","estimated_minutes":25,"completed":false}}` + "\n")
	b.WriteString(`{"operation":"add","new_task":{"id":"tmp-<unique>","title":"...","action":"...","details":"..."},"after_task_id":"..."}` + "\n")
	b.WriteString(`{"operation":"delete","task_id":"..."}` + "\n")
	b.WriteString(`{"operation":"reorder","new_order":["id1","id2",...]}` + "\n")
	b.WriteString("A reorder must list every current task id exactly once.\n")
	b.WriteString("New task ids must start with the tmp- prefix.\n\n")
	b.WriteString("Current tasks:\n")
	b.Write(current)
	b.WriteString("\n\nUser command:\n")
	b.WriteString(command)
	return b.String(), nil
}
