package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/hoist/internal/models"
)

// Diagnosis is the model's explanation of a failed run.
type Diagnosis struct {
	Summary     string   `json:"summary"`
	LikelyCause string   `json:"likely_cause"`
	NextSteps   []string `json:"next_steps"`
}

// DiagnoseInput is what the model gets to see about a run.
type DiagnoseInput struct {
	Run     *models.Run
	Stages  []*models.StageResult
	LogTail string
}

// Client wraps the Anthropic API for run diagnosis.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

const diagnoseSystem = `You diagnose failed deployments of a tool that syncs a git repository, provisions a Linux host over SSH with Docker, Docker Compose and Nginx, copies the working tree, starts the app with docker-compose or docker build/run, configures Nginx as a reverse proxy on port 80 and checks that http://localhost:80 returns HTTP 200.

Return ONLY a JSON object with these fields:
- "summary": one sentence describing what failed
- "likely_cause": the most probable root cause, referring to concrete log lines when possible
- "next_steps": an array of 2-5 short, concrete actions the operator should take, in order

Rules:
- Base the answer on the stage results and log lines given; do not invent output
- Prefer commands the operator can run on the host (docker logs, nginx -t, journalctl) when useful
- Return valid JSON only, no markdown fencing or explanation`

// buildDiagnosePrompt constructs the system and user prompts for a run.
func buildDiagnosePrompt(in DiagnoseInput) (system string, user string) {
	var sb strings.Builder
	r := in.Run
	fmt.Fprintf(&sb, "Run %s\n", r.ID)
	fmt.Fprintf(&sb, "Repository: %s (branch %s)\n", r.RepoURL, r.Branch)
	fmt.Fprintf(&sb, "Target: %s@%s, app %s on port %d\n", r.SSHUser, r.Host, r.AppName, r.AppPort)
	if r.Method != "" {
		fmt.Fprintf(&sb, "Method: %s\n", r.Method)
	}
	fmt.Fprintf(&sb, "Status: %s\n", r.Status)
	if r.FailedStage != "" {
		fmt.Fprintf(&sb, "Failed stage: %s\n", r.FailedStage)
	}
	if r.Error != "" {
		fmt.Fprintf(&sb, "Error: %s\n", r.Error)
	}

	if len(in.Stages) > 0 {
		sb.WriteString("\nStages:\n")
		for _, s := range in.Stages {
			fmt.Fprintf(&sb, "- %s: %s", s.Stage, s.Status)
			if s.Detail != "" {
				fmt.Fprintf(&sb, " (%s)", s.Detail)
			}
			sb.WriteString("\n")
		}
	}

	if tail := strings.TrimSpace(in.LogTail); tail != "" {
		sb.WriteString("\nLast log lines:\n")
		sb.WriteString(tail)
		sb.WriteString("\n")
	}
	return diagnoseSystem, sb.String()
}

// Diagnose asks the model why the run failed.
func (c *Client) Diagnose(ctx context.Context, in DiagnoseInput) (*Diagnosis, error) {
	if in.Run == nil {
		return nil, fmt.Errorf("diagnose: no run")
	}
	systemPrompt, userPrompt := buildDiagnosePrompt(in)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	return parseDiagnosis(text)
}

func parseDiagnosis(text string) (*Diagnosis, error) {
	text = stripFence(text)
	if text == "" {
		return nil, fmt.Errorf("no text content in API response")
	}

	var d Diagnosis
	if err := json.Unmarshal([]byte(text), &d); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}
	if d.Summary == "" {
		return nil, fmt.Errorf("LLM response has no summary")
	}
	return &d, nil
}

// stripFence removes a surrounding markdown code fence.
func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		if _, rest, ok := strings.Cut(text, "\n"); ok {
			text = rest
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}
