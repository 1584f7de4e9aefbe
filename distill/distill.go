// Package distill turns raw agent trajectories into memory bank lessons.
//
// A Distiller sends the trajectory to an LLM with an extraction prompt and
// parses the structured lessons out of the reply. The Bridge composes a
// Distiller with a bank, ingesting every valid lesson from a finished task.
package distill

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reasonbank/bank"
)

// LLMClient abstracts the chat completion call the distiller depends on.
type LLMClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Prompts holds the distillation prompt templates. User templates may use the
// {task}, {domain}, {outcome} and {trajectory} placeholders.
type Prompts struct {
	System  string
	Success string
	Failure string
}

// DefaultPrompts returns the built-in extraction prompts.
func DefaultPrompts() Prompts {
	return Prompts{
		System: "You are an expert at analyzing web agent trajectories and " +
			"extracting generalizable lessons. Reply with a JSON array of " +
			"objects, each with \"title\", \"description\" and \"content\" " +
			"string fields. Reply with the JSON array only.",
		Success: "The agent completed the following task successfully.\n\n" +
			"Task: {task}\nDomain: {domain}\nOutcome: {outcome}\n\n" +
			"Trajectory:\n{trajectory}\n\n" +
			"Extract the key strategies that made this attempt succeed, " +
			"phrased so they transfer to similar future tasks.",
		Failure: "The agent failed the following task.\n\n" +
			"Task: {task}\nDomain: {domain}\nOutcome: {outcome}\n\n" +
			"Trajectory:\n{trajectory}\n\n" +
			"Extract the pitfalls that caused this attempt to fail and how " +
			"to avoid them, phrased so they transfer to similar future tasks.",
	}
}

// Distiller extracts lessons from trajectories through an LLM.
type Distiller struct {
	client  LLMClient
	prompts Prompts
	logger  *zap.Logger
}

// DistillerOption configures a Distiller.
type DistillerOption func(*Distiller)

// WithPrompts overrides the default prompt templates.
func WithPrompts(p Prompts) DistillerOption {
	return func(d *Distiller) { d.prompts = p }
}

// WithLogger sets the distiller's logger.
func WithLogger(l *zap.Logger) DistillerOption {
	return func(d *Distiller) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDistiller creates a distiller on top of the given LLM client.
func NewDistiller(client LLMClient, opts ...DistillerOption) *Distiller {
	d := &Distiller{
		client:  client,
		prompts: DefaultPrompts(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Distill sends the trajectory through the LLM and returns every valid
// lesson it extracted. Distillation never fails the caller: a provider
// error or an unparseable reply degrades to an empty slice with a warning,
// and lessons with missing fields are dropped individually.
func (d *Distiller) Distill(ctx context.Context, task, domain, trajectory string, outcome bank.Outcome) []bank.Lesson {
	template := d.prompts.Success
	if outcome == bank.OutcomeFailure {
		template = d.prompts.Failure
	}

	userPrompt := renderTemplate(template, map[string]string{
		"task":       task,
		"domain":     domain,
		"outcome":    string(outcome),
		"trajectory": trajectory,
	})

	reply, err := d.client.Complete(ctx, d.prompts.System, userPrompt)
	if err != nil {
		d.logger.Warn("distillation provider failed, no lessons extracted",
			zap.String("task", task),
			zap.Error(err))
		return []bank.Lesson{}
	}

	lessons, err := parseLessons(reply)
	if err != nil {
		d.logger.Warn("distillation reply unparseable, no lessons extracted",
			zap.String("task", task),
			zap.Error(err))
		return []bank.Lesson{}
	}

	valid := lessons[:0]
	for _, l := range lessons {
		if err := l.Validate(); err != nil {
			d.logger.Warn("dropping incomplete lesson",
				zap.String("title", l.Title),
				zap.Error(err))
			continue
		}
		valid = append(valid, l)
	}
	return valid
}

func renderTemplate(template string, vars map[string]string) string {
	out := template
	for key, val := range vars {
		out = strings.ReplaceAll(out, "{"+key+"}", val)
	}
	return out
}

// parseLessons decodes a JSON array of lessons, tolerating a surrounding
// markdown code fence.
func parseLessons(reply string) ([]bank.Lesson, error) {
	text := stripFence(strings.TrimSpace(reply))

	var lessons []bank.Lesson
	if err := json.Unmarshal([]byte(text), &lessons); err != nil {
		// Some models wrap the array in a single object.
		var single bank.Lesson
		if objErr := json.Unmarshal([]byte(text), &single); objErr == nil {
			return []bank.Lesson{single}, nil
		}
		return nil, err
	}
	return lessons, nil
}

func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimPrefix(text, "json")
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}
