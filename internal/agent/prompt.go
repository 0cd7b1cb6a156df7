package agent

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
	"time"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// PromptData holds the per-turn values of the system prompt.
type PromptData struct {
	Now      time.Time
	Currency string
	Tools    []string
	TenantID int64
}

// PromptBuilder renders the system prompt.
type PromptBuilder struct {
	tmpl *template.Template
}

// NewPromptBuilder parses the embedded prompt template.
func NewPromptBuilder() (*PromptBuilder, error) {
	funcMap := template.FuncMap{
		"join": strings.Join,
	}
	tmpl, err := template.New("system_prompt.tmpl").Funcs(funcMap).ParseFS(templateFS, "templates/system_prompt.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse template system_prompt: %w", err)
	}
	return &PromptBuilder{tmpl: tmpl}, nil
}

// Build renders the system prompt. Now must already be in the reference zone.
func (pb *PromptBuilder) Build(data PromptData) (string, error) {
	view := struct {
		Today    string
		Now      string
		Greeting string
		Currency string
		Tools    []string
		TenantID int64
	}{
		Today:    data.Now.Format("2006-01-02"),
		Now:      data.Now.Format(time.RFC3339),
		Greeting: greeting(data.Now.Hour()),
		Currency: data.Currency,
		Tools:    data.Tools,
		TenantID: data.TenantID,
	}

	var buf bytes.Buffer
	if err := pb.tmpl.ExecuteTemplate(&buf, "system_prompt.tmpl", view); err != nil {
		return "", fmt.Errorf("failed to execute system_prompt template: %w", err)
	}
	return buf.String(), nil
}

func greeting(hour int) string {
	switch {
	case hour >= 5 && hour <= 11:
		return "Good morning!"
	case hour >= 12 && hour <= 16:
		return "Good afternoon!"
	case hour >= 17 && hour <= 21:
		return "Good evening!"
	default:
		return "Hello!"
	}
}
