package chattemplate

import (
	"fmt"
	"strings"
)

// Template is a compiled, family-scoped chat template.
type Template struct {
	Family        string
	StopTokens    []string
	SystemSupport bool
	nodes         []node
}

// Render produces a prompt string from messages, a slice of
// map[string]any{"role": ..., "content": ...} records, matching the shape
// adapters build their normalized Message list into before rendering.
func (t *Template) Render(messages []map[string]any) (string, error) {
	msgs := make([]any, len(messages))
	for i, m := range messages {
		msgs[i] = m
	}
	root := &scope{vars: map[string]any{"messages": msgs}}
	var sb strings.Builder
	if err := render(t.nodes, root, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Engine holds compiled templates keyed by model family, with a default
// fallback for unrecognized families per spec §4.G.
type Engine struct {
	templates map[string]*Template
	defaultFn func() *Template
}

// New creates an Engine pre-loaded with the built-in family templates.
func New() *Engine {
	e := &Engine{templates: make(map[string]*Template)}
	for _, b := range builtinTemplates() {
		if err := e.Register(b.family, b.source, b.stopTokens, b.systemSupport); err != nil {
			// built-in templates are constants authored against this
			// engine's own grammar; a failure here is a programming error.
			panic(fmt.Sprintf("chattemplate: built-in template %q failed to compile: %v", b.family, err))
		}
	}
	e.defaultFn = func() *Template {
		t, _ := e.compile("default", "{% for m in messages %}{{ m.role }}: {{ m.content }}\n{% endfor %}", nil, true)
		return t
	}
	return e
}

// Register compiles and stores a template for family. Grammar violations
// are rejected here, at registration time, never at render time.
func (e *Engine) Register(family, source string, stopTokens []string, systemSupport bool) error {
	t, err := e.compile(family, source, stopTokens, systemSupport)
	if err != nil {
		return err
	}
	e.templates[family] = t
	return nil
}

func (e *Engine) compile(family, source string, stopTokens []string, systemSupport bool) (*Template, error) {
	nodes, err := parse(source)
	if err != nil {
		return nil, fmt.Errorf("chattemplate: registering %q: %w", family, err)
	}
	return &Template{Family: family, StopTokens: stopTokens, SystemSupport: systemSupport, nodes: nodes}, nil
}

// Lookup returns the template for family, or the default fallback template
// if family is unrecognized.
func (e *Engine) Lookup(family string) *Template {
	if t, ok := e.templates[family]; ok {
		return t
	}
	return e.defaultFn()
}

// DetectFamily infers a chat-template family from a model id, matching the
// families spec §4.E names as requiring template delegation (Llama,
// Mistral, Qwen, Phi, Gemma, SmolLM3, Claude). Providers whose wire API
// already accepts a structured message list (OpenAI, Gemini, Bedrock's
// Converse API) never call through here — only adapters that must submit a
// single rendered prompt string need template detection.
func DetectFamily(modelID string) string {
	id := strings.ToLower(modelID)
	switch {
	case strings.Contains(id, "claude"):
		return "claude"
	case strings.Contains(id, "llama"):
		return "llama"
	case strings.Contains(id, "mistral") || strings.Contains(id, "mixtral"):
		return "mistral"
	case strings.Contains(id, "qwen"):
		return "qwen"
	case strings.Contains(id, "phi"):
		return "phi"
	case strings.Contains(id, "gemma"):
		return "gemma"
	case strings.Contains(id, "smollm"):
		return "smollm3"
	default:
		return "default"
	}
}
