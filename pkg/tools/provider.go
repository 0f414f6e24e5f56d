package tools

import (
	"fmt"
	"strings"
)

// ToolProvider is an ordered, fixed set of tools for one agent run.
type ToolProvider struct {
	tools []Tool
	index map[string]Tool
}

// NewProvider builds a provider. Duplicate names panic since they are programming errors.
func NewProvider(tools ...Tool) *ToolProvider {
	p := &ToolProvider{index: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if _, dup := p.index[t.Name()]; dup {
			panic(fmt.Sprintf("tools: duplicate tool %q", t.Name()))
		}
		p.tools = append(p.tools, t)
		p.index[t.Name()] = t
	}
	return p
}

// Get returns the named tool.
func (p *ToolProvider) Get(name string) (Tool, error) {
	t, ok := p.index[name]
	if !ok {
		return nil, fmt.Errorf("tool %s not found", name)
	}
	return t, nil
}

// Definitions returns tool definitions in registration order.
func (p *ToolProvider) Definitions() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(p.tools))
	for _, t := range p.tools {
		defs = append(defs, t.Definition())
	}
	return defs
}

// GenerateToolDocumentation renders every tool's prompt documentation.
func (p *ToolProvider) GenerateToolDocumentation() string {
	var sb strings.Builder
	sb.WriteString("## Available Tools\n\n")
	for _, t := range p.tools {
		sb.WriteString(t.PromptDocumentation())
		sb.WriteString("\n\n")
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}
