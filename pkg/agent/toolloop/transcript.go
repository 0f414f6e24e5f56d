package toolloop

import (
	"encoding/json"
	"fmt"
	"strings"

	"ticketsmith/pkg/agent/llm"
	"ticketsmith/pkg/utils"
)

// keepRecentResults is how many of the newest tool results are never compacted.
const keepRecentResults = 2

// transcript is the running conversation of one loop. Tool calls are rendered into
// assistant text and tool results are fed back as user messages, so every provider
// sees the same plain-text history.
type transcript struct {
	messages []llm.CompletionMessage
	results  []int // indices of tool-result messages, oldest first
	elided   map[int]bool
	tokens   []int
}

func newTranscript(system, prompt string) *transcript {
	t := &transcript{elided: map[int]bool{}}
	if system != "" {
		t.add(llm.NewSystemMessage(system))
	}
	t.add(llm.NewUserMessage(prompt))
	return t
}

func (t *transcript) add(msg llm.CompletionMessage) int {
	t.messages = append(t.messages, msg)
	t.tokens = append(t.tokens, utils.CountTokensSimple(msg.Content))
	return len(t.messages) - 1
}

func (t *transcript) addAssistant(content string, call *llm.ToolCall) {
	t.add(llm.NewAssistantMessage(renderAssistant(content, call)))
}

func (t *transcript) addResult(name, content string) {
	idx := t.add(llm.NewUserMessage(renderResult(name, content)))
	t.results = append(t.results, idx)
}

func (t *transcript) addNudge(text string) {
	t.add(llm.NewUserMessage(text))
}

func (t *transcript) total() int {
	sum := 0
	for _, n := range t.tokens {
		sum += n
	}
	return sum
}

// compact replaces the oldest tool results with a one-line stub until the transcript
// fits budget. The newest results stay verbatim. Returns how many were elided.
func (t *transcript) compact(budget int) int {
	if budget <= 0 {
		return 0
	}
	elided := 0
	for i := 0; i < len(t.results)-keepRecentResults && t.total() > budget; i++ {
		idx := t.results[i]
		if t.elided[idx] {
			continue
		}
		original := t.messages[idx].Content
		header, _, _ := strings.Cut(original, "\n")
		stub := fmt.Sprintf("%s\n[output elided to save context: %d bytes]", header, len(original))
		t.messages[idx].Content = stub
		t.tokens[idx] = utils.CountTokensSimple(stub)
		t.elided[idx] = true
		elided++
	}
	return elided
}

func (t *transcript) snapshot() []llm.CompletionMessage {
	out := make([]llm.CompletionMessage, len(t.messages))
	copy(out, t.messages)
	return out
}

func renderAssistant(content string, call *llm.ToolCall) string {
	content = strings.TrimSpace(content)
	if call == nil {
		return content
	}
	args, err := json.Marshal(call.Parameters)
	if err != nil {
		args = []byte("{}")
	}
	line := fmt.Sprintf("[tool call] %s %s", call.Name, args)
	if content == "" {
		return line
	}
	return content + "\n\n" + line
}

func renderResult(name, content string) string {
	return fmt.Sprintf("[tool result] %s\n%s", name, content)
}
