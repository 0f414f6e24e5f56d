// Package feedback runs SMS feedback conversations until the model decides the feedback
// is clear, then stores a one-line summary.
package feedback

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ticketsmith/pkg/agent/llm"
	"ticketsmith/pkg/config"
	"ticketsmith/pkg/conversation"
	"ticketsmith/pkg/logx"
	"ticketsmith/pkg/metrics"
	"ticketsmith/pkg/persistence"
)

// RecordWriter stores finalized feedback.
type RecordWriter interface {
	InsertFeedback(rec *persistence.FeedbackRecord) error
}

// Notifier announces new feedback. Optional.
type Notifier interface {
	Send(ctx context.Context, message string) error
}

// Reply is what the transport sends back to the sender.
type Reply struct {
	Text      string `json:"text"`
	Summary   string `json:"summary,omitempty"`
	RecordID  string `json:"record_id,omitempty"`
	Finalized bool   `json:"finalized"`
}

// PersistenceError reports a finalized conversation whose record could not be written.
// The user has already been acknowledged, so the summary must be reconciled by hand.
type PersistenceError struct {
	Err      error
	Identity string
	Summary  string
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("feedback from %s not persisted (summary %q): %v", e.Identity, e.Summary, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Engine handles inbound messages.
type Engine struct {
	client      llm.LLMClient
	store       conversation.Store
	records     RecordWriter
	notifier    Notifier
	metrics     *metrics.Lifecycle
	logger      *logx.Logger
	now         func() time.Time
	maxTokens   int
	temperature float32
}

// NewEngine wires an engine. notifier may be nil.
func NewEngine(client llm.LLMClient, store conversation.Store, records RecordWriter, notifier Notifier) *Engine {
	return &Engine{
		client:      client,
		store:       store,
		records:     records,
		notifier:    notifier,
		logger:      logx.NewLogger("feedback"),
		now:         time.Now,
		maxTokens:   config.DefaultFeedbackMaxTokens,
		temperature: llm.TemperatureDefault,
	}
}

// WithTemperature overrides the sampling temperature.
func (e *Engine) WithTemperature(t float32) *Engine {
	e.temperature = t
	return e
}

// WithMetrics counts finalized feedback on m.
func (e *Engine) WithMetrics(m *metrics.Lifecycle) *Engine {
	e.metrics = m
	return e
}

// HandleInbound processes one message from identity and returns the reply to send.
// A non-nil error never means "do not reply": Reply.Text is always set.
func (e *Engine) HandleInbound(ctx context.Context, identity, text string) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{Text: ReplyHelp}, nil
	}

	sess, err := e.store.Acquire(ctx, identity)
	if err != nil {
		return Reply{Text: ReplyRetry}, fmt.Errorf("acquire conversation: %w", err)
	}

	sess.Append(conversation.RoleUser, text)
	req := llm.NewCompletionRequest(buildMessages(sess.History()))
	req.MaxTokens = e.maxTokens
	req.Temperature = e.temperature

	resp, err := e.client.Complete(ctx, req)
	raw := strings.TrimSpace(resp.Content)
	if err != nil || raw == "" {
		// Leave history as it was so the next message resumes the conversation.
		sess.Discard()
		if err != nil {
			e.logger.Warn("⚠️ Inference failed for %s: %v", identity, err)
		} else {
			e.logger.Warn("⚠️ Empty model reply for %s", identity)
		}
		return Reply{Text: ReplyRetry}, nil
	}

	sess.Append(conversation.RoleAssistant, raw)
	visible, summary, found := ParseSentinel(raw)

	if !found || summary == "" {
		if visible == "" {
			visible = ReplyFallback
		}
		if err := sess.Release(); err != nil {
			e.logger.Warn("⚠️ Conversation for %s not saved: %v", identity, err)
			return Reply{Text: visible}, fmt.Errorf("save conversation: %w", err)
		}
		return Reply{Text: visible}, nil
	}

	return e.finalize(ctx, sess, summary)
}

// finalize stores the summary and clears the conversation. The acknowledgement is
// returned even when storage fails.
func (e *Engine) finalize(ctx context.Context, sess *conversation.Session, summary string) (Reply, error) {
	identity := sess.Identity()
	rec := &persistence.FeedbackRecord{
		Identity:   identity,
		Summary:    summary,
		Transcript: FormatTranscript(sess.History()),
		CreatedAt:  e.now(),
	}
	reply := Reply{Text: ReplyAcknowledged, Summary: summary, Finalized: true}

	writeErr := e.records.InsertFeedback(rec)

	sess.Clear()
	if err := sess.Release(); err != nil {
		e.logger.Warn("⚠️ Failed to clear conversation for %s: %v", identity, err)
	}

	if writeErr != nil {
		e.logger.Error("❌ Feedback NOT persisted: identity=%s summary=%q transcript=%q err=%v",
			identity, summary, rec.Transcript, writeErr)
		return reply, &PersistenceError{Identity: identity, Summary: summary, Err: writeErr}
	}

	reply.RecordID = rec.ID
	e.metrics.FeedbackFinalized()
	e.logger.Info("📝 Feedback recorded from %s: %s", identity, summary)

	if e.notifier != nil {
		go func(ctx context.Context) {
			if err := e.notifier.Send(ctx, "New feedback: "+summary); err != nil {
				e.logger.Warn("notification failed: %v", err)
			}
		}(context.WithoutCancel(ctx))
	}
	return reply, nil
}

// ParseSentinel splits a model reply into the user-visible text and the summary.
// The visible text is everything before the sentinel; the summary is the rest of the
// sentinel's line. Anything after that line is dropped.
func ParseSentinel(text string) (visible, summary string, found bool) {
	idx := strings.Index(text, Sentinel)
	if idx < 0 {
		return strings.TrimSpace(text), "", false
	}
	visible = strings.TrimSpace(text[:idx])
	rest := text[idx+len(Sentinel):]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[:nl]
	}
	return visible, strings.TrimSpace(rest), true
}

// FormatTranscript renders turns as "role: content" lines.
func FormatTranscript(turns []conversation.Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Content)
	}
	return b.String()
}

func buildMessages(history []conversation.Turn) []llm.CompletionMessage {
	messages := make([]llm.CompletionMessage, 0, len(history)+1)
	messages = append(messages, llm.NewSystemMessage(systemPrompt))
	for _, t := range history {
		if t.Role == conversation.RoleAssistant {
			messages = append(messages, llm.NewAssistantMessage(t.Content))
		} else {
			messages = append(messages, llm.NewUserMessage(t.Content))
		}
	}
	return messages
}

