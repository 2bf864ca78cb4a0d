package summary

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/tmc/langchaingo/llms"

	"study-rag/internal/models"
)

type stubCompleter struct {
	reply  string
	err    error
	system string
	prompt string
	opts   llms.CallOptions
}

func (s *stubCompleter) Complete(_ context.Context, system, prompt string, opts ...llms.CallOption) (string, error) {
	s.system, s.prompt = system, prompt
	for _, o := range opts {
		o(&s.opts)
	}
	return s.reply, s.err
}

func TestSummarize(t *testing.T) {
	stub := &stubCompleter{reply: "Cells and organelles."}
	svc := New(stub, 100)

	text := strings.Repeat("ж", 250)
	got, err := svc.Summarize(context.Background(), text)
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if got != "Cells and organelles." {
		t.Errorf("Summarize() = %q", got)
	}
	if stub.system != models.SummarySystemPrompt {
		t.Errorf("system prompt = %q", stub.system)
	}
	if n := utf8.RuneCountInString(stub.prompt) - utf8.RuneCountInString(strings.Replace(models.SummaryPromptTemplate, "%s", "", 1)); n != 100 {
		t.Errorf("document text in prompt has %d characters, want 100", n)
	}
	if stub.opts.Temperature != 0.5 {
		t.Errorf("temperature = %v, want 0.5", stub.opts.Temperature)
	}
}

func TestSummarize_Errors(t *testing.T) {
	svc := New(&stubCompleter{err: errors.New("timeout")}, 0)
	if svc.maxChars != DefaultMaxChars {
		t.Errorf("maxChars = %d, want %d", svc.maxChars, DefaultMaxChars)
	}
	if _, err := svc.Summarize(context.Background(), "text"); err == nil {
		t.Error("Summarize() should return the llm error")
	}
	if _, err := svc.Summarize(context.Background(), "  "); !errors.Is(err, models.ErrEmptyDocument) {
		t.Errorf("Summarize(blank) error = %v, want ErrEmptyDocument", err)
	}
}
