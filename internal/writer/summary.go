package writer

import (
	"context"
	"fmt"
	"strings"

	"github.com/vampirenirmal/storyfactory/internal/agent"
)

// SummaryResult is a condensed chapter record plus the token cost of
// producing it. Zero tokens means the deterministic fallback was used.
type SummaryResult struct {
	Summary      string
	InputTokens  int
	OutputTokens int
	Model        string
}

const summarySystemPrompt = "Bạn là biên tập viên tiểu thuyết. Tóm tắt chương truyện thành 3-5 câu, " +
	"nêu rõ sự kiện chính, nhân vật liên quan và thay đổi trạng thái quan trọng. Chỉ trả về phần tóm tắt."

// SummarizeChapter condenses a chapter body for later context loading. When
// the generator fails, it falls back to the opening sentences of the chapter
// so the pipeline never stalls on a summary.
func (w *Writer) SummarizeChapter(ctx context.Context, draft *Draft, model string) *SummaryResult {
	userMsg := fmt.Sprintf("Chương %d: %s\n\n%s", draft.ChapterNumber, draft.Title, draft.Body)

	gen, err := w.gen.Generate(ctx, summarySystemPrompt, userMsg, agent.Params{
		Model:     model,
		MaxTokens: 512,
	})
	if err != nil || strings.TrimSpace(gen.Text) == "" {
		w.logger.Warn("summary generation failed, using fallback",
			"chapter", draft.ChapterNumber, "error", err)
		return w.ExtractiveSummary(draft)
	}

	return &SummaryResult{
		Summary:      strings.TrimSpace(gen.Text),
		InputTokens:  gen.InputTokens,
		OutputTokens: gen.OutputTokens,
		Model:        gen.Model,
	}
}

// ExtractiveSummary builds a zero-cost summary from the chapter opening.
// Callers use it when the generator is unavailable or the budget disallows
// one more call.
func (w *Writer) ExtractiveSummary(draft *Draft) *SummaryResult {
	return &SummaryResult{Summary: fallbackSummary(draft.Body)}
}

// fallbackSummary takes the first few sentences of the body, capped at 500
// characters.
func fallbackSummary(body string) string {
	body = strings.TrimSpace(body)
	const maxChars = 500

	var b strings.Builder
	sentences := 0
	for _, r := range body {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			sentences++
			if sentences >= 4 {
				break
			}
		}
		if b.Len() >= maxChars {
			break
		}
	}
	return strings.TrimSpace(b.String())
}
