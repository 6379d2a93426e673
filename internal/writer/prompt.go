package writer

import (
	"fmt"
	"strings"

	"github.com/vampirenirmal/storyfactory/internal/domain"
	"github.com/vampirenirmal/storyfactory/internal/loader"
)

// systemPrompts fixes the system message per genre. Unknown genres use the
// generic prompt.
var systemPrompts = map[domain.Genre]string{
	domain.GenreCultivation: "Bạn là tác giả tiểu thuyết tu tiên chuyên nghiệp, viết truyện dài kỳ tiếng Việt. " +
		"Văn phong lôi cuốn, nhịp nhanh, giàu hình ảnh. Tuyệt đối trung thành với hệ thống cảnh giới và thiết lập thế giới đã cho.",
	domain.GenreUrban: "Bạn là tác giả tiểu thuyết đô thị chuyên nghiệp, viết truyện dài kỳ tiếng Việt. " +
		"Bối cảnh hiện đại, hội thoại tự nhiên, xung đột đời thường được đẩy cao.",
	domain.GenreWuxia: "Bạn là tác giả tiểu thuyết võ hiệp chuyên nghiệp, viết truyện dài kỳ tiếng Việt. " +
		"Giữ không khí giang hồ, ân oán phân minh, võ công có lai lịch rõ ràng.",
	domain.GenreApocalypse: "Bạn là tác giả tiểu thuyết mạt thế chuyên nghiệp, viết truyện dài kỳ tiếng Việt. " +
		"Không khí căng thẳng, tài nguyên khan hiếm, hiểm hoạ leo thang từng chương.",
	domain.GenreFantasy: "You are a professional serial fantasy novelist. " +
		"Write immersive chapters that stay strictly consistent with the established world and magic system.",
	domain.GenreGame: "You are a professional LitRPG serial novelist. " +
		"Write fast-paced chapters with consistent system mechanics and earned stat progression.",
}

const genericSystemPrompt = "Bạn là tác giả tiểu thuyết mạng chuyên nghiệp, viết truyện dài kỳ tiếng Việt. " +
	"Văn phong lôi cuốn, mỗi chương có móc câu mở đầu và kết thúc gây tò mò."

// SystemPrompt returns the fixed system message for the genre.
func SystemPrompt(genre domain.Genre) string {
	if p, ok := systemPrompts[genre]; ok {
		return p
	}
	return genericSystemPrompt
}

// BuildUserPrompt composes the deterministic user message for one chapter.
// Section order is fixed so identical bundles produce identical prompts.
func BuildUserPrompt(bundle *loader.Bundle, targetWords int) string {
	var b strings.Builder

	b.WriteString("# THÔNG TIN TRUYỆN\n")
	if bundle.Tagline != "" {
		fmt.Fprintf(&b, "Tagline: %s\n", bundle.Tagline)
	}
	if bundle.WorldDescription != "" {
		fmt.Fprintf(&b, "Thế giới: %s\n", bundle.WorldDescription)
	}
	if bundle.PowerSystem != "" {
		fmt.Fprintf(&b, "Hệ thống sức mạnh: %s\n", bundle.PowerSystem)
	}
	fmt.Fprintf(&b, "Nhân vật chính: %s\n", bundle.Project.MainCharacter)

	if len(bundle.StyleHints) > 0 {
		b.WriteString("\n# PHONG CÁCH\n")
		for _, h := range bundle.StyleHints {
			fmt.Fprintf(&b, "- %s\n", h)
		}
	}

	if bundle.Arc != nil {
		b.WriteString("\n# ARC HIỆN TẠI\n")
		fmt.Fprintf(&b, "Arc %d: %s (chương %d-%d)\n",
			bundle.Arc.ArcNumber, bundle.Arc.Title, bundle.Arc.StartChapter, bundle.Arc.EndChapter)
		if bundle.Arc.Theme != "" {
			fmt.Fprintf(&b, "Chủ đề: %s\n", bundle.Arc.Theme)
		}
		for _, ev := range bundle.Arc.KeyEvents {
			fmt.Fprintf(&b, "- %s\n", ev)
		}
	}

	if len(bundle.Summaries) > 0 {
		b.WriteString("\n# TÓM TẮT CÁC CHƯƠNG TRƯỚC\n")
		for _, s := range bundle.Summaries {
			fmt.Fprintf(&b, "Chương %d (%s): %s\n", s.ChapterNumber, s.Title, s.Summary)
		}
	}

	if len(bundle.Canon) > 0 {
		b.WriteString("\n# SỰ THẬT ĐÃ THIẾT LẬP (không được mâu thuẫn)\n")
		for _, f := range bundle.Canon {
			fmt.Fprintf(&b, "- %s | %s | %s\n", f.Subject, f.Predicate, f.Object)
		}
	}

	if len(bundle.BeatRecommendations) > 0 {
		b.WriteString("\n# GỢI Ý NHỊP TRUYỆN (ưu tiên dùng, tránh lặp lại nhịp gần đây)\n")
		for _, bt := range bundle.BeatRecommendations {
			fmt.Fprintf(&b, "- %s\n", bt)
		}
	}

	if len(bundle.Excerpts) > 0 {
		b.WriteString("\n# TRÍCH ĐOẠN LIÊN QUAN TỪ CÁC CHƯƠNG CŨ\n")
		for _, e := range bundle.Excerpts {
			fmt.Fprintf(&b, "[Chương %d] %s\n", e.ChapterNumber, e.Text)
		}
	}

	if bundle.Outline != nil {
		b.WriteString("\n# DÀN Ý CHƯƠNG NÀY\n")
		fmt.Fprintf(&b, "Tiêu đề gợi ý: %s\n", bundle.Outline.Title)
		fmt.Fprintf(&b, "Tóm tắt: %s\n", bundle.Outline.Summary)
		for _, kp := range bundle.Outline.KeyPoints {
			fmt.Fprintf(&b, "- %s\n", kp)
		}
		if len(bundle.Outline.Characters) > 0 {
			fmt.Fprintf(&b, "Nhân vật xuất hiện: %s\n", strings.Join(bundle.Outline.Characters, ", "))
		}
	}

	b.WriteString("\n# YÊU CẦU\n")
	fmt.Fprintf(&b, "Viết chương %d, khoảng %d từ.\n", bundle.ChapterNumber, targetWords)
	fmt.Fprintf(&b, "Dòng đầu tiên phải là tiêu đề theo đúng định dạng: Chương %d: <tiêu đề>\n", bundle.ChapterNumber)
	b.WriteString("Không dùng markdown, không dùng heading, không gạch đầu dòng trong thân truyện.\n")
	b.WriteString("Kết chương bằng cliffhanger.\n")

	return b.String()
}

// BuildRewritePrompt composes the revise prompt for one rewrite attempt. It
// carries the full previous draft plus the prioritised diagnostics.
func BuildRewritePrompt(bundle *loader.Bundle, previousDraft string, diagnostics []string, targetWords int) string {
	var b strings.Builder

	b.WriteString("# BẢN NHÁP CẦN VIẾT LẠI\n")
	b.WriteString(previousDraft)
	b.WriteString("\n\n# VẤN ĐỀ CẦN SỬA (theo thứ tự ưu tiên)\n")
	for i, d := range diagnostics {
		fmt.Fprintf(&b, "%d. %s\n", i+1, d)
	}

	b.WriteString("\n# RÀNG BUỘC\n")
	b.WriteString("- Giữ nguyên mạch truyện và các sự kiện chính của chương.\n")
	b.WriteString("- Không đổi tên nhân vật.\n")
	b.WriteString("- Không mâu thuẫn với các sự thật đã thiết lập.\n")

	if len(bundle.Canon) > 0 {
		b.WriteString("\n# SỰ THẬT ĐÃ THIẾT LẬP\n")
		for _, f := range bundle.Canon {
			fmt.Fprintf(&b, "- %s | %s | %s\n", f.Subject, f.Predicate, f.Object)
		}
	}
	if bundle.Outline != nil {
		b.WriteString("\n# DÀN Ý CHƯƠNG\n")
		fmt.Fprintf(&b, "%s: %s\n", bundle.Outline.Title, bundle.Outline.Summary)
	}

	b.WriteString("\n# YÊU CẦU\n")
	fmt.Fprintf(&b, "Viết lại toàn bộ chương %d, khoảng %d từ, sửa mọi vấn đề nêu trên.\n", bundle.ChapterNumber, targetWords)
	fmt.Fprintf(&b, "Dòng đầu tiên phải là tiêu đề theo đúng định dạng: Chương %d: <tiêu đề>\n", bundle.ChapterNumber)
	b.WriteString("Không dùng markdown. Kết chương bằng cliffhanger.\n")

	return b.String()
}
