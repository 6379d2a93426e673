package loader

import "github.com/vampirenirmal/storyfactory/internal/domain"

// styleKey addresses the static hint table.
type styleKey struct {
	genre string
	scene string
}

// styleTable holds writing directives per (genre, scene type). Missing scene
// types fall back to the genre default, missing genres to the global default.
var styleTable = map[styleKey][]string{
	{"cultivation", "default"}: {
		"Dùng thuật ngữ tu luyện nhất quán với hệ thống cảnh giới đã thiết lập",
		"Miêu tả linh khí và cảm giác đột phá bằng hình ảnh cụ thể, không trừu tượng",
		"Giữ nhịp độ nhanh, mỗi cảnh phải đẩy mục tiêu tu luyện hoặc xung đột tiến lên",
	},
	{"cultivation", "breakthrough"}: {
		"Tả quá trình đột phá theo ba giai đoạn: tích tụ, bế tắc, bùng nổ",
		"Cho nhân vật trả giá rõ ràng trước khi nhận sức mạnh mới",
	},
	{"cultivation", "face_slap"}: {
		"Kẻ khinh thường phải được dựng lên vài đoạn trước khi bị đánh bại",
		"Phản ứng của đám đông chứng kiến quan trọng hơn bản thân cú đánh",
	},
	{"urban", "default"}: {
		"Bối cảnh thành thị hiện đại, chi tiết đời thường phải chính xác",
		"Hội thoại tự nhiên, tránh văn phong cổ trang",
	},
	{"wuxia", "default"}: {
		"Võ công có tên gọi và lai lịch, không xuất hiện từ hư không",
		"Ân oán giang hồ là động lực chính của mọi xung đột",
	},
	{"apocalypse", "default"}: {
		"Khan hiếm tài nguyên chi phối mọi quyết định của nhân vật",
		"Mối đe doạ phải cụ thể và leo thang dần qua từng chương",
	},
	{"fantasy", "default"}: {
		"Keep magic costs and limits consistent with the established system",
		"Ground exposition in character action, never in narrator lectures",
	},
	{"game", "default"}: {
		"System notifications appear in a consistent bracketed format",
		"Stat growth must be earned on the page, not granted off-screen",
	},
	{"romance", "default"}: {
		"Cảm xúc thể hiện qua hành động nhỏ và im lặng, không qua tuyên bố",
		"Mỗi chương tiến một bước nhỏ trong quan hệ, không nhảy cóc",
	},
}

var defaultHints = []string{
	"Mở chương bằng một móc câu trong 100 từ đầu tiên",
	"Kết chương bằng cliffhanger hoặc câu hỏi chưa trả lời",
	"Ưu tiên cảnh và hội thoại, hạn chế kể lể",
}

// StyleHints returns writing directives for the genre and scene type. The
// result always includes the global defaults.
func StyleHints(genre domain.Genre, sceneType string) []string {
	g := string(genre)

	var hints []string
	if h, ok := styleTable[styleKey{g, sceneType}]; ok {
		hints = append(hints, h...)
	}
	if sceneType != "default" {
		if h, ok := styleTable[styleKey{g, "default"}]; ok {
			hints = append(hints, h...)
		}
	}
	hints = append(hints, defaultHints...)
	return hints
}
