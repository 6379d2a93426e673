// Package storytest provides fixtures for pipeline tests: synthetic chapter
// text engineered to satisfy the quality heuristics, plus project and
// blueprint builders.
package storytest

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/vampirenirmal/storyfactory/internal/domain"
)

// ChapterText returns a full generated response for the chapter: the title
// line followed by a body of roughly targetWords words with a strong hook,
// dialogue, action, inner thought, reward signals, and a cliffhanger ending.
func ChapterText(chapter, targetWords int) string {
	return fmt.Sprintf("Chương %d: Cơn Gió Nổi Lên Từ Phương Bắc\n\n%s", chapter, Body(targetWords))
}

// Body returns chapter prose of roughly targetWords whitespace-separated
// words that scores well on every quality dimension.
func Body(targetWords int) string {
	var b strings.Builder

	// Opening hook: several distinct hook signals inside the first 100 words.
	b.WriteString("Đột nhiên một tiếng nổ vang lên giữa trời đêm! ")
	b.WriteString("Bỗng nhiên mặt đất rung chuyển, bụi đá bay mù mịt khắp sơn cốc. ")
	b.WriteString("Không ngờ biến cố lại đến nhanh như vậy, ai đang ở phía sau chuyện này? ")

	fillers := []string{
		"ngọn núi", "dòng sông", "ánh trăng", "cơn gió", "tàng cây",
		"vách đá", "con đường", "mái nhà", "đỉnh tháp", "khu rừng",
	}
	i := 0
	for countWords(b.String()) < targetWords-120 {
		i++
		f := fillers[i%len(fillers)]
		switch i % 6 {
		case 0:
			// Dialogue sentence.
			fmt.Fprintf(&b, "Hắn trầm giọng nói: khúc quanh thứ %d bên %s vẫn chưa có ai canh giữ cẩn thận. ", i, f)
		case 1:
			// Action sentence.
			fmt.Fprintf(&b, "Thân ảnh kia lao vút qua %s, vung kiếm chém xuống tảng đá thứ %d. ", f, i)
		case 2:
			// Inner thought.
			fmt.Fprintf(&b, "Lâm Phong thầm nghĩ chuyện ở %s lần thứ %d này quả thực không hề đơn giản chút nào. ", f, i)
		case 3:
			fmt.Fprintf(&b, "Phía xa, %s thứ %d chìm trong màn sương mỏng. ", f, i)
		case 4:
			fmt.Fprintf(&b, "Nàng khẽ hỏi: vì sao đêm nay %s lại yên tĩnh đến thế, chẳng lẽ đã có chuyện. ", f)
		default:
			fmt.Fprintf(&b, "Trận pháp cổ xưa quanh %s chậm rãi xoay chuyển, từng đạo văn tự sáng lên rồi lại tắt theo nhịp thở thứ %d của đại địa. ", f, i)
		}
		// Reward signals spread through the middle.
		if i%15 == 0 {
			fmt.Fprintf(&b, "Cả đám người kinh ngạc nhìn cảnh tượng chấn động trước mắt, đây là cơ duyên hiếm có. ")
		}
	}

	// Cliffhanger close.
	b.WriteString("Ngay lúc đó, một bóng người bước ra từ màn đêm, giọng nói vang lên lạnh lẽo. ")
	b.WriteString("Chưa kịp phản ứng, cánh cửa đá sau lưng đã từ từ khép lại. ")
	b.WriteString("Liệu bọn họ có kịp thoát ra trước khi trận pháp hoàn toàn sụp đổ…?!")

	return b.String()
}

func countWords(s string) int {
	return len(strings.Fields(s))
}

// NewProject returns an active cultivation project at chapter zero.
func NewProject() *domain.Project {
	return &domain.Project{
		ID:                   uuid.NewString(),
		NovelID:              uuid.NewString(),
		Genre:                domain.GenreCultivation,
		MainCharacter:        "Lâm Phong",
		TargetChapterLength:  2000,
		TotalPlannedChapters: 100,
		CurrentChapter:       0,
		Status:               domain.ProjectActive,
	}
}

// NewBlueprint returns a blueprint covering the project's first arc with
// per-chapter outlines for chapters 1..n.
func NewBlueprint(projectID string, chapters int) *domain.Blueprint {
	b := &domain.Blueprint{
		ProjectID:               projectID,
		Tagline:                 "Thiếu niên vô danh nghịch thiên cải mệnh",
		WorldDescription:        "Đại lụcAm Hoang, nơi cường giả vấn đỉnh cửu thiên",
		PowerSystem:             "Cửu cảnh tu tiên, mỗi cảnh chín tầng",
		MainCharacterName:       "Lâm Phong",
		MainCharacterMotivation: "Tìm lại ký ức đã mất và bảo vệ tông môn",
		Arcs: []domain.ArcOutline{{
			ArcNumber:    1,
			Title:        "Khởi Đầu Tại Thanh Vân Tông",
			StartChapter: 1,
			EndChapter:   50,
			Theme:        "trưởng thành",
			KeyEvents:    []string{"nhập môn", "đại hội luyện khí", "âm mưu trưởng lão"},
			Climax:       "đại chiến hộ sơn trận",
		}},
	}
	for i := 1; i <= chapters; i++ {
		b.Chapters = append(b.Chapters, domain.ChapterOutline{
			ChapterNumber: i,
			Title:         fmt.Sprintf("Biến cố thứ %d", i),
			Summary:       fmt.Sprintf("Lâm Phong đối mặt thử thách thứ %d tại Thanh Vân Tông", i),
			KeyPoints:     []string{"xung đột leo thang", "manh mối mới"},
			TensionTarget: 7,
			DopamineType:  "face_slap",
			Characters:    []string{"Lâm Phong", "Tô Nhược"},
		})
	}
	return b
}
