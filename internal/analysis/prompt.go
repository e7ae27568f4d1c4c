package analysis

import (
	"fmt"
	"strings"
)

const persona = `Bạn là một nhà chiêm tinh học chuyên nghiệp với kiến thức sâu rộng về tử vi Việt Nam.
Hãy phân tích lá số tử vi trong hình ảnh được cung cấp và đưa ra những nhận định chính xác, chi tiết.
Hãy viết bằng tiếng Việt, thân thiện và dễ hiểu.`

func systemPrompt(mode Mode) string {
	if mode == ModeFreeText {
		return persona + `
Phân tích nên bao gồm:
1. Tổng quan về mệnh cục
2. Các sao chính và vị trí của chúng
3. Các cung quan trọng (Mệnh, Tài, Quan, Phu/Thê)
4. Điểm mạnh, điểm yếu và lời khuyên`
	}

	keys := make([]string, 0, len(Sections))
	for _, k := range Sections {
		keys = append(keys, fmt.Sprintf("%q (%s)", k, k.Title()))
	}
	return persona + `
Chỉ trả lời bằng một đối tượng JSON duy nhất, không kèm văn bản khác.
Mỗi khóa là một phần phân tích, giá trị là đoạn văn bản thuần (không dùng HTML).
Các khóa hợp lệ: ` + strings.Join(keys, ", ") + "."
}

func userPrompt(s Subject) string {
	return fmt.Sprintf(`Thông tin cá nhân:
- Ngày sinh: %s
- Giờ sinh: %s
- Giới tính: %s

Hình ảnh đính kèm là lá số tử vi. Hãy phân tích lá số này một cách chi tiết.`, s.Date, s.Slot, s.Sex)
}
