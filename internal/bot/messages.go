package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/tuvi/internal/analysis"
	"github.com/mohammad-safakhou/tuvi/internal/chart"
	"github.com/mohammad-safakhou/tuvi/internal/metrics"
	"github.com/mohammad-safakhou/tuvi/internal/store"
)

// Choice tokens understood by SubmitChoice besides slot and sex tokens.
const (
	TokenAnalyze      = "analyze"
	TokenDetailPrefix = "detail:"
)

const (
	msgWelcome = "🔮 Chào mừng bạn đến với Bot Tử Vi!\n\n" +
		"Vui lòng nhập ngày sinh dương lịch của bạn theo định dạng DD/MM/YYYY (ví dụ: 15/08/1990)."
	msgHelp = "🔮 HƯỚNG DẪN SỬ DỤNG BOT TỬ VI 🔮\n\n" +
		"• /start - Bắt đầu lập lá số tử vi\n" +
		"• /cancel - Hủy thao tác hiện tại\n" +
		"• /history - Xem các lá số đã tạo\n" +
		"• /help - Hiển thị hướng dẫn này\n\n" +
		"✨ Quy trình sử dụng:\n" +
		"1. Nhập ngày tháng năm sinh (DD/MM/YYYY)\n" +
		"2. Chọn giờ sinh (theo 12 con giáp)\n" +
		"3. Chọn giới tính\n" +
		"4. Đợi bot lập lá số tử vi\n" +
		"5. Chọn 'Phân tích lá số' để nhận luận giải chi tiết"
	msgCancelled      = "❌ Đã hủy thao tác.\n\nGõ /start để bắt đầu lại hoặc /help để xem hướng dẫn."
	msgNoSession      = "Vui lòng gõ /start để bắt đầu lập lá số."
	msgInFlight       = "⏳ Lá số của bạn đang được tạo, vui lòng đợi trong giây lát."
	msgBadFormat      = "❌ Định dạng ngày không hợp lệ. Vui lòng nhập theo dạng DD/MM/YYYY (ví dụ: 15/08/1990)."
	msgOutOfRange     = "❌ Ngày sinh không hợp lệ. Ngày 1-31, tháng 1-12, năm 1900-2100 và ngày phải tồn tại trong tháng."
	msgBadSelection   = "❌ Lựa chọn không hợp lệ, vui lòng chọn lại."
	msgChooseSex      = "Vui lòng chọn giới tính: Nam (male) hoặc Nữ (female)."
	msgNoChart        = "Bạn chưa có lá số nào. Gõ /start để lập lá số."
	msgNeedAnalysis   = "Vui lòng phân tích lá số trước khi xem chi tiết từng cung."
	msgAnalyzing      = "🔍 Đang phân tích lá số, quá trình này có thể mất một lúc..."
	msgCannotAnalyze  = "Không thể phân tích lá số này vì không có hình ảnh."
	msgChartMissing   = "Không tìm thấy lá số này."
	msgChartDeleted   = "🗑 Đã xóa lá số."
	msgHistoryOff     = "Chức năng lịch sử hiện không khả dụng."
	msgForbidden      = "⛔ Bạn không có quyền xem thống kê."
	msgApology        = "😔 Đã xảy ra lỗi ngoài ý muốn. Vui lòng thử lại hoặc gõ /cancel để bắt đầu lại."
	msgAnalyzePrompt  = "Chọn 'Phân tích lá số' (" + TokenAnalyze + ") để nhận luận giải chi tiết."
	msgPlaceholder    = "⚠️ Không thể tạo lá số từ trang lập lá số. Hình ảnh dưới đây ghi lại thông tin bạn đã nhập và lỗi gặp phải."
	msgRawPage        = "⚠️ Trang kết quả không chứa hình lá số, đây là bản chụp trang kết quả."
	msgDeliverFailure = "😔 Không thể gửi lá số. Vui lòng thử lại sau."
)

func slotPrompt(d chart.BirthDate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📅 Ngày sinh: %s\n\nVui lòng chọn giờ sinh:\n", d)
	for _, s := range chart.Slots() {
		fmt.Fprintf(&b, "• %s (%s)\n", s.Display(), s.Token())
	}
	return strings.TrimRight(b.String(), "\n")
}

func chartCaption(fp chart.Fingerprint, cached bool) string {
	head := "🔮 LÁ SỐ TỬ VI"
	if cached {
		head += " (đã tạo trước đó)"
	}
	return head + "\n\n" + fp.Describe()
}

func sectionMenu(r analysis.Result) string {
	var b strings.Builder
	b.WriteString("Xem chi tiết từng cung:\n")
	for _, k := range r.Present() {
		if k == analysis.Overview {
			continue
		}
		fmt.Fprintf(&b, "• %s (%s%s)\n", k.Title(), TokenDetailPrefix, k)
	}
	return strings.TrimRight(b.String(), "\n")
}

func historyText(recs []store.ChartRecord, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📚 Lá số của bạn (%d lá số, hiển thị %d gần nhất):\n\n", total, len(recs))
	for _, r := range recs {
		fmt.Fprintf(&b, "#%d • %02d/%02d/%04d • giờ %s • %s • %s\n",
			r.ID, r.Day, r.Month, r.Year, r.BirthTime, r.Gender, r.CreatedAt.Format("02/01/2006 15:04"))
	}
	b.WriteString("\nGửi mã lá số để xem lại hoặc xóa.")
	return b.String()
}

// statsText renders the admin report. users < 0 means the count is unknown.
func statsText(s metrics.Snapshot, sessions, users int) string {
	text := fmt.Sprintf("📊 THỐNG KÊ BOT\n\n"+
		"⏱ Thời gian hoạt động: %s\n"+
		"🆕 Lá số mới: %d\n"+
		"♻️ Lá số dùng lại: %d\n"+
		"🔍 Lượt phân tích: %d\n"+
		"⚠️ Lỗi: %d\n"+
		"👥 Phiên đang mở: %d",
		s.Uptime.Round(time.Second), s.ChartsCreated, s.ChartsReused, s.AnalysesPerformed, s.Errors, sessions)
	if users >= 0 {
		text += fmt.Sprintf("\n👤 Người dùng: %d", users)
	}
	return text
}
