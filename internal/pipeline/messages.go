package pipeline

import (
	"fmt"
	"strings"
)

// Client-facing answers. Nothing else about a failure reaches the user.
const (
	MsgRefused           = "درخواست نامعتبر است."
	MsgNoDataSource      = "عدم امکان اتصال به پایگاه داده."
	MsgFailure           = "خطا در اجرای درخواست"
	MsgSuggestionNoData  = "متأسفانه برای این پیشنهاد داده‌ای یافت نشد."
	MsgSuggestionsHeader = "در پایگاه داده این ها را نیز یافتیم، ممکن است مفید باشد و یا بخواید سوال خود را دقیق کنید"
	MsgNoResults         = "هیچ رکوردی پیدا نشد.\n" +
		"پیشنهاد‌ها:\n" +
		"۱- بازه زمانی را تغییر دهید\n" +
		"۲- فیلتر‌های موجود را ویرایش/حذف کنید\n" +
		"۳- ممکن است اشتباه تایپی داشته باشید\n" +
		"\n" +
		"یک سوال نمونه:\n" +
		"۱۰ کالای با ارزش دلاری بالا که از امارات در ماه فروردین ۴۰۴ چه کالاهایی وارد شده‌اند؟"
)

// Confirmation names the value substituted for the user's literal.
func Confirmation(option string) string {
	return fmt.Sprintf("آیا منظور شما %s بود؟", option)
}

// OptionList renders several suggestions for the user to choose from.
func OptionList(options []string) string {
	var b strings.Builder
	b.WriteString(MsgSuggestionsHeader)
	for _, o := range options {
		b.WriteString("\n- ")
		b.WriteString(o)
	}
	return b.String()
}
