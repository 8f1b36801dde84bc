// Package timeutil - отображение времени для студентов и куратора.
// Курс идёт по времени Алматы (UTC+5, без перехода на летнее время);
// в хранилищах время остаётся в UTC.
package timeutil

import (
	"fmt"
	"time"
)

// AlmatyTZ - зона отображения по умолчанию.
var AlmatyTZ = time.FixedZone("Asia/Almaty", 5*60*60)

const (
	stampLayout = "2006-01-02 15:04"
	dateLayout  = "02.01.2006"
)

// Local переводит момент в зону отображения.
func Local(t time.Time) time.Time {
	return t.In(AlmatyTZ)
}

// FormatStamp - "2006-01-02 15:04" по Алматы (список решений ДЗ).
func FormatStamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return Local(t).Format(stampLayout)
}

// FormatDate - "02.01.2006" по Алматы.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return Local(t).Format(dateLayout)
}

// FormatRussian - "5 марта 2026".
func FormatRussian(t time.Time) string {
	t = Local(t)
	return fmt.Sprintf("%d %s %d", t.Day(), monthGenitive[t.Month()-1], t.Year())
}

var monthGenitive = [...]string{
	"января", "февраля", "марта", "апреля", "мая", "июня",
	"июля", "августа", "сентября", "октября", "ноября", "декабря",
}

// DaysSince - полных календарных дней по Алматы между t и now.
func DaysSince(t, now time.Time) int {
	a, b := startOfDay(Local(t)), startOfDay(Local(now))
	return int(b.Sub(a).Hours() / 24)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
