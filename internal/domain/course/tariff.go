// Package course описывает контент курса и правила доступа к нему.
//
// Пакет определяет:
//
//   - Tariff: тарифы в порядке возрастания (basic, standard, premium, transition)
//   - Catalog: статический каталог модулей и тарифов
//   - Registry: разрешение кодов доступа и список доступных модулей тарифа
//
// Доступ к модулю никогда не кэшируется: каждый вызов IsUnlocked
// смотрит в текущий тариф пользователя.
package course

import (
	"strings"

	"github.com/alem-hub/course-bot/internal/domain/shared"
)

// Tariff - тарифный план пользователя.
type Tariff string

const (
	TariffBasic      Tariff = "basic"
	TariffStandard   Tariff = "standard"
	TariffPremium    Tariff = "premium"
	TariffTransition Tariff = "transition"
)

// AllTariffs возвращает тарифы в каноническом порядке.
// Этот порядок определяет выбор при совпадении кода в нескольких тарифах.
func AllTariffs() []Tariff {
	return []Tariff{TariffBasic, TariffStandard, TariffPremium, TariffTransition}
}

// IsValid проверяет, что тариф известен.
func (t Tariff) IsValid() bool {
	return t.Rank() >= 0
}

// Rank возвращает позицию тарифа в каноническом порядке, -1 для неизвестного.
func (t Tariff) Rank() int {
	for i, known := range AllTariffs() {
		if known == t {
			return i
		}
	}
	return -1
}

// String returns the string representation.
func (t Tariff) String() string {
	return string(t)
}

// ParseTariff разбирает тариф без учёта регистра.
func ParseTariff(s string) (Tariff, error) {
	t := Tariff(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", shared.ErrUnknownTariff
	}
	return t, nil
}
