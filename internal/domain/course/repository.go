package course

import (
	"context"
	"time"
)

// AccessCode - код доступа из allow-list. Коды многоразовые.
type AccessCode struct {
	Code      string
	Tariff    Tariff
	CreatedAt time.Time
}

// AccessCodeRepository хранит коды доступа.
// Меняется только через админку; бот только читает.
type AccessCodeRepository interface {
	// Lookup возвращает тарифы, которым принадлежит код.
	// Пустой результат без ошибки означает, что код не найден.
	Lookup(ctx context.Context, code string) ([]Tariff, error)

	// List возвращает все коды, сгруппированные по тарифу в порядке AllTariffs.
	List(ctx context.Context) ([]AccessCode, error)

	// Add добавляет код. Возвращает ErrDuplicateAccessCode, если код уже есть
	// в любом тарифе.
	Add(ctx context.Context, code AccessCode) error

	// Delete удаляет код. Возвращает ErrAccessCodeNotFound.
	Delete(ctx context.Context, code string) error
}
