package user

import (
	"context"

	"github.com/alem-hub/course-bot/internal/domain/course"
	"github.com/alem-hub/course-bot/internal/domain/shared"
)

// Repository хранит учётные записи.
type Repository interface {
	// Get возвращает запись или (nil, nil), если пользователя нет.
	// Отсутствие пользователя не является ошибкой.
	Get(ctx context.Context, id shared.UserID) (*Account, error)

	// Create создаёт запись. Возвращает ErrUserAlreadyExists при коллизии id.
	Create(ctx context.Context, account *Account) error

	// SetTariff меняет тариф. applied=false, если пользователя нет.
	SetTariff(ctx context.Context, id shared.UserID, tariff course.Tariff) (applied bool, err error)

	// List возвращает пользователей по убыванию даты регистрации.
	List(ctx context.Context, page shared.Pagination) ([]*Account, error)

	// Count возвращает общее количество пользователей.
	Count(ctx context.Context) (int, error)
}
