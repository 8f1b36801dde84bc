// Package user содержит учётную запись слушателя курса.
// Запись появляется при первом успешном вводе кода доступа и никогда
// не удаляется ядром бота.
package user

import (
	"strings"
	"time"

	"github.com/alem-hub/course-bot/internal/domain/course"
	"github.com/alem-hub/course-bot/internal/domain/shared"
)

// Account - учётная запись пользователя.
type Account struct {
	UserID     shared.UserID
	Username   string
	FirstName  string
	LastName   string
	Tariff     course.Tariff
	EnrolledAt time.Time
}

// Profile - данные, которые транспорт знает о пользователе.
type Profile struct {
	Username  string
	FirstName string
	LastName  string
}

// NewAccount создаёт учётную запись для только что активированного кода.
func NewAccount(id shared.UserID, profile Profile, tariff course.Tariff, now time.Time) (*Account, error) {
	if !id.IsValid() {
		return nil, shared.ErrInvalidUserID
	}
	if !tariff.IsValid() {
		return nil, shared.ErrUnknownTariff
	}
	return &Account{
		UserID:     id,
		Username:   profile.Username,
		FirstName:  profile.FirstName,
		LastName:   profile.LastName,
		Tariff:     tariff,
		EnrolledAt: now.UTC(),
	}, nil
}

// DisplayName возвращает имя для админки и уведомлений.
func (a *Account) DisplayName() string {
	name := strings.TrimSpace(a.FirstName + " " + a.LastName)
	switch {
	case name != "":
		return name
	case a.Username != "":
		return "@" + a.Username
	default:
		return a.UserID.String()
	}
}
