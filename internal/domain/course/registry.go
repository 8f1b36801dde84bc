package course

import (
	"context"
	"strings"

	"github.com/alem-hub/course-bot/internal/domain/shared"
)

// Registry отвечает на вопросы доступа: какой тариф даёт код,
// какие модули открыты тарифу и как тариф описать пользователю.
type Registry struct {
	catalog *Catalog
	codes   AccessCodeRepository
}

// NewRegistry создаёт реестр доступа.
func NewRegistry(catalog *Catalog, codes AccessCodeRepository) *Registry {
	return &Registry{catalog: catalog, codes: codes}
}

// Catalog возвращает каталог курса.
func (r *Registry) Catalog() *Catalog {
	return r.catalog
}

// ResolveCode возвращает тариф, которому принадлежит код.
// Код сравнивается точно, после обрезки пробелов. Если код встречается
// в нескольких тарифах, выигрывает первый по порядку AllTariffs.
func (r *Registry) ResolveCode(ctx context.Context, code string) (Tariff, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", shared.ErrInvalidCode
	}

	tariffs, err := r.codes.Lookup(ctx, code)
	if err != nil {
		return "", shared.StorageError("course", "ResolveCode", err)
	}
	if len(tariffs) == 0 {
		return "", shared.ErrInvalidCode
	}

	best := tariffs[0]
	for _, t := range tariffs[1:] {
		if t.IsValid() && (best.Rank() < 0 || t.Rank() < best.Rank()) {
			best = t
		}
	}
	if !best.IsValid() {
		return "", shared.ErrInvalidCode
	}
	return best, nil
}

// ModulesFor возвращает упорядоченный список модулей тарифа.
// Для неизвестного тарифа - пустой список.
func (r *Registry) ModulesFor(t Tariff) []shared.ModuleID {
	p, ok := r.catalog.Plan(t)
	if !ok {
		return nil
	}
	out := make([]shared.ModuleID, len(p.Modules))
	copy(out, p.Modules)
	return out
}

// Describe возвращает описание тарифа для пользователя.
func (r *Registry) Describe(t Tariff) string {
	p, ok := r.catalog.Plan(t)
	if !ok {
		return ""
	}
	return p.Description
}

// Title возвращает отображаемое имя тарифа.
func (r *Registry) Title(t Tariff) string {
	if p, ok := r.catalog.Plan(t); ok && p.Title != "" {
		return p.Title
	}
	return string(t)
}

// IsUnlocked проверяет, открыт ли модуль тарифу.
func (r *Registry) IsUnlocked(t Tariff, id shared.ModuleID) bool {
	for _, m := range r.ModulesFor(t) {
		if m == id {
			return true
		}
	}
	return false
}

// SeedDefaults добавляет коды по умолчанию из каталога, пропуская
// уже существующие. Возвращает количество добавленных.
func (r *Registry) SeedDefaults(ctx context.Context) (int, error) {
	added := 0
	for _, t := range AllTariffs() {
		for _, code := range r.catalog.DefaultCodes[t] {
			err := r.codes.Add(ctx, AccessCode{Code: code, Tariff: t})
			switch {
			case err == nil:
				added++
			case shared.IsAlreadyExists(err):
			default:
				return added, err
			}
		}
	}
	return added, nil
}
