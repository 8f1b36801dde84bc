package course

import (
	"fmt"
	"sort"

	"github.com/alem-hub/course-bot/internal/domain/shared"
)

// Module - модуль курса.
type Module struct {
	ID          shared.ModuleID
	Title       string
	Description string

	// Homework - текст задания, показывается перед отправкой решения.
	Homework string

	// Materials - дополнительные материалы (ссылки или описания).
	Materials []string
}

// DisplayName возвращает "Модуль N: Название".
func (m Module) DisplayName() string {
	return fmt.Sprintf("Модуль %d: %s", m.ID, m.Title)
}

// TariffPlan - описание тарифа в каталоге.
type TariffPlan struct {
	Tariff      Tariff
	Title       string
	Description string
	Modules     []shared.ModuleID
}

// Catalog - статический контент курса.
type Catalog struct {
	modules map[shared.ModuleID]Module
	order   []shared.ModuleID
	plans   map[Tariff]TariffPlan

	// DefaultCodes - коды доступа, которые засеваются при первом запуске.
	DefaultCodes map[Tariff][]string
}

// NewCatalog собирает и валидирует каталог.
func NewCatalog(modules []Module, plans []TariffPlan, defaultCodes map[Tariff][]string) (*Catalog, error) {
	c := &Catalog{
		modules:      make(map[shared.ModuleID]Module, len(modules)),
		plans:        make(map[Tariff]TariffPlan, len(plans)),
		DefaultCodes: defaultCodes,
	}

	for _, m := range modules {
		if !m.ID.IsValid() {
			return nil, fmt.Errorf("catalog: invalid module id %d", m.ID)
		}
		if _, dup := c.modules[m.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate module %d", m.ID)
		}
		c.modules[m.ID] = m
		c.order = append(c.order, m.ID)
	}
	sort.Slice(c.order, func(i, j int) bool { return c.order[i] < c.order[j] })

	for _, p := range plans {
		if !p.Tariff.IsValid() {
			return nil, fmt.Errorf("catalog: %w: %q", shared.ErrUnknownTariff, p.Tariff)
		}
		for _, id := range p.Modules {
			if _, ok := c.modules[id]; !ok {
				return nil, fmt.Errorf("catalog: tariff %s references unknown module %d", p.Tariff, id)
			}
		}
		c.plans[p.Tariff] = p
	}

	// Каждый следующий тариф включает модули предыдущего.
	var prev []shared.ModuleID
	for _, t := range AllTariffs() {
		p, ok := c.plans[t]
		if !ok {
			return nil, fmt.Errorf("catalog: tariff %s is not described", t)
		}
		if !containsAll(p.Modules, prev) {
			return nil, fmt.Errorf("catalog: tariff %s must include all modules of the previous tariff", t)
		}
		prev = p.Modules
	}

	for t := range defaultCodes {
		if !t.IsValid() {
			return nil, fmt.Errorf("catalog: default codes: %w: %q", shared.ErrUnknownTariff, t)
		}
	}

	return c, nil
}

// Modules возвращает все модули по возрастанию id.
func (c *Catalog) Modules() []Module {
	out := make([]Module, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.modules[id])
	}
	return out
}

// Module возвращает модуль по id.
func (c *Catalog) Module(id shared.ModuleID) (Module, bool) {
	m, ok := c.modules[id]
	return m, ok
}

// ModuleTitle возвращает название модуля или "Модуль N" для неизвестного.
func (c *Catalog) ModuleTitle(id shared.ModuleID) string {
	if m, ok := c.modules[id]; ok {
		return m.Title
	}
	return fmt.Sprintf("Модуль %d", id)
}

// Plan возвращает описание тарифа.
func (c *Catalog) Plan(t Tariff) (TariffPlan, bool) {
	p, ok := c.plans[t]
	return p, ok
}

func containsAll(set, subset []shared.ModuleID) bool {
	index := make(map[shared.ModuleID]struct{}, len(set))
	for _, id := range set {
		index[id] = struct{}{}
	}
	for _, id := range subset {
		if _, ok := index[id]; !ok {
			return false
		}
	}
	return true
}
