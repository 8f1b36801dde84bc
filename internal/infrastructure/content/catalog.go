// Package content загружает каталог курса из YAML.
//
// По умолчанию используется встроенный default_course.yaml; файл,
// указанный в COURSE_CATALOG_PATH, полностью его заменяет.
package content

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/alem-hub/course-bot/internal/domain/course"
	"github.com/alem-hub/course-bot/internal/domain/shared"
)

//go:embed default_course.yaml
var defaultCourse []byte

type catalogFile struct {
	Modules     []moduleDoc         `yaml:"modules"`
	Tariffs     []tariffDoc         `yaml:"tariffs"`
	AccessCodes map[string][]string `yaml:"access_codes"`
}

type moduleDoc struct {
	ID          int      `yaml:"id"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Homework    string   `yaml:"homework"`
	Materials   []string `yaml:"materials"`
}

type tariffDoc struct {
	Name        string `yaml:"name"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Modules     []int  `yaml:"modules"`
}

// Default возвращает встроенный каталог.
func Default() (*course.Catalog, error) {
	return Parse(defaultCourse)
}

// MustDefault - Default для тестов и инициализации.
func MustDefault() *course.Catalog {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

// Load читает каталог из файла, пустой путь - встроенный каталог.
func Load(path string) (*course.Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse разбирает YAML и валидирует каталог.
func Parse(data []byte) (*course.Catalog, error) {
	var doc catalogFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	modules := make([]course.Module, 0, len(doc.Modules))
	for _, m := range doc.Modules {
		modules = append(modules, course.Module{
			ID:          shared.ModuleID(m.ID),
			Title:       m.Title,
			Description: m.Description,
			Homework:    m.Homework,
			Materials:   m.Materials,
		})
	}

	plans := make([]course.TariffPlan, 0, len(doc.Tariffs))
	for _, t := range doc.Tariffs {
		tariff, err := course.ParseTariff(t.Name)
		if err != nil {
			return nil, fmt.Errorf("tariff %q: %w", t.Name, err)
		}
		ids := make([]shared.ModuleID, 0, len(t.Modules))
		for _, id := range t.Modules {
			ids = append(ids, shared.ModuleID(id))
		}
		plans = append(plans, course.TariffPlan{
			Tariff:      tariff,
			Title:       t.Title,
			Description: t.Description,
			Modules:     ids,
		})
	}

	codes := make(map[course.Tariff][]string, len(doc.AccessCodes))
	for name, list := range doc.AccessCodes {
		tariff, err := course.ParseTariff(name)
		if err != nil {
			return nil, fmt.Errorf("access codes %q: %w", name, err)
		}
		codes[tariff] = list
	}

	return course.NewCatalog(modules, plans, codes)
}
