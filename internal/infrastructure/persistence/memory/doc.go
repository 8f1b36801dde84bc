// Package memory - in-memory реализации репозиториев и хранилища состояния.
// Используются в тестах и в development без DATABASE_URL / Redis.
// Все типы безопасны для конкурентного использования.
package memory
