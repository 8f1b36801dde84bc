package shared

import "strconv"

// UserID - Telegram user id. Валиден только положительный.
type UserID int64

func (u UserID) IsValid() bool  { return u > 0 }
func (u UserID) Int64() int64   { return int64(u) }
func (u UserID) String() string { return strconv.FormatInt(int64(u), 10) }

// ParseUserID разбирает id из пути или query-параметра.
func ParseUserID(s string) (UserID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, WrapError("user", "Parse", ErrInvalidID, "invalid user ID", err)
	}
	if id := UserID(n); id.IsValid() {
		return id, nil
	}
	return 0, ErrInvalidUserID
}

// ModuleID - номер модуля курса, с единицы.
type ModuleID int

func (m ModuleID) IsValid() bool  { return m > 0 }
func (m ModuleID) Int() int       { return int(m) }
func (m ModuleID) String() string { return strconv.Itoa(int(m)) }

// ─────────────────────────────────────────────────────────────────────────────
// Pagination
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Pagination - страница с единицы. Нулевое значение - первая страница
// размера DefaultPageSize.
type Pagination struct {
	Page     int
	PageSize int
}

func NewPagination(page, pageSize int) Pagination {
	p := Pagination{Page: max(page, 1), PageSize: pageSize}
	p.PageSize = p.Limit()
	return p
}

func DefaultPagination() Pagination { return NewPagination(1, DefaultPageSize) }

// Limit - PageSize, приведённый к [1, MaxPageSize].
func (p Pagination) Limit() int {
	if p.PageSize <= 0 {
		return DefaultPageSize
	}
	return min(p.PageSize, MaxPageSize)
}

func (p Pagination) Offset() int {
	return max(p.Page-1, 0) * p.Limit()
}

// Window - границы [from, to) страницы в срезе длины total.
func (p Pagination) Window(total int) (from, to int) {
	from = min(p.Offset(), total)
	return from, min(from+p.Limit(), total)
}
