// Пакет ttl — преобразование относительного срока жизни ("1d 1h",
// "2days 30minutes") в абсолютное время истечения (epoch seconds, UTC).
//
// Грамматика: до четырёх компонент в фиксированном порядке — дни, часы,
// минуты, секунды; каждая в форме <цифры><единица>, между компонентами
// допускаются пробелы. Выражение должно совпадать целиком и содержать
// хотя бы одну компоненту. Единицы умножаются: d=86400, h=3600, m=60, s=1.
package ttl

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bigkaa/relayd/internal/domain/model"
)

var exprPattern = regexp.MustCompile(
	`^(?:(?P<days>\d+)(?:days|d))?\s*(?:(?P<hours>\d+)(?:hours|h))?\s*(?:(?P<minutes>\d+)(?:minutes|m))?\s*(?:(?P<seconds>\d+)(?:seconds|s))?$`,
)

// Множители единиц в секундах, в порядке групп выражения.
var units = []struct {
	group   string
	seconds int64
}{
	{"days", 86400},
	{"hours", 3600},
	{"minutes", 60},
	{"seconds", 1},
}

// Resolver вычисляет время истечения относительно текущего момента.
type Resolver struct {
	now func() time.Time
}

// New создаёт Resolver на системных часах.
func New() *Resolver {
	return &Resolver{now: time.Now}
}

// NewWithClock создаёт Resolver с заданным источником времени.
// Используется в тестах.
func NewWithClock(now func() time.Time) *Resolver {
	return &Resolver{now: now}
}

// Resolve возвращает now + длительность выражения в секундах UTC.
// Ошибки — *model.TTLError (errors.Is(err, model.ErrInvalidTTL));
// переполнение дополнительно совместимо с strconv.ErrRange.
func (r *Resolver) Resolve(expr string) (int64, error) {
	seconds, err := Parse(expr)
	if err != nil {
		return 0, err
	}

	now := r.now().UTC().Unix()
	if seconds > math.MaxInt64-now {
		return 0, &model.TTLError{Expr: expr, Err: strconv.ErrRange}
	}
	return now + seconds, nil
}

// Parse возвращает длительность выражения в секундах.
func Parse(expr string) (int64, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return 0, &model.TTLError{Expr: expr}
	}

	match := exprPattern.FindStringSubmatch(trimmed)
	if match == nil {
		return 0, &model.TTLError{Expr: expr}
	}

	var total int64
	for _, u := range units {
		raw := match[exprPattern.SubexpIndex(u.group)]
		if raw == "" {
			continue
		}

		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, &model.TTLError{Expr: expr, Err: fmt.Errorf("%s: %w", u.group, err)}
		}
		if n > (math.MaxInt64-total)/u.seconds {
			return 0, &model.TTLError{Expr: expr, Err: fmt.Errorf("%s: %w", u.group, strconv.ErrRange)}
		}
		total += n * u.seconds
	}

	return total, nil
}
