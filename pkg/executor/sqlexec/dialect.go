package sqlexec

import (
	"fmt"
	"regexp"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Dialect holds the SQL differences between supported databases.
type Dialect struct {
	Name        string
	Placeholder sq.PlaceholderFormat
	quote       byte
	contains    func(column, pattern string) sq.Sqlizer
}

// Postgres uses $n placeholders, double-quoted identifiers and ILIKE.
var Postgres = Dialect{
	Name:        "postgres",
	Placeholder: sq.Dollar,
	quote:       '"',
	contains: func(column, pattern string) sq.Sqlizer {
		return sq.Expr(column+" ILIKE ?", pattern)
	},
}

// MySQL uses ? placeholders, backtick identifiers and LOWER() LIKE.
var MySQL = Dialect{
	Name:        "mysql",
	Placeholder: sq.Question,
	quote:       '`',
	contains: func(column, pattern string) sq.Sqlizer {
		return sq.Expr("LOWER("+column+") LIKE ?", strings.ToLower(pattern))
	},
}

// DialectByName resolves a dialect from a driver name.
func DialectByName(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported SQL dialect: %s", name)
	}
}

// Quote validates and quotes a possibly dotted identifier.
func (d Dialect) Quote(name string) (string, error) {
	parts := strings.Split(name, ".")
	for i, part := range parts {
		if !identifierPattern.MatchString(part) {
			return "", fmt.Errorf("invalid identifier: %q", name)
		}
		parts[i] = string(d.quote) + part + string(d.quote)
	}
	return strings.Join(parts, "."), nil
}

func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(term) + "%"
}
