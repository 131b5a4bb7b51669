package mapping

import (
	"fmt"
	"strings"
)

// SortSpec is one key of a sort expression.
type SortSpec struct {
	Property   string
	Descending bool
}

// SortExpression is an ordered list of sort keys.
type SortExpression []SortSpec

// ParseSortExpression parses "Name asc, Position desc". Direction defaults to
// ascending. An empty string yields a nil expression.
func ParseSortExpression(s string) (SortExpression, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var result SortExpression
	for _, part := range strings.Split(s, ",") {
		fields := strings.Fields(part)
		switch len(fields) {
		case 1:
			result = append(result, SortSpec{Property: fields[0]})
		case 2:
			switch strings.ToLower(fields[1]) {
			case "asc", "ascending":
				result = append(result, SortSpec{Property: fields[0]})
			case "desc", "descending":
				result = append(result, SortSpec{Property: fields[0], Descending: true})
			default:
				return nil, fmt.Errorf("%w: unknown direction %q in %q", ErrInvalidSortKey, fields[1], s)
			}
		default:
			return nil, fmt.Errorf("%w: %q", ErrInvalidSortKey, part)
		}
	}
	return result, nil
}

func (e SortExpression) String() string {
	parts := make([]string, len(e))
	for i, spec := range e {
		dir := "asc"
		if spec.Descending {
			dir = "desc"
		}
		parts[i] = spec.Property + " " + dir
	}
	return strings.Join(parts, ", ")
}
