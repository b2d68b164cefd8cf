package warm

import (
	"fmt"

	"github.com/supabase-community/postgrest-go"

	"heimdall-backend/internal/logentry"
)

// applyOperator maps a structured filter's operator onto the matching
// postgrest-go FilterBuilder method. field has already been checked
// against the column whitelist by the caller.
func applyOperator(b *postgrest.FilterBuilder, f logentry.Filter) *postgrest.FilterBuilder {
	value := fmt.Sprintf("%v", f.Value)
	switch f.Operator {
	case "eq", "=":
		return b.Eq(f.Field, value)
	case "neq", "!=":
		return b.Neq(f.Field, value)
	case "gt", ">":
		return b.Gt(f.Field, value)
	case "gte", ">=":
		return b.Gte(f.Field, value)
	case "lt", "<":
		return b.Lt(f.Field, value)
	case "lte", "<=":
		return b.Lte(f.Field, value)
	case "like":
		return b.Like(f.Field, value)
	case "ilike":
		return b.Ilike(f.Field, value)
	default:
		return b.Eq(f.Field, value)
	}
}
