// Package dsl parses the declarative filter/select/order expressions
// and compiles them to parametrized SQL against a tenant-scoped
// connection.
package dsl

// Filter is a node of the boolean predicate tree.
type Filter interface {
	isFilter()
}

// Logical combines child filters with and/or/not.
type Logical struct {
	Op       string // "and", "or", "not"
	Children []Filter
}

func (*Logical) isFilter() {}

// Predicate is one column comparison leaf.
type Predicate struct {
	Column string
	Op     string
	Value  string   // single operand (raw text, bound as a parameter)
	Values []string // list operand for "in"
	IsNull bool     // "is.null" / "is.not_null"
	Negate bool     // is.not_null
}

func (*Predicate) isFilter() {}

// Comparison operators accepted in predicate leaves.
var operators = map[string]string{
	"eq":    "=",
	"neq":   "<>",
	"gt":    ">",
	"gte":   ">=",
	"lt":    "<",
	"lte":   "<=",
	"like":  "LIKE",
	"ilike": "ILIKE",
}

// SelectItem is one requested column.
type SelectItem struct {
	Alias  string
	Column string
	Star   bool
}

// Embed requests rows of a named relation nested under the result.
type Embed struct {
	Alias    string
	Relation string
	Items    []SelectItem
}

// SelectList is the parsed select expression.
type SelectList struct {
	Items  []SelectItem
	Embeds []Embed
}

// OrderKey is one sort key of the order expression.
type OrderKey struct {
	Column string
	Desc   bool
}

// TableRef names a (possibly schema-qualified) table or function.
type TableRef struct {
	Schema string
	Name   string
}
