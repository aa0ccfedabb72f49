package dsl

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/plinthdb/plinth/internal/errs"
)

// DefaultLimit caps reads that do not request an explicit limit.
const DefaultLimit = 500

// Relationship describes one embeddable relation of the base table.
type Relationship struct {
	Key           string
	Table         TableRef
	LocalColumn   string // column on the base table
	RelatedColumn string // column on the related table
	Many          bool
}

// Schema is the tenant-scoped compilation context: the default schema,
// the allowlist of additional schemas the tenant may reference, and
// the relations embeddable from the base table.
type Schema struct {
	Default       string
	Allowed       []string
	Relationships map[string]Relationship
}

// Request carries the raw expression strings for one table-scoped call.
type Request struct {
	Table  string
	Filter string
	Select string
	Order  string
	Limit  int
	Offset int
	Force  bool
}

// Statement is a compiled SQL statement plus bound parameters.
type Statement struct {
	SQL  string
	Args []any
}

// Compiler lowers parsed expressions into parametrized SQL.
type Compiler struct {
	schema *Schema
}

func NewCompiler(schema *Schema) *Compiler {
	return &Compiler{schema: schema}
}

// resolve qualifies a table reference against the default schema and
// fails closed when an unlisted schema is referenced.
func (c *Compiler) resolve(ref TableRef) (TableRef, error) {
	if ref.Schema == "" {
		ref.Schema = c.schema.Default
		return ref, nil
	}
	if ref.Schema == c.schema.Default {
		return ref, nil
	}
	for _, allowed := range c.schema.Allowed {
		if ref.Schema == allowed {
			return ref, nil
		}
	}
	return TableRef{}, errs.Authorization("schema %q is not in the allowed list", ref.Schema)
}

func qualify(ref TableRef) string {
	return pgx.Identifier{ref.Schema, ref.Name}.Sanitize()
}

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

type builder struct {
	args []any
}

func (b *builder) bind(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

// CompileSelect builds a SELECT for the request.
func (c *Compiler) CompileSelect(req Request) (*Statement, error) {
	ref, err := ParseTableRef(req.Table)
	if err != nil {
		return nil, err
	}
	ref, err = c.resolve(ref)
	if err != nil {
		return nil, err
	}

	sel, err := ParseSelect(req.Select)
	if err != nil {
		return nil, err
	}
	filter, err := ParseFilter(req.Filter)
	if err != nil {
		return nil, err
	}
	order, err := ParseOrder(req.Order)
	if err != nil {
		return nil, err
	}

	b := &builder{}
	cols, err := c.columns(b, sel)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s AS t", strings.Join(cols, ", "), qualify(ref))

	if filter != nil {
		where, err := b.where(filter)
		if err != nil {
			return nil, err
		}
		sb.WriteString(" WHERE " + where)
	}

	if len(order) > 0 {
		sb.WriteString(" ORDER BY " + orderClause(order))
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	fmt.Fprintf(&sb, " LIMIT %s", b.bind(limit))
	if req.Offset > 0 {
		fmt.Fprintf(&sb, " OFFSET %s", b.bind(req.Offset))
	}

	return &Statement{SQL: sb.String(), Args: b.args}, nil
}

// CompileInsert builds an INSERT ... RETURNING for the request's
// select list. Column order is sorted for deterministic SQL.
func (c *Compiler) CompileInsert(req Request, values map[string]any) (*Statement, error) {
	ref, err := ParseTableRef(req.Table)
	if err != nil {
		return nil, err
	}
	ref, err = c.resolve(ref)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, errs.Validation("insert requires at least one value")
	}
	sel, err := ParseSelect(req.Select)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		if !validIdent(k) {
			return nil, errs.Validation("invalid column %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b := &builder{}
	cols := make([]string, len(keys))
	params := make([]string, len(keys))
	for i, k := range keys {
		cols[i] = quoteIdent(k)
		params[i] = b.bind(values[k])
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		qualify(ref), strings.Join(cols, ", "), strings.Join(params, ", "), returning(sel))
	return &Statement{SQL: sql, Args: b.args}, nil
}

// CompileUpdate builds an UPDATE ... RETURNING. Without a filter it
// refuses to compile unless force is set: this guards against
// accidental whole-table mutation.
func (c *Compiler) CompileUpdate(req Request, values map[string]any) (*Statement, error) {
	ref, err := ParseTableRef(req.Table)
	if err != nil {
		return nil, err
	}
	ref, err = c.resolve(ref)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, errs.Validation("update requires at least one value")
	}
	filter, err := ParseFilter(req.Filter)
	if err != nil {
		return nil, err
	}
	if filter == nil && !req.Force {
		return nil, errs.Validation("update without a filter requires force")
	}
	sel, err := ParseSelect(req.Select)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		if !validIdent(k) {
			return nil, errs.Validation("invalid column %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b := &builder{}
	sets := make([]string, len(keys))
	for i, k := range keys {
		sets[i] = fmt.Sprintf("%s = %s", quoteIdent(k), b.bind(values[k]))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "UPDATE %s AS t SET %s", qualify(ref), strings.Join(sets, ", "))
	if filter != nil {
		where, err := b.where(filter)
		if err != nil {
			return nil, err
		}
		sb.WriteString(" WHERE " + where)
	}
	sb.WriteString(" RETURNING " + returning(sel))
	return &Statement{SQL: sb.String(), Args: b.args}, nil
}

// CompileDelete builds a DELETE ... RETURNING under the same
// destructive guard as CompileUpdate.
func (c *Compiler) CompileDelete(req Request) (*Statement, error) {
	ref, err := ParseTableRef(req.Table)
	if err != nil {
		return nil, err
	}
	ref, err = c.resolve(ref)
	if err != nil {
		return nil, err
	}
	filter, err := ParseFilter(req.Filter)
	if err != nil {
		return nil, err
	}
	if filter == nil && !req.Force {
		return nil, errs.Validation("delete without a filter requires force")
	}
	sel, err := ParseSelect(req.Select)
	if err != nil {
		return nil, err
	}

	b := &builder{}
	var sb strings.Builder
	fmt.Fprintf(&sb, "DELETE FROM %s AS t", qualify(ref))
	if filter != nil {
		where, err := b.where(filter)
		if err != nil {
			return nil, err
		}
		sb.WriteString(" WHERE " + where)
	}
	sb.WriteString(" RETURNING " + returning(sel))
	return &Statement{SQL: sb.String(), Args: b.args}, nil
}

// columns lowers the select list, expanding embedded relations to
// correlated JSON subqueries.
func (c *Compiler) columns(b *builder, sel *SelectList) ([]string, error) {
	var cols []string
	for _, item := range sel.Items {
		if item.Star {
			cols = append(cols, "t.*")
			continue
		}
		col := "t." + quoteIdent(item.Column)
		if item.Alias != "" {
			col += " AS " + quoteIdent(item.Alias)
		}
		cols = append(cols, col)
	}
	for _, embed := range sel.Embeds {
		rel, ok := c.schema.Relationships[embed.Relation]
		if !ok {
			return nil, errs.Validation("unknown relation %q", embed.Relation)
		}
		ref, err := c.resolve(rel.Table)
		if err != nil {
			return nil, err
		}
		inner := make([]string, 0, len(embed.Items))
		for _, item := range embed.Items {
			if item.Star {
				inner = append(inner, "r.*")
				continue
			}
			col := "r." + quoteIdent(item.Column)
			if item.Alias != "" {
				col += " AS " + quoteIdent(item.Alias)
			}
			inner = append(inner, col)
		}
		if len(inner) == 0 {
			inner = []string{"r.*"}
		}
		alias := embed.Alias
		if alias == "" {
			alias = embed.Relation
		}
		sub := fmt.Sprintf("SELECT %s FROM %s AS r WHERE r.%s = t.%s",
			strings.Join(inner, ", "), qualify(ref),
			quoteIdent(rel.RelatedColumn), quoteIdent(rel.LocalColumn))
		if rel.Many {
			cols = append(cols, fmt.Sprintf(
				"COALESCE((SELECT json_agg(to_jsonb(sub)) FROM (%s) sub), '[]'::json) AS %s",
				sub, quoteIdent(alias)))
		} else {
			cols = append(cols, fmt.Sprintf(
				"(SELECT to_jsonb(sub) FROM (%s LIMIT 1) sub) AS %s",
				sub, quoteIdent(alias)))
		}
	}
	if len(cols) == 0 {
		cols = []string{"t.*"}
	}
	return cols, nil
}

func returning(sel *SelectList) string {
	if len(sel.Items) == 0 {
		return "t.*"
	}
	cols := make([]string, 0, len(sel.Items))
	for _, item := range sel.Items {
		if item.Star {
			cols = append(cols, "t.*")
			continue
		}
		col := "t." + quoteIdent(item.Column)
		if item.Alias != "" {
			col += " AS " + quoteIdent(item.Alias)
		}
		cols = append(cols, col)
	}
	return strings.Join(cols, ", ")
}

func orderClause(keys []OrderKey) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		dir := "ASC"
		if k.Desc {
			dir = "DESC"
		}
		parts[i] = fmt.Sprintf("t.%s %s", quoteIdent(k.Column), dir)
	}
	return strings.Join(parts, ", ")
}

// where lowers the predicate tree.
func (b *builder) where(f Filter) (string, error) {
	switch node := f.(type) {
	case *Predicate:
		col := "t." + quoteIdent(node.Column)
		switch {
		case node.Op == "is" && node.Negate:
			return col + " IS NOT NULL", nil
		case node.Op == "is":
			return col + " IS NULL", nil
		case node.Op == "in":
			params := make([]string, len(node.Values))
			for i, v := range node.Values {
				params[i] = b.bind(v)
			}
			return fmt.Sprintf("%s IN (%s)", col, strings.Join(params, ", ")), nil
		default:
			return fmt.Sprintf("%s %s %s", col, operators[node.Op], b.bind(node.Value)), nil
		}
	case *Logical:
		if node.Op == "not" {
			inner, err := b.where(node.Children[0])
			if err != nil {
				return "", err
			}
			return "NOT (" + inner + ")", nil
		}
		parts := make([]string, len(node.Children))
		for i, child := range node.Children {
			inner, err := b.where(child)
			if err != nil {
				return "", err
			}
			parts[i] = inner
		}
		joiner := " AND "
		if node.Op == "or" {
			joiner = " OR "
		}
		return "(" + strings.Join(parts, joiner) + ")", nil
	}
	return "", errs.Validation("unsupported filter node")
}
