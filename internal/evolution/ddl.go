// Package evolution consumes durable schema jobs and applies them as
// real DDL against tenant schemas, keeping the control-plane metadata
// and the physical storage convergent.
package evolution

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/plinthdb/plinth/internal/errs"
	"github.com/plinthdb/plinth/internal/metadata"
)

// Conn is the leased tenant connection DDL executes on; satisfied by
// *pgxpool.Conn and *pgx.Conn.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ConnectionLeaser hands out one tenant-scoped connection per job.
type ConnectionLeaser interface {
	Lease(ctx context.Context, projectID string) (Conn, func(), error)
}

// TableName is the physical table for a collection.
func TableName(collectionID string) string {
	return "c_" + collectionID
}

// JoinTableName is the physical join table for a many-to-many
// relationship attribute.
func JoinTableName(collectionID, attributeKey string) string {
	return fmt.Sprintf("c_%s_%s_join", collectionID, attributeKey)
}

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// columnType maps an attribute definition to a Postgres column type.
func columnType(a *metadata.Attribute) (string, error) {
	var base string
	switch a.Type {
	case metadata.TypeString, metadata.TypeEnum:
		if a.Size > 0 && a.Size <= 16384 {
			base = fmt.Sprintf("varchar(%d)", a.Size)
		} else {
			base = "text"
		}
	case metadata.TypeInteger:
		base = "bigint"
	case metadata.TypeFloat:
		base = "double precision"
	case metadata.TypeBoolean:
		base = "boolean"
	case metadata.TypeDatetime:
		base = "timestamptz"
	case metadata.TypeIP:
		base = "inet"
	case metadata.TypeURL:
		base = "varchar(2048)"
	case metadata.TypeEmail:
		base = "varchar(320)"
	default:
		return "", errs.Structural("attribute type %q has no column mapping", string(a.Type))
	}
	if a.Array {
		base += "[]"
	}
	return base, nil
}

// literal renders a default value into DDL. DDL cannot be
// parametrized, so strings are escaped by doubling quotes.
func literal(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case int, int32, int64, float32, float64:
		return fmt.Sprintf("%v", val)
	default:
		return "'" + strings.ReplaceAll(fmt.Sprintf("%v", val), "'", "''") + "'"
	}
}

// structural wraps a DDL failure so handlers can downgrade the entity
// instead of crashing the worker.
func structural(op string, err error) error {
	return errs.Wrap(errs.Structural("%s failed", op), err)
}

// CreateColumn adds the physical column for a non-relationship
// attribute.
func CreateColumn(ctx context.Context, conn Conn, collectionID string, a *metadata.Attribute) error {
	typ, err := columnType(a)
	if err != nil {
		return err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
		quote(TableName(collectionID)), quote(a.Key), typ)
	if a.Required {
		sb.WriteString(" NOT NULL")
	}
	if a.Default != nil {
		fmt.Fprintf(&sb, " DEFAULT %s", literal(a.Default))
	}
	if _, err := conn.Exec(ctx, sb.String()); err != nil {
		return structural("adding column "+a.Key, err)
	}
	return nil
}

// DropColumn removes an attribute's physical column.
func DropColumn(ctx context.Context, conn Conn, collectionID, key string) error {
	sql := fmt.Sprintf("ALTER TABLE %s DROP COLUMN IF EXISTS %s",
		quote(TableName(collectionID)), quote(key))
	if _, err := conn.Exec(ctx, sql); err != nil {
		return structural("dropping column "+key, err)
	}
	return nil
}

func onDeleteClause(policy metadata.OnDelete) string {
	switch policy {
	case metadata.OnDeleteCascade:
		return "CASCADE"
	case metadata.OnDeleteSetNull:
		return "SET NULL"
	default:
		return "RESTRICT"
	}
}

// CreateRelationship creates the physical join structure for a
// relationship attribute: a foreign-key column for to-one sides, a
// column on the related table for one-to-many, or a join table for
// many-to-many.
func CreateRelationship(ctx context.Context, conn Conn, collectionID string, a *metadata.Attribute) error {
	opts := a.Options
	related := opts.RelatedCollection

	switch opts.RelationType {
	case metadata.RelationOneToOne, metadata.RelationManyToOne:
		sql := fmt.Sprintf(
			"ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s text REFERENCES %s (_id) ON DELETE %s",
			quote(TableName(collectionID)), quote(a.Key),
			quote(TableName(related)), onDeleteClause(opts.OnDelete))
		if _, err := conn.Exec(ctx, sql); err != nil {
			return structural("creating relationship "+a.Key, err)
		}
		return nil

	case metadata.RelationOneToMany:
		// The physical column lives on the related (child) table.
		key := opts.TwoWayKey
		if key == "" {
			key = a.Key
		}
		sql := fmt.Sprintf(
			"ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s text REFERENCES %s (_id) ON DELETE %s",
			quote(TableName(related)), quote(key),
			quote(TableName(collectionID)), onDeleteClause(opts.OnDelete))
		if _, err := conn.Exec(ctx, sql); err != nil {
			return structural("creating relationship "+a.Key, err)
		}
		return nil

	case metadata.RelationManyToMany:
		join := JoinTableName(collectionID, a.Key)
		sql := fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s (%s text REFERENCES %s (_id) ON DELETE CASCADE, %s text REFERENCES %s (_id) ON DELETE CASCADE, PRIMARY KEY (%s, %s))",
			quote(join),
			quote("source_id"), quote(TableName(collectionID)),
			quote("target_id"), quote(TableName(related)),
			quote("source_id"), quote("target_id"))
		if _, err := conn.Exec(ctx, sql); err != nil {
			return structural("creating relationship "+a.Key, err)
		}
		return nil
	}
	return errs.Structural("unknown relation type %q", string(opts.RelationType))
}

// DropRelationship removes the physical join structure.
func DropRelationship(ctx context.Context, conn Conn, collectionID string, a *metadata.Attribute) error {
	opts := a.Options
	switch opts.RelationType {
	case metadata.RelationOneToOne, metadata.RelationManyToOne:
		return DropColumn(ctx, conn, collectionID, a.Key)
	case metadata.RelationOneToMany:
		key := opts.TwoWayKey
		if key == "" {
			key = a.Key
		}
		return DropColumn(ctx, conn, opts.RelatedCollection, key)
	case metadata.RelationManyToMany:
		sql := fmt.Sprintf("DROP TABLE IF EXISTS %s", quote(JoinTableName(collectionID, a.Key)))
		if _, err := conn.Exec(ctx, sql); err != nil {
			return structural("dropping relationship "+a.Key, err)
		}
		return nil
	}
	return errs.Structural("unknown relation type %q", string(opts.RelationType))
}

// indexName is the physical name, namespaced per collection.
func indexName(collectionID, key string) string {
	return fmt.Sprintf("idx_%s_%s", collectionID, key)
}

// CreateIndex issues the index DDL. Fulltext indexes compile to a GIN
// index over a concatenated tsvector.
func CreateIndex(ctx context.Context, conn Conn, collectionID string, i *metadata.Index) error {
	table := quote(TableName(collectionID))
	name := quote(indexName(collectionID, i.Key))

	var sql string
	switch i.Type {
	case metadata.IndexFulltext:
		parts := make([]string, len(i.Attributes))
		for n, attr := range i.Attributes {
			parts[n] = fmt.Sprintf("coalesce(%s, '')", quote(attr))
		}
		sql = fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIN (to_tsvector('simple', %s))",
			name, table, strings.Join(parts, " || ' ' || "))
	case metadata.IndexUnique, metadata.IndexKey:
		cols := make([]string, len(i.Attributes))
		for n, attr := range i.Attributes {
			order := "ASC"
			if n < len(i.Orders) && strings.EqualFold(i.Orders[n], "desc") {
				order = "DESC"
			}
			cols[n] = quote(attr) + " " + order
		}
		unique := ""
		if i.Type == metadata.IndexUnique {
			unique = "UNIQUE "
		}
		sql = fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
			unique, name, table, strings.Join(cols, ", "))
	default:
		return errs.Structural("unknown index type %q", string(i.Type))
	}

	if _, err := conn.Exec(ctx, sql); err != nil {
		return structural("creating index "+i.Key, err)
	}
	return nil
}

// DropIndex removes the physical index.
func DropIndex(ctx context.Context, conn Conn, collectionID, key string) error {
	sql := fmt.Sprintf("DROP INDEX IF EXISTS %s", quote(indexName(collectionID, key)))
	if _, err := conn.Exec(ctx, sql); err != nil {
		return structural("dropping index "+key, err)
	}
	return nil
}

// DropTable removes a collection's physical table.
func DropTable(ctx context.Context, conn Conn, collectionID string) error {
	sql := fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", quote(TableName(collectionID)))
	if _, err := conn.Exec(ctx, sql); err != nil {
		return structural("dropping table for "+collectionID, err)
	}
	return nil
}
