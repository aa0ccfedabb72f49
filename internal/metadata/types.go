// Package metadata holds the control-plane record types (collections,
// attributes, indexes, and the entity records teardown flows sweep) and
// the MongoDB-backed store the engines read and write them through.
package metadata

import "time"

// AttributeType is the closed set of declarable field types.
type AttributeType string

const (
	TypeString       AttributeType = "string"
	TypeInteger      AttributeType = "integer"
	TypeFloat        AttributeType = "float"
	TypeBoolean      AttributeType = "boolean"
	TypeDatetime     AttributeType = "datetime"
	TypeEnum         AttributeType = "enum"
	TypeIP           AttributeType = "ip"
	TypeURL          AttributeType = "url"
	TypeEmail        AttributeType = "email"
	TypeRelationship AttributeType = "relationship"
)

// RelationType is the cardinality of a relationship attribute.
type RelationType string

const (
	RelationOneToOne   RelationType = "oneToOne"
	RelationOneToMany  RelationType = "oneToMany"
	RelationManyToOne  RelationType = "manyToOne"
	RelationManyToMany RelationType = "manyToMany"
)

// OnDelete is a relationship's delete policy.
type OnDelete string

const (
	OnDeleteCascade  OnDelete = "cascade"
	OnDeleteSetNull  OnDelete = "setNull"
	OnDeleteRestrict OnDelete = "restrict"
)

// RelationSide distinguishes the declaring side of a two-way
// relationship from its generated sibling.
type RelationSide string

const (
	SideParent RelationSide = "parent"
	SideChild  RelationSide = "child"
)

// IndexType is the closed set of secondary index flavors.
type IndexType string

const (
	IndexUnique   IndexType = "unique"
	IndexKey      IndexType = "key"
	IndexFulltext IndexType = "fulltext"
)

// RelationOptions are the relationship-specific attribute fields.
type RelationOptions struct {
	RelatedCollection string       `bson:"relatedCollection"`
	RelationType      RelationType `bson:"relationType"`
	TwoWay            bool         `bson:"twoWay"`
	TwoWayKey         string       `bson:"twoWayKey,omitempty"`
	OnDelete          OnDelete     `bson:"onDelete"`
	Side              RelationSide `bson:"side"`
}

// Attribute is a field definition, asynchronously realized as a
// physical column (or join structure for relationships).
type Attribute struct {
	ID            string          `bson:"_id"`
	ProjectID     string          `bson:"projectId"`
	CollectionID  string          `bson:"collectionId"`
	Key           string          `bson:"key"`
	Type          AttributeType   `bson:"type"`
	Size          int             `bson:"size,omitempty"`
	Required      bool            `bson:"required"`
	Default       any             `bson:"default,omitempty"`
	Array         bool            `bson:"array"`
	Format        string          `bson:"format,omitempty"`
	FormatOptions map[string]any  `bson:"formatOptions,omitempty"`
	Status        Status          `bson:"status"`
	Error         string          `bson:"error,omitempty"`
	Options       RelationOptions `bson:"options,omitempty"`
	CreatedAt     time.Time       `bson:"createdAt"`
	UpdatedAt     time.Time       `bson:"updatedAt"`
}

// IsRelationship reports whether the attribute is relationship-typed.
func (a *Attribute) IsRelationship() bool { return a.Type == TypeRelationship }

// Index is a secondary index definition over a collection's attributes.
type Index struct {
	ID           string    `bson:"_id"`
	ProjectID    string    `bson:"projectId"`
	CollectionID string    `bson:"collectionId"`
	Key          string    `bson:"key"`
	Type         IndexType `bson:"type"`
	Attributes   []string  `bson:"attributes"`
	Orders       []string  `bson:"orders"`
	Status       Status    `bson:"status"`
	Error        string    `bson:"error,omitempty"`
	CreatedAt    time.Time `bson:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt"`
}

// SameShape reports value equality of the (attributes, orders) pair,
// the equality the index dedup tie-break uses. Identity (Key) is
// deliberately not part of it.
func (i *Index) SameShape(other *Index) bool {
	if len(i.Attributes) != len(other.Attributes) || len(i.Orders) != len(other.Orders) {
		return false
	}
	for n := range i.Attributes {
		if i.Attributes[n] != other.Attributes[n] {
			return false
		}
	}
	for n := range i.Orders {
		if i.Orders[n] != other.Orders[n] {
			return false
		}
	}
	return true
}

// Collection is a logical table owned by one tenant project.
type Collection struct {
	ID               string      `bson:"_id"`
	ProjectID        string      `bson:"projectId"`
	DatabaseID       string      `bson:"databaseId"`
	Name             string      `bson:"name"`
	Attributes       []Attribute `bson:"attributes"`
	Indexes          []Index     `bson:"indexes"`
	Permissions      []string    `bson:"permissions"`
	DocumentSecurity bool        `bson:"documentSecurity"`
	CreatedAt        time.Time   `bson:"createdAt"`
	UpdatedAt        time.Time   `bson:"updatedAt"`
}

// AttributeKeys returns the keys of attributes not yet deleted.
func (c *Collection) AttributeKeys() []string {
	keys := make([]string, 0, len(c.Attributes))
	for i := range c.Attributes {
		if c.Attributes[i].Status != StatusDeleted {
			keys = append(keys, c.Attributes[i].Key)
		}
	}
	return keys
}

// AuditEntry is one historical log record, pruned by retention sweeps.
type AuditEntry struct {
	ID           string    `bson:"_id"`
	ProjectID    string    `bson:"projectId"`
	CollectionID string    `bson:"collectionId,omitempty"`
	UserID       string    `bson:"userId,omitempty"`
	Event        string    `bson:"event"`
	Resource     string    `bson:"resource"`
	Payload      string    `bson:"payload,omitempty"`
	Time         time.Time `bson:"time"`
}

// Team, Membership, Session, Token, Identity, and Target are the entity
// records the teardown flows cascade over.

type Team struct {
	ID        string    `bson:"_id"`
	ProjectID string    `bson:"projectId"`
	Name      string    `bson:"name"`
	Total     int64     `bson:"total"` // confirmed membership count
	CreatedAt time.Time `bson:"createdAt"`
}

type Membership struct {
	ID        string    `bson:"_id"`
	ProjectID string    `bson:"projectId"`
	TeamID    string    `bson:"teamId"`
	UserID    string    `bson:"userId"`
	Roles     []string  `bson:"roles"`
	Confirmed bool      `bson:"confirmed"`
	CreatedAt time.Time `bson:"createdAt"`
}

type Session struct {
	ID        string    `bson:"_id"`
	ProjectID string    `bson:"projectId"`
	UserID    string    `bson:"userId"`
	Expire    time.Time `bson:"expire"`
}

type Token struct {
	ID        string    `bson:"_id"`
	ProjectID string    `bson:"projectId"`
	UserID    string    `bson:"userId"`
	Type      string    `bson:"type"`
	Expire    time.Time `bson:"expire"`
}

type Identity struct {
	ID        string `bson:"_id"`
	ProjectID string `bson:"projectId"`
	UserID    string `bson:"userId"`
	Provider  string `bson:"provider"`
}

// Target is a push/message delivery endpoint owned by a user.
type Target struct {
	ID        string `bson:"_id"`
	ProjectID string `bson:"projectId"`
	UserID    string `bson:"userId"`
	Provider  string `bson:"providerType"`
	Address   string `bson:"identifier"`
}
