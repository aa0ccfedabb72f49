package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/plinthdb/plinth/internal/auth"
	"github.com/plinthdb/plinth/internal/dsl"
	"github.com/plinthdb/plinth/internal/errs"
	"github.com/plinthdb/plinth/internal/evolution"
	"github.com/plinthdb/plinth/internal/metadata"
	"github.com/plinthdb/plinth/internal/tenant"
)

// PrincipalHeader carries the gateway-authenticated caller as a JSON
// document. An absent header means an anonymous (guest) caller.
const PrincipalHeader = "X-Plinth-Principal"

// TenantDB hands out the per-tenant database handle queries execute
// on; satisfied by an adapter over the tenant pool manager.
type TenantDB interface {
	Pool(ctx context.Context, projectID string) (dsl.Beginner, error)
}

// QueryRequest is the body for the collection query endpoint. The
// expression strings use the declarative query grammar.
type QueryRequest struct {
	Operation string         `json:"operation"`
	Filter    string         `json:"filter,omitempty"`
	Select    string         `json:"select,omitempty"`
	Order     string         `json:"order,omitempty"`
	Limit     int            `json:"limit,omitempty"`
	Offset    int            `json:"offset,omitempty"`
	Force     bool           `json:"force,omitempty"`
	Values    map[string]any `json:"values,omitempty"`
}

// QueryResponse carries the result rows of one executed query.
type QueryResponse struct {
	Rows  []map[string]any `json:"rows"`
	Count int              `json:"count"`
}

// CallRequest is the body for the function invocation endpoint.
type CallRequest struct {
	Args      []any          `json:"args,omitempty"`
	NamedArgs map[string]any `json:"named_args,omitempty"`
}

var queryActions = map[string]auth.Action{
	"select": auth.ActionRead,
	"insert": auth.ActionCreate,
	"update": auth.ActionUpdate,
	"delete": auth.ActionDelete,
}

// handleQuery compiles and executes one declarative query against the
// caller's tenant schema, gated by the collection's permission set.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project")

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	action, ok := queryActions[req.Operation]
	if !ok {
		errorResponse(w, http.StatusBadRequest, "unknown operation "+req.Operation)
		return
	}

	col, err := s.store.GetCollection(r.Context(), r.PathValue("collection"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	principal, err := parsePrincipal(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	perms, err := auth.ParsePermissions(col.Permissions)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !auth.CanAct(r.Context(), action, perms, auth.ResolveRoles(principal)) {
		s.writeError(w, errs.Authorization("missing %s permission on collection %s", string(action), col.ID))
		return
	}

	schema := tenant.SchemaName(projectID)
	compiler := dsl.NewCompiler(&dsl.Schema{
		Default:       schema,
		Relationships: embeddableRelations(schema, col),
	})
	dreq := dsl.Request{
		Table:  evolution.TableName(col.ID),
		Filter: req.Filter,
		Select: req.Select,
		Order:  req.Order,
		Limit:  req.Limit,
		Offset: req.Offset,
		Force:  req.Force,
	}

	var stmt *dsl.Statement
	switch req.Operation {
	case "select":
		stmt, err = compiler.CompileSelect(dreq)
	case "insert":
		stmt, err = compiler.CompileInsert(dreq, req.Values)
	case "update":
		stmt, err = compiler.CompileUpdate(dreq, req.Values)
	case "delete":
		stmt, err = compiler.CompileDelete(dreq)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	db, err := s.tenants.Pool(r.Context(), projectID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	rows, err := dsl.Execute(r.Context(), db, querySession(projectID, principal), stmt)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, QueryResponse{Rows: rows, Count: len(rows)})
}

// handleCallFunction invokes a tenant database function. Functions
// carry no per-collection permission set, so the surface is limited to
// privileged and trusted actors.
func (s *Server) handleCallFunction(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project")
	function := r.PathValue("function")

	var req CallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	principal, err := parsePrincipal(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !principal.Privileged && !principal.Trusted {
		s.writeError(w, errs.Authorization("function invocation requires a privileged or trusted actor"))
		return
	}

	compiler := dsl.NewCompiler(&dsl.Schema{Default: tenant.SchemaName(projectID)})
	stmt, err := compiler.CompileCall(function, req.Args, req.NamedArgs)
	if err != nil {
		s.writeError(w, err)
		return
	}

	db, err := s.tenants.Pool(r.Context(), projectID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	result, err := dsl.ExecuteCall(r.Context(), db, querySession(projectID, principal), function, stmt)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"result": result})
}

func parsePrincipal(r *http.Request) (auth.Principal, error) {
	raw := r.Header.Get(PrincipalHeader)
	if raw == "" {
		return auth.Principal{}, nil
	}
	var p auth.Principal
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return auth.Principal{}, errs.Validation("malformed principal header")
	}
	return p, nil
}

func querySession(projectID string, p auth.Principal) dsl.Session {
	return dsl.Session{
		Variables: map[string]string{
			"plinth.project_id": projectID,
			"plinth.user_id":    p.ID,
		},
	}
}

// embeddableRelations maps a collection's realized relationship
// attributes onto the column pairs the compiler can embed. Many-to-many
// relations go through a join table rather than a single column pair
// and are not embeddable here.
func embeddableRelations(schema string, col *metadata.Collection) map[string]dsl.Relationship {
	rels := make(map[string]dsl.Relationship)
	for i := range col.Attributes {
		a := &col.Attributes[i]
		if !a.IsRelationship() || a.Status != metadata.StatusAvailable {
			continue
		}
		table := dsl.TableRef{Schema: schema, Name: evolution.TableName(a.Options.RelatedCollection)}
		switch a.Options.RelationType {
		case metadata.RelationOneToOne, metadata.RelationManyToOne:
			rels[a.Key] = dsl.Relationship{
				Key:           a.Key,
				Table:         table,
				LocalColumn:   a.Key,
				RelatedColumn: "_id",
			}
		case metadata.RelationOneToMany:
			child := a.Options.TwoWayKey
			if child == "" {
				child = a.Key
			}
			rels[a.Key] = dsl.Relationship{
				Key:           a.Key,
				Table:         table,
				LocalColumn:   "_id",
				RelatedColumn: child,
				Many:          true,
			}
		}
	}
	return rels
}
