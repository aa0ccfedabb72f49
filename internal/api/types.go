package api

import (
	"time"

	"github.com/plinthdb/plinth/internal/metadata"
	"github.com/plinthdb/plinth/internal/queue"
)

// EnqueueJobRequest is the request body for POST /api/projects/{project}/jobs.
// Snapshots carry ids only; handlers re-fetch current state before acting.
type EnqueueJobRequest struct {
	Type         string `json:"type"`
	Database     string `json:"database"`
	CollectionID string `json:"collection_id"`
	AttributeID  string `json:"attribute_id,omitempty"`
	IndexID      string `json:"index_id,omitempty"`
}

// JobResponse is the pollable view of a queued schema job.
type JobResponse struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	ProjectID string    `json:"project_id"`
	State     string    `json:"state"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toJobResponse(j *queue.Job) JobResponse {
	return JobResponse{
		ID:        j.ID,
		Type:      j.Type,
		ProjectID: j.ProjectID,
		State:     string(j.State),
		Attempts:  j.Attempts,
		Error:     j.Error,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

// AttributeStatusResponse is one attribute's realization state.
type AttributeStatusResponse struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Type   string `json:"type"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// IndexStatusResponse is one index's realization state.
type IndexStatusResponse struct {
	ID         string   `json:"id"`
	Key        string   `json:"key"`
	Type       string   `json:"type"`
	Attributes []string `json:"attributes"`
	Status     string   `json:"status"`
	Error      string   `json:"error,omitempty"`
}

// CollectionResponse is the schema status view of one collection.
type CollectionResponse struct {
	ID         string                    `json:"id"`
	ProjectID  string                    `json:"project_id"`
	DatabaseID string                    `json:"database_id"`
	Name       string                    `json:"name"`
	Attributes []AttributeStatusResponse `json:"attributes"`
	Indexes    []IndexStatusResponse     `json:"indexes"`
}

func toCollectionResponse(c *metadata.Collection) CollectionResponse {
	resp := CollectionResponse{
		ID:         c.ID,
		ProjectID:  c.ProjectID,
		DatabaseID: c.DatabaseID,
		Name:       c.Name,
		Attributes: []AttributeStatusResponse{},
		Indexes:    []IndexStatusResponse{},
	}
	for i := range c.Attributes {
		a := &c.Attributes[i]
		resp.Attributes = append(resp.Attributes, AttributeStatusResponse{
			ID:     a.ID,
			Key:    a.Key,
			Type:   string(a.Type),
			Status: string(a.Status),
			Error:  a.Error,
		})
	}
	for i := range c.Indexes {
		idx := &c.Indexes[i]
		resp.Indexes = append(resp.Indexes, IndexStatusResponse{
			ID:         idx.ID,
			Key:        idx.Key,
			Type:       string(idx.Type),
			Attributes: idx.Attributes,
			Status:     string(idx.Status),
			Error:      idx.Error,
		})
	}
	return resp
}
