package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/plinthdb/plinth/internal/errs"
	"github.com/plinthdb/plinth/internal/evolution"
	"github.com/plinthdb/plinth/internal/metadata"
)

var jobTypes = map[string]bool{
	evolution.JobCreateAttribute:  true,
	evolution.JobDeleteAttribute:  true,
	evolution.JobCreateIndex:      true,
	evolution.JobDeleteIndex:      true,
	evolution.JobDeleteCollection: true,
}

// handleEnqueueJob accepts a schema job and returns 202 with the job
// for polling. The work itself happens on the worker; clients watch
// /api/jobs/{id} or the WebSocket stream.
func (s *Server) handleEnqueueJob(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project")

	var req EnqueueJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !jobTypes[req.Type] {
		errorResponse(w, http.StatusBadRequest, "unknown job type "+req.Type)
		return
	}
	if req.CollectionID == "" {
		errorResponse(w, http.StatusBadRequest, "collection_id is required")
		return
	}
	switch req.Type {
	case evolution.JobCreateAttribute, evolution.JobDeleteAttribute:
		if req.AttributeID == "" {
			errorResponse(w, http.StatusBadRequest, "attribute_id is required")
			return
		}
	case evolution.JobCreateIndex, evolution.JobDeleteIndex:
		if req.IndexID == "" {
			errorResponse(w, http.StatusBadRequest, "index_id is required")
			return
		}
	}

	payload := evolution.Payload{
		Database:   req.Database,
		ProjectID:  projectID,
		Collection: metadata.Collection{ID: req.CollectionID},
	}
	if req.AttributeID != "" {
		payload.Attribute = &metadata.Attribute{ID: req.AttributeID, CollectionID: req.CollectionID}
	}
	if req.IndexID != "" {
		payload.Index = &metadata.Index{ID: req.IndexID, CollectionID: req.CollectionID}
	}

	job, err := s.queue.Enqueue(r.Context(), req.Type, projectID, &payload)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusAccepted, toJobResponse(job))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.CollectStats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, stats)
}

func (s *Server) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	col, err := s.store.GetCollection(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, toCollectionResponse(col))
}

// writeError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var e *errs.Error
	if errors.As(err, &e) {
		errorResponse(w, e.Status, e.Message)
		return
	}
	s.logger.Error("unclassified api error", "error", err)
	errorResponse(w, http.StatusInternalServerError, "internal error")
}
