package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bbiangul/goreason"
	"github.com/bbiangul/goreason/jobqueue"
)

type handler struct {
	engine        goreason.Engine
	maxUploadSize int64
}

func newHandler(e goreason.Engine, maxUploadSize int64) *handler {
	return &handler{engine: e, maxUploadSize: maxUploadSize}
}

// writeJSON writes a successful JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorEnvelope is spec.md §7's {"error": {"type", "message"}} shape.
type errorEnvelope struct {
	Error struct {
		Type    goreason.ErrorKind `json:"type"`
		Message string             `json:"message"`
	} `json:"error"`
}

// writeError writes the stable error envelope at the given HTTP status.
func writeError(w http.ResponseWriter, status int, kind goreason.ErrorKind, msg string) {
	var env errorEnvelope
	env.Error.Type = kind
	env.Error.Message = msg
	writeJSON(w, status, env)
}

// writeEngineError classifies err via goreason.KindOf and writes the
// matching envelope and HTTP status.
func writeEngineError(w http.ResponseWriter, err error) {
	kind := goreason.KindOf(err)
	writeError(w, kind.HTTPStatus(), kind, err.Error())
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// GET /ready
func (h *handler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.engine.HealthCheck(ctx); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// POST /api/ingest — multipart upload, synchronous ingestion.
func (h *handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	files, err := h.readMultipartFiles(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, goreason.KindHttp, err.Error())
		return
	}
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, goreason.KindHttp, "no files provided under the 'files' field")
		return
	}

	var registered []any
	for _, f := range files {
		doc, _, err := h.engine.Ingest(ctx, f.Filename, f.Data)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		registered = append(registered, doc)
	}

	writeJSON(w, http.StatusOK, map[string]any{"documents": registered})
}

// POST /api/ingest/async — multipart upload, queued ingestion.
func (h *handler) handleIngestAsync(w http.ResponseWriter, r *http.Request) {
	files, err := h.readMultipartFiles(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, goreason.KindHttp, err.Error())
		return
	}
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, goreason.KindHttp, "no files provided under the 'files' field")
		return
	}

	inputs := make([]jobqueue.InputFile, len(files))
	for i, f := range files {
		inputs[i] = jobqueue.InputFile{Filename: f.Filename, Data: f.Data}
	}

	jobID, err := h.engine.IngestAsync(inputs)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

type uploadedFile struct {
	Filename string
	Data     []byte
}

func (h *handler) readMultipartFiles(r *http.Request) ([]uploadedFile, error) {
	maxSize := h.maxUploadSize
	if maxSize <= 0 {
		maxSize = 100 << 20
	}
	if err := r.ParseMultipartForm(maxSize); err != nil {
		return nil, errors.New("invalid multipart form: " + err.Error())
	}
	if r.MultipartForm == nil {
		return nil, errors.New("expected multipart/form-data with a 'files' field")
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		headers = r.MultipartForm.File["file"]
	}

	out := make([]uploadedFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		data := make([]byte, fh.Size)
		if _, err := f.Read(data); err != nil && fh.Size > 0 {
			f.Close()
			return nil, err
		}
		f.Close()
		out = append(out, uploadedFile{Filename: filepath.Base(fh.Filename), Data: data})
	}
	return out, nil
}

// GET /api/jobs
func (h *handler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.JobStats())
}

// GET /api/jobs/{id}
func (h *handler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	progress, err := h.engine.JobProgress(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// DELETE /api/jobs/{id} — cooperative cancellation.
func (h *handler) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.engine.CancelJob(id); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// POST /api/query
func (h *handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req struct {
		Question            string  `json:"question"`
		TopK                int     `json:"top_k,omitempty"`
		SimilarityThreshold float64 `json:"similarity_threshold,omitempty"`
		Rerank              bool    `json:"rerank,omitempty"`
		DocumentFilter      []int64 `json:"document_filter,omitempty"`
		IncludeChunks       bool    `json:"include_chunks,omitempty"`
		Stream              bool    `json:"stream,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, goreason.KindJson, "invalid JSON body")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, goreason.KindHttp, "question is required")
		return
	}
	if req.TopK < 0 || req.TopK > 100 {
		req.TopK = 0
	}

	var opts []goreason.QueryOption
	if req.TopK > 0 {
		opts = append(opts, goreason.WithTopK(req.TopK))
	}
	if req.SimilarityThreshold > 0 {
		opts = append(opts, goreason.WithSimilarityThreshold(req.SimilarityThreshold))
	}
	if req.Rerank {
		opts = append(opts, goreason.WithRerank(true))
	}
	if len(req.DocumentFilter) > 0 {
		opts = append(opts, goreason.WithDocumentFilter(req.DocumentFilter))
	}
	if req.IncludeChunks {
		opts = append(opts, goreason.WithIncludeChunks(true))
	}

	resp, err := h.engine.Query(ctx, req.Question, opts...)
	if err != nil {
		writeEngineError(w, err)
		slog.Error("query error", "question", req.Question, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// POST /api/string-search
func (h *handler) handleStringSearch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, goreason.KindJson, "invalid JSON body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, goreason.KindHttp, "text is required")
		return
	}

	resp, err := h.engine.Query(ctx, req.Text)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /api/feedback
func (h *handler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InteractionID string `json:"interaction_id"`
		Score         int    `json:"score"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, goreason.KindJson, "invalid JSON body")
		return
	}
	if req.InteractionID == "" {
		writeError(w, http.StatusBadRequest, goreason.KindHttp, "interaction_id is required")
		return
	}

	if err := h.engine.Feedback(r.Context(), req.InteractionID, req.Score); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// GET /api/documents
func (h *handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.ListDocuments(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// GET /api/documents/{id}
func (h *handler) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, goreason.KindHttp, "invalid document id")
		return
	}

	doc, err := h.engine.GetDocument(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// DELETE /api/documents/{id}
func (h *handler) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, goreason.KindHttp, "invalid document id")
		return
	}

	if err := h.engine.DeleteDocument(r.Context(), id); err != nil {
		writeEngineError(w, err)
		slog.Error("delete error", "document_id", id, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
