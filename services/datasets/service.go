package datasets

import (
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"

	"tsflow/api/pkg/httpx"
)

const (
	// maxUpload limits the size of an uploaded CSV.
	maxUpload = 64 << 20

	defaultPreviewRows = 100
	maxPreviewRows     = 10000
)

// Service serves the dataset routes.
type Service struct {
	store *Store
}

func NewService(store *Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("service: dataset store cannot be nil")
	}
	return &Service{store: store}, nil
}

func (s *Service) LoadRoutes(parentRouter *mux.Router) {
	router := parentRouter.PathPrefix("/datasets").Subrouter()
	router.StrictSlash(false)
	router.Use(httpx.JSON)

	router.HandleFunc("", s.HandleUpload).Methods("POST")
	router.HandleFunc("", s.HandleList).Methods("GET")
	router.HandleFunc("/{id}", s.HandleGet).Methods("GET")
	router.HandleFunc("/{id}/preview", s.HandlePreview).Methods("GET")
	router.HandleFunc("/{id}", s.HandleDelete).Methods("DELETE")
}

// HandleUpload imports a multipart "file" field. The dataset name defaults
// to the file name.
func (s *Service) HandleUpload(w http.ResponseWriter, r *http.Request) {
	rid := httpx.ReqID(r)
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)

	file, header, err := r.FormFile("file")
	if err != nil {
		slog.Warn("missing upload file", "requestId", rid, "error", err)
		httpx.WriteError(w, "INVALID_BODY", "multipart field \"file\" is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if ext := strings.ToLower(filepath.Ext(header.Filename)); ext != ".csv" {
		httpx.WriteError(w, "INVALID_BODY", "only .csv files are supported", http.StatusBadRequest)
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		name = header.Filename
	}
	var description *string
	if d := strings.TrimSpace(r.FormValue("description")); d != "" {
		description = &d
	}

	ds, err := s.store.Import(r.Context(), name, description, file)
	if err != nil {
		if errors.Is(err, ErrInvalidDataset) {
			slog.Warn("rejected dataset upload", "requestId", rid, "error", err)
			httpx.WriteError(w, "INVALID_BODY", err.Error(), http.StatusBadRequest)
			return
		}
		slog.Error("failed to import dataset", "requestId", rid, "error", err)
		httpx.WriteError(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, r, http.StatusCreated, ds)
}

func (s *Service) HandleList(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.List(r.Context())
	if err != nil {
		slog.Error("failed to list datasets", "requestId", httpx.ReqID(r), "error", err)
		httpx.WriteError(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, r, http.StatusOK, list)
}

func (s *Service) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(w, r, "id", "dataset")
	if !ok {
		return
	}
	ds, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeLookupError(w, r, err, id.String())
		return
	}
	httpx.WriteJSON(w, r, http.StatusOK, ds)
}

// HandlePreview returns the first rows of a dataset, 100 by default.
func (s *Service) HandlePreview(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(w, r, "id", "dataset")
	if !ok {
		return
	}
	limit, ok := Limit(w, r, defaultPreviewRows)
	if !ok {
		return
	}

	ds, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeLookupError(w, r, err, id.String())
		return
	}
	f, err := s.store.Load(r.Context(), id)
	if err != nil {
		slog.Error("failed to load dataset", "id", id, "requestId", httpx.ReqID(r), "error", err)
		httpx.WriteError(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, r, http.StatusOK, Preview(ds.ID.String(), f, limit))
}

func (s *Service) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(w, r, "id", "dataset")
	if !ok {
		return
	}
	if err := s.store.Delete(r.Context(), id); err != nil {
		writeLookupError(w, r, err, id.String())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PreviewPayload is the body of preview responses.
type PreviewPayload struct {
	DatasetID string           `json:"datasetId"`
	Kind      Kind             `json:"kind"`
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	TotalRows int              `json:"totalRows"`
}

func Preview(datasetID string, f *Frame, limit int) PreviewPayload {
	return PreviewPayload{
		DatasetID: datasetID,
		Kind:      f.Kind,
		Columns:   f.Columns(),
		Rows:      f.Rows(limit),
		TotalRows: f.Len(),
	}
}

// Limit parses the limit query parameter, capped at 10000. On a malformed
// value it writes a 400 and returns false.
func Limit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		httpx.WriteError(w, "INVALID_QUERY", "limit must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return min(n, maxPreviewRows), true
}

func writeLookupError(w http.ResponseWriter, r *http.Request, err error, id string) {
	if errors.Is(err, pgx.ErrNoRows) {
		slog.Warn("dataset not found", "id", id, "requestId", httpx.ReqID(r))
		httpx.WriteError(w, "NOT_FOUND", "dataset not found", http.StatusNotFound)
		return
	}
	slog.Error("dataset lookup failed", "id", id, "requestId", httpx.ReqID(r), "error", err)
	httpx.WriteError(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
}
