package bill

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jstrand/bill-tracker/internal/scanning"
)

// maxUploadSize caps receipt uploads; high-resolution phone photos can be large.
const maxUploadSize = int64(50 << 20) // 50MB

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	setCORSHeaders(w)
	writeJSON(w, status, map[string]string{"error": message})
}

// scanStatus maps scan failures to HTTP statuses: quota exhaustion is 429,
// everything else (bad key, no connectivity, upstream trouble) is 502.
func scanStatus(err error) int {
	if errors.Is(err, scanning.ErrQuotaExhausted) {
		return http.StatusTooManyRequests
	}
	return http.StatusBadGateway
}

// handleScanReceipt accepts a multipart receipt upload, runs extraction and
// returns a draft bill for the user to edit. Nothing is persisted here.
func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		msg := "Error parsing form"
		if err.Error() == "http: request body too large" {
			msg = "File is too large. Maximum size is 50MB."
		}
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer f.Close()

	if header.Size > maxUploadSize {
		writeError(w, http.StatusBadRequest, "File is too large. Maximum size is 50MB.")
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading file")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = contentTypeFromExt(header.Filename)
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))

	draft, err := s.service.ScanReceipt(r.Context(), header.Filename, data, contentType)
	if err != nil {
		slog.Error("Error scanning receipt", "filename", header.Filename, "error", err)
		writeError(w, scanStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, draft)
}

func contentTypeFromExt(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleCreateBill persists a bill after the user confirmed the fields.
func (s *Server) handleCreateBill(w http.ResponseWriter, r *http.Request) {
	var bill Bill
	if err := json.NewDecoder(r.Body).Decode(&bill); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := s.service.CreateBill(&bill); err != nil {
		slog.Error("Error creating bill", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, bill)
}

// handleListBills returns bills, optionally filtered by year, date range
// (start/end as YYYY-MM-DD) or a search query.
func (s *Server) handleListBills(w http.ResponseWriter, r *http.Request) {
	var filter Filter

	q := r.URL.Query()
	if yearStr := q.Get("year"); yearStr != "" {
		year, err := strconv.Atoi(yearStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid year")
			return
		}
		filter.Year = year
	}
	if startStr := q.Get("start"); startStr != "" {
		start, err := time.Parse("2006-01-02", startStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid start date, want YYYY-MM-DD")
			return
		}
		filter.Start = start
	}
	if endStr := q.Get("end"); endStr != "" {
		end, err := time.Parse("2006-01-02", endStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid end date, want YYYY-MM-DD")
			return
		}
		filter.End = end
	}
	filter.Query = q.Get("q")

	bills, err := s.service.ListBills(filter)
	if err != nil {
		slog.Error("Error listing bills", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, bills)
}

func (s *Server) handleGetBill(w http.ResponseWriter, r *http.Request) {
	bill, err := s.service.GetBill(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Bill not found")
		return
	}
	writeJSON(w, http.StatusOK, bill)
}

func (s *Server) handleDeleteBill(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteBill(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, "Bill not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetBillImage(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetBillImage(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Image not found")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.Summary()
	if err != nil {
		slog.Error("Error computing summary", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	suggestions := s.service.Suggestions(r.URL.Query().Get("q"))
	if suggestions == nil {
		suggestions = []string{}
	}
	writeJSON(w, http.StatusOK, suggestions)
}

func (s *Server) handleGetCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.service.Categories()
	if err != nil {
		slog.Error("Error reading categories", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

func (s *Server) handlePutCategories(w http.ResponseWriter, r *http.Request) {
	var categories []string
	if err := json.NewDecoder(r.Body).Decode(&categories); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := s.service.SetCategories(categories); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

// handleGetMindeeKey reports whether a key is configured. The key itself is
// never returned, only a masked form.
func (s *Server) handleGetMindeeKey(w http.ResponseWriter, r *http.Request) {
	masked, configured, err := s.service.MindeeKey()
	if err != nil {
		slog.Error("Error reading api key", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"configured": configured,
		"key":        masked,
	})
}

func (s *Server) handlePutMindeeKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := s.service.SetMindeeKey(req.APIKey); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// handleTestMindeeKey validates a key against the live API. The request may
// carry a candidate key; otherwise the stored key is tested.
func (s *Server) handleTestMindeeKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey string `json:"api_key"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	if err := s.service.TestMindeeKey(r.Context(), req.APIKey); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, scanning.ErrInvalidAPIKey) || errors.Is(err, scanning.ErrAPIKeyMissing) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "valid"})
}

func (s *Server) handleMindeeUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := s.service.MindeeUsage()
	if err != nil {
		slog.Error("Error reading usage", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, usage)
}
