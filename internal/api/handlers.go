package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/bobarin/memorial/internal/db"
	"github.com/bobarin/memorial/internal/models"
	"github.com/bobarin/memorial/internal/queue"
	"github.com/bobarin/memorial/internal/services"
	"github.com/bobarin/memorial/internal/storage"
	"github.com/go-chi/chi/v5"
)

// Upload batch limits
const (
	MinUploadImages = 3
	MaxUploadImages = 10

	uploadFormField     = "images"
	multipartMemoryBuf  = 32 << 20
	defaultMaxUploadLen = 64 << 20
)

var allowedImageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".bmp": true, ".tif": true, ".tiff": true,
}

// PersonStore is the record store used by the handlers.
type PersonStore interface {
	CreatePerson(ctx context.Context, person *models.Person) error
	GetPerson(ctx context.Context, id int64) (*models.Person, error)
	ListPersons(ctx context.Context, search string) ([]models.Person, error)
	ListPersonsForExport(ctx context.Context) ([]models.Person, error)
	SetPersonQRPath(ctx context.Context, id int64, qrPath string) error
	MarkImagesUploaded(ctx context.Context, id int64) (bool, error)
	ClaimVideoProcessing(ctx context.Context, id int64) (bool, error)
	SetPersonVideoProcessing(ctx context.Context, id int64, processing bool) error
}

type Handler struct {
	db             PersonStore
	queue          queue.Queue
	storage        *storage.Storage
	qr             *services.QRCodeService
	reports        *services.ReportService
	publicBaseURL  string
	maxUploadBytes int64
}

func NewHandler(
	database PersonStore,
	q queue.Queue,
	stor *storage.Storage,
	qr *services.QRCodeService,
	reports *services.ReportService,
	publicBaseURL string,
	maxUploadBytes int64,
) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadLen
	}
	return &Handler{
		db:             database,
		queue:          q,
		storage:        stor,
		qr:             qr,
		reports:        reports,
		publicBaseURL:  strings.TrimRight(publicBaseURL, "/"),
		maxUploadBytes: maxUploadBytes,
	}
}

// ViewURL is the public viewer address encoded into a person's QR code.
func (h *Handler) ViewURL(personID int64) string {
	return fmt.Sprintf("%s/view/%d", h.publicBaseURL, personID)
}

// CreatePerson handles POST /v1/persons
func (h *Handler) CreatePerson(w http.ResponseWriter, r *http.Request) {
	var req models.CreatePersonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	person := &models.Person{
		Name:      strings.TrimSpace(req.Name),
		BirthDate: req.BirthDate,
		DeathDate: req.DeathDate,
	}

	if err := h.db.CreatePerson(r.Context(), person); err != nil {
		log.Printf("[API] Failed to create person: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to create person")
		return
	}

	// The record stands even if the QR code cannot be written; exports
	// show it as not generated.
	qrPath, err := h.qr.Generate(person.ID, h.ViewURL(person.ID))
	if err != nil {
		log.Printf("[API] Failed to generate QR code for person %d: %v", person.ID, err)
	} else if err := h.db.SetPersonQRPath(r.Context(), person.ID, qrPath); err != nil {
		log.Printf("[API] Failed to save QR path for person %d: %v", person.ID, err)
	} else {
		person.QRPath = &qrPath
	}

	log.Printf("[API] Created person %d", person.ID)
	respondJSON(w, http.StatusCreated, h.buildPersonResponse(*person))
}

// ListPersons handles GET /v1/persons
// Query params:
//   - search: case-insensitive substring match on name
func (h *Handler) ListPersons(w http.ResponseWriter, r *http.Request) {
	search := strings.TrimSpace(r.URL.Query().Get("search"))

	persons, err := h.db.ListPersons(r.Context(), search)
	if err != nil {
		log.Printf("[API] Failed to list persons: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to list persons")
		return
	}

	responses := make([]models.PersonResponse, len(persons))
	for i, p := range persons {
		responses[i] = h.buildPersonResponse(p)
	}

	respondJSON(w, http.StatusOK, models.ListPersonsResponse{
		Persons: responses,
		Total:   len(responses),
		Search:  search,
	})
}

// GetPerson handles GET /v1/persons/{id} and GET /view/{id}
func (h *Handler) GetPerson(w http.ResponseWriter, r *http.Request) {
	person, ok := h.loadPerson(w, r)
	if !ok {
		return
	}

	response := h.buildPersonResponse(*person)
	files, err := h.storage.ListUploads(person.ID)
	if err != nil {
		log.Printf("[API] Failed to list uploads for person %d: %v", person.ID, err)
	} else {
		response.ImageFiles = files
	}

	respondJSON(w, http.StatusOK, response)
}

// UploadImages handles POST /v1/persons/{id}/images
// Accepts a multipart form with 3 to 10 files in the "images" field, once
// per person.
func (h *Handler) UploadImages(w http.ResponseWriter, r *http.Request) {
	person, ok := h.loadPerson(w, r)
	if !ok {
		return
	}

	if person.ImagesUploaded {
		respondError(w, http.StatusConflict, "Images have already been uploaded for this person")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemoryBuf); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Upload exceeds %d MB", h.maxUploadBytes>>20))
			return
		}
		respondError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File[uploadFormField]
	if len(headers) < MinUploadImages || len(headers) > MaxUploadImages {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("Upload between %d and %d images", MinUploadImages, MaxUploadImages))
		return
	}

	for _, fh := range headers {
		if !isAllowedImage(fh.Filename) {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported file type: %q", fh.Filename))
			return
		}
	}

	uploads, closeAll, err := openUploads(headers)
	defer closeAll()
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to read uploaded files")
		return
	}

	batch, err := h.storage.StageUploads(person.ID, uploads)
	if err != nil {
		log.Printf("[API] Failed to save uploads for person %d: %v", person.ID, err)
		respondError(w, http.StatusInternalServerError, "Failed to save images")
		return
	}

	// Only the request that flips the flag moves its batch into place.
	marked, err := h.db.MarkImagesUploaded(r.Context(), person.ID)
	if err != nil || !marked {
		batch.Discard()
		if err != nil {
			log.Printf("[API] Failed to mark images uploaded for person %d: %v", person.ID, err)
			respondError(w, http.StatusInternalServerError, "Failed to save images")
			return
		}
		respondError(w, http.StatusConflict, "Images have already been uploaded for this person")
		return
	}

	if err := batch.Commit(); err != nil {
		log.Printf("[API] Failed to commit uploads for person %d: %v", person.ID, err)
		respondError(w, http.StatusInternalServerError, "Failed to save images")
		return
	}

	person.ImagesUploaded = true
	log.Printf("[API] Person %d: accepted %d image(s)", person.ID, len(batch.Names))

	response := h.buildPersonResponse(*person)
	if files, err := h.storage.ListUploads(person.ID); err == nil {
		response.ImageFiles = files
	}
	respondJSON(w, http.StatusCreated, response)
}

// GenerateVideo handles POST /v1/persons/{id}/video
// Returns 202 once the job is queued; the video is rendered in the background.
func (h *Handler) GenerateVideo(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePersonID(w, r)
	if !ok {
		return
	}

	claimed, err := h.db.ClaimVideoProcessing(r.Context(), id)
	if err != nil {
		log.Printf("[API] Failed to claim video processing for person %d: %v", id, err)
		respondError(w, http.StatusInternalServerError, "Failed to start video generation")
		return
	}

	if !claimed {
		person, err := h.db.GetPerson(r.Context(), id)
		if err != nil {
			respondLookupError(w, err)
			return
		}
		respondError(w, http.StatusConflict, generateRefusal(person))
		return
	}

	if err := h.queue.Enqueue(r.Context(), id); err != nil {
		log.Printf("[API] Failed to enqueue video job for person %d: %v", id, err)
		if resetErr := h.db.SetPersonVideoProcessing(context.WithoutCancel(r.Context()), id, false); resetErr != nil {
			log.Printf("[API] Failed to reset processing flag for person %d: %v", id, resetErr)
		}
		respondError(w, http.StatusServiceUnavailable, "Failed to enqueue video job")
		return
	}

	log.Printf("[API] Person %d: video job enqueued", id)
	respondJSON(w, http.StatusAccepted, models.GenerateVideoResponse{
		PersonID:        id,
		VideoProcessing: true,
	})
}

func generateRefusal(p *models.Person) string {
	switch {
	case !p.ImagesUploaded:
		return "Images must be uploaded before generating a video"
	case p.VideoGenerated:
		return "Video has already been generated"
	case p.VideoProcessing:
		return "Video is already being generated"
	default:
		return "Video generation is not allowed"
	}
}

// ExportPDF handles GET /v1/export/pdf
func (h *Handler) ExportPDF(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "application/pdf", ".pdf", h.reports.RenderPDF)
}

// ExportXLSX handles GET /v1/export/xlsx
func (h *Handler) ExportXLSX(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", ".xlsx", h.reports.RenderXLSX)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request, contentType, ext string, render func([]models.Person) ([]byte, error)) {
	persons, err := h.db.ListPersonsForExport(r.Context())
	if err != nil {
		log.Printf("[API] Failed to load persons for export: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to export records")
		return
	}

	// Render fully before writing headers so failures can still return JSON.
	data, err := render(persons)
	if err != nil {
		log.Printf("[API] Failed to render %s export: %v", ext, err)
		respondError(w, http.StatusInternalServerError, "Failed to export records")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s%s"`, services.ReportBaseFilename, ext))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Printf("[API] Failed to write %s export: %v", ext, err)
	}
}

// Helper methods

func (h *Handler) loadPerson(w http.ResponseWriter, r *http.Request) (*models.Person, bool) {
	id, ok := parsePersonID(w, r)
	if !ok {
		return nil, false
	}

	person, err := h.db.GetPerson(r.Context(), id)
	if err != nil {
		respondLookupError(w, err)
		return nil, false
	}
	return person, true
}

func (h *Handler) buildPersonResponse(p models.Person) models.PersonResponse {
	response := models.PersonResponse{
		Person:     p,
		Status:     p.Status(),
		ImageFiles: []string{},
	}

	if p.QRPath != nil && *p.QRPath != "" {
		url := h.storage.PublicURL(*p.QRPath)
		response.QRURL = &url
	}

	if p.VideoGenerated && p.VideoPath != nil && *p.VideoPath != "" {
		url := h.storage.PublicURL(*p.VideoPath)
		response.VideoURL = &url
	}

	return response
}

func parsePersonID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "Invalid person ID")
		return 0, false
	}
	return id, true
}

func respondLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrPersonNotFound) {
		respondError(w, http.StatusNotFound, "Person not found")
		return
	}
	log.Printf("[API] Failed to load person: %v", err)
	respondError(w, http.StatusInternalServerError, "Failed to load person")
}

func isAllowedImage(filename string) bool {
	return allowedImageExts[strings.ToLower(path.Ext(filename))]
}

func openUploads(headers []*multipart.FileHeader) ([]storage.Upload, func(), error) {
	var files []multipart.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}

	uploads := make([]storage.Upload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, closeAll, err
		}
		files = append(files, f)
		uploads = append(uploads, storage.Upload{Filename: fh.Filename, Content: f})
	}
	return uploads, closeAll, nil
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{"status": "ok"}
	if n, err := h.queue.Len(r.Context()); err == nil {
		response["queue_length"] = n
	}
	respondJSON(w, http.StatusOK, response)
}
