package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashnegiii/chadoc/internal/models"
	"github.com/ashnegiii/chadoc/internal/transcript"
)

type documentsPageData struct {
	Documents []models.Document
	MaxUpload string
	Toast     *transcript.Notification
}

// toastHeader carries a JSON notification for the browser alongside a partial response.
const toastHeader = "X-Toast"

const allowedUploadExt = ".csv"

// HandleDocuments renders the documents screen listing the knowledge base.
func (m Main) HandleDocuments(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data := documentsPageData{MaxUpload: models.HumanSize(m.cfg.MaxUploadBytes)}
	docs, err := m.documents(r)
	if err != nil {
		m.logger.Error("Failed to list documents", slog.String(errLoggerKey, err.Error()))
		data.Toast = &transcript.Notification{Title: "Error", Description: "Could not load documents from server."}
	}
	data.Documents = docs

	if err := m.templates.ExecuteTemplate(w, "documents.html", data); err != nil {
		m.logger.Error("Failed to render documents page", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleUpload accepts a CSV file from a multipart form field named "file", forwards it to the backend
// and answers with the refreshed document list.
func (m Main) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uploadFailed := transcript.Notification{
		Title:       "Upload failed",
		Description: "Failed to upload document. Please try again.",
	}

	// Leave room for the multipart envelope around the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, m.cfg.MaxUploadBytes+1<<20)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			m.replyToast(w, http.StatusRequestEntityTooLarge, uploadFailed)
			return
		}
		m.logger.Error("Failed to read upload", slog.String(errLoggerKey, err.Error()))
		m.replyToast(w, http.StatusBadRequest, uploadFailed)
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(hdr.Filename), allowedUploadExt) {
		m.replyToast(w, http.StatusUnsupportedMediaType, transcript.Notification{
			Title:       "Upload failed",
			Description: fmt.Sprintf("Only %s files are supported.", allowedUploadExt),
		})
		return
	}
	if hdr.Size > m.cfg.MaxUploadBytes {
		m.replyToast(w, http.StatusRequestEntityTooLarge, transcript.Notification{
			Title:       "Upload failed",
			Description: fmt.Sprintf("Documents can be at most %s.", models.HumanSize(m.cfg.MaxUploadBytes)),
		})
		return
	}

	id, err := m.backend.Upload(r.Context(), hdr.Filename, file)
	if err != nil {
		m.logger.Error("Failed to upload document",
			slog.String("filename", hdr.Filename),
			slog.String(errLoggerKey, err.Error()))
		m.replyToast(w, http.StatusBadGateway, uploadFailed)
		return
	}

	m.uploads.Add(id, models.Document{
		ID:         id,
		Name:       hdr.Filename,
		UploadedAt: time.Now().Format(models.UploadedAtLayout),
		Size:       models.HumanSize(hdr.Size),
	})
	m.logger.Info("Document uploaded", slog.String("documentID", id), slog.String("filename", hdr.Filename))

	m.replyDocuments(w, r, transcript.Notification{
		Title:       "Upload successful",
		Description: fmt.Sprintf("%s has been uploaded successfully.", hdr.Filename),
	})
}

// HandleDeleteDocument removes the document named by the "id" form field and answers with the
// refreshed document list.
func (m Main) HandleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.FormValue("id")
	if id == "" {
		http.Error(w, "Document id is required", http.StatusBadRequest)
		return
	}
	name := r.FormValue("name")
	if name == "" {
		name = id
	}

	if err := m.backend.Delete(r.Context(), id); err != nil {
		m.logger.Error("Failed to delete document",
			slog.String("documentID", id),
			slog.String(errLoggerKey, err.Error()))
		m.replyToast(w, http.StatusBadGateway, transcript.Notification{
			Title:       "Delete failed",
			Description: "Failed to delete document. Please try again.",
		})
		return
	}
	m.uploads.Remove(id)

	m.replyDocuments(w, r, transcript.Notification{
		Title:       "Document deleted",
		Description: fmt.Sprintf("%s has been deleted.", name),
	})
}

// documents lists the backend's documents, filling in the upload metadata remembered for them.
func (m Main) documents(r *http.Request) ([]models.Document, error) {
	docs, err := m.backend.Documents(r.Context())
	if err != nil {
		return []models.Document{}, err
	}
	for i, doc := range docs {
		meta, ok := m.uploads.Get(doc.ID)
		if !ok {
			continue
		}
		if docs[i].UploadedAt == "" {
			docs[i].UploadedAt = meta.UploadedAt
		}
		if docs[i].Size == "" {
			docs[i].Size = meta.Size
		}
	}
	return docs, nil
}

func (m Main) replyDocuments(w http.ResponseWriter, r *http.Request, toast transcript.Notification) {
	docs, err := m.documents(r)
	if err != nil {
		m.logger.Error("Failed to list documents", slog.String(errLoggerKey, err.Error()))
		m.replyToast(w, http.StatusBadGateway, transcript.Notification{
			Title:       "Error",
			Description: "Could not load documents from server.",
		})
		return
	}

	setToast(w, toast)
	if err := m.templates.ExecuteTemplate(w, "document_list", documentsPageData{Documents: docs}); err != nil {
		m.logger.Error("Failed to render document list", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m Main) replyToast(w http.ResponseWriter, status int, toast transcript.Notification) {
	setToast(w, toast)
	http.Error(w, toast.Description, status)
}

func setToast(w http.ResponseWriter, toast transcript.Notification) {
	data, err := json.Marshal(toast)
	if err != nil {
		return
	}
	w.Header().Set(toastHeader, string(data))
}
