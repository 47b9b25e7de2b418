package handler

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docask/internal/pkg/errcode"
	"github.com/xxxsen/docask/internal/pkg/response"
	"github.com/xxxsen/docask/internal/service"
)

type DocumentHandler struct {
	documents *service.DocumentService
	maxBytes  int64
}

func NewDocumentHandler(documents *service.DocumentService, maxBytes int64) *DocumentHandler {
	return &DocumentHandler{documents: documents, maxBytes: maxBytes}
}

type createDocumentRequest struct {
	SpaceID  string `json:"space_id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
}

// Create accepts either a multipart upload (file + space_id fields) or a
// JSON body with inline content.
func (h *DocumentHandler) Create(c *gin.Context) {
	var in service.DocumentUpload
	if c.ContentType() == "multipart/form-data" {
		upload, ok := h.bindMultipart(c)
		if !ok {
			return
		}
		in = upload
	} else {
		var req createDocumentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, errcode.ErrInvalid, "invalid request")
			return
		}
		if req.Content == "" {
			response.Error(c, errcode.ErrInvalid, "content is required")
			return
		}
		mimeType := req.MimeType
		if mimeType == "" {
			mimeType = "text/markdown"
		}
		in = service.DocumentUpload{
			SpaceID:  req.SpaceID,
			Title:    req.Title,
			Filename: req.Filename,
			MimeType: mimeType,
			Data:     []byte(req.Content),
		}
	}
	doc, created, err := h.documents.Create(c.Request.Context(), getUserID(c), in)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"document": doc, "created": created})
}

func (h *DocumentHandler) bindMultipart(c *gin.Context) (service.DocumentUpload, bool) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "file is required")
		return service.DocumentUpload{}, false
	}
	if h.maxBytes > 0 && fileHeader.Size > h.maxBytes {
		response.Error(c, errcode.ErrInvalidFile, "file exceeds "+formatUploadLimit(h.maxBytes))
		return service.DocumentUpload{}, false
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "failed to open file")
		return service.DocumentUpload{}, false
	}
	defer func() { _ = file.Close() }()
	data, err := io.ReadAll(file)
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "failed to read file")
		return service.DocumentUpload{}, false
	}
	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	return service.DocumentUpload{
		SpaceID:  c.PostForm("space_id"),
		Title:    c.PostForm("title"),
		Filename: fileHeader.Filename,
		MimeType: mimeType,
		Data:     data,
	}, true
}

func (h *DocumentHandler) List(c *gin.Context) {
	spaceID := c.Query("space_id")
	if spaceID == "" {
		response.Error(c, errcode.ErrInvalid, "space_id is required")
		return
	}
	limit, offset := parsePage(c)
	docs, err := h.documents.List(c.Request.Context(), getUserID(c), spaceID, limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"documents": docs})
}

func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.documents.Get(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

// File redirects to a signed URL when the store can mint one, otherwise
// streams the blob through.
func (h *DocumentHandler) File(c *gin.Context) {
	out, err := h.documents.OpenFile(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	if out.URL != "" {
		c.Redirect(http.StatusFound, out.URL)
		return
	}
	defer func() { _ = out.Reader.Close() }()
	c.Header("Content-Type", out.MimeType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", out.Name))
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, out.Reader)
}

func (h *DocumentHandler) Reprocess(c *gin.Context) {
	if err := h.documents.Reprocess(c.Request.Context(), getUserID(c), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"id": c.Param("id")})
}

func (h *DocumentHandler) Sync(c *gin.Context) {
	count, err := h.documents.SyncUploaded(c.Request.Context(), getUserID(c), c.Query("space_id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"count": count})
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	if err := h.documents.Delete(c.Request.Context(), getUserID(c), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"id": c.Param("id")})
}

func formatUploadLimit(bytes int64) string {
	const mb = 1024 * 1024
	if bytes <= 0 {
		return "0MB"
	}
	value := bytes / mb
	if value <= 0 {
		value = 1
	}
	return strconv.FormatInt(value, 10) + "MB"
}
