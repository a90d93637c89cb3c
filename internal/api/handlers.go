package api

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"catchup/internal/models"
	"catchup/internal/uploads"
	"catchup/internal/worker"
)

const (
	maxUploadBytes        = 10 << 20
	defaultSummaryTimeout = 2 * time.Minute

	msgSelectStudent = "Please select a student to send the notes to."
	msgNothingToDo   = "Please provide a topic or upload an image/pdf of notes 💀."
)

//go:embed templates/*.html
var templatesFS embed.FS

type TextExtractor interface {
	Extract(ctx context.Context, path string, kind models.FileKind) (string, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

type Dispatcher interface {
	Submit(ctx context.Context, n models.Notification) (string, error)
}

type Roster interface {
	Members() []models.Member
	Lookup(id string) (models.Member, bool)
	Loaded() (time.Time, bool)
}

type UploadStore interface {
	Save(file *multipart.FileHeader) (*models.Upload, error)
	Release(upload *models.Upload)
}

type StatusReader interface {
	Get(ctx context.Context, id string) (models.DeliveryStatus, bool, error)
}

// Deps are the collaborators a Handler needs.
type Deps struct {
	Extractor  TextExtractor
	Summarizer Summarizer
	Dispatcher Dispatcher
	Roster     Roster
	Uploads    UploadStore
	Statuses   StatusReader
	Logger     *zap.Logger
	// SummaryTimeout bounds one summarizer call; zero means two minutes.
	SummaryTimeout time.Duration
}

// Handler serves the lesson form, the roster and delivery statuses.
type Handler struct {
	extractor      TextExtractor
	summarizer     Summarizer
	dispatcher     Dispatcher
	roster         Roster
	uploads        UploadStore
	statuses       StatusReader
	logger         *zap.Logger
	summaryTimeout time.Duration
}

// NewHandler constructs a Handler instance.
func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := deps.SummaryTimeout
	if timeout <= 0 {
		timeout = defaultSummaryTimeout
	}
	return &Handler{
		extractor:      deps.Extractor,
		summarizer:     deps.Summarizer,
		dispatcher:     deps.Dispatcher,
		roster:         deps.Roster,
		uploads:        deps.Uploads,
		statuses:       deps.Statuses,
		logger:         logger,
		summaryTimeout: timeout,
	}
}

// RegisterRoutes attaches the templates and all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.MaxMultipartMemory = maxUploadBytes
	router.SetHTMLTemplate(template.Must(template.New("").ParseFS(templatesFS, "templates/*.html")))

	router.GET("/", h.showForm)
	router.POST("/", h.submitLesson)
	router.GET("/members", h.listMembers)
	router.GET("/deliveries/:id", h.getDelivery)
}

type pageData struct {
	Members     []models.Member
	RosterReady bool
	Summary     string
	DeliveryID  string
}

func (h *Handler) render(c *gin.Context, data pageData) {
	data.Members = h.roster.Members()
	_, data.RosterReady = h.roster.Loaded()
	c.HTML(http.StatusOK, "index.html", data)
}

func (h *Handler) showForm(c *gin.Context) {
	h.render(c, pageData{})
}

func (h *Handler) listMembers(c *gin.Context) {
	c.JSON(http.StatusOK, h.roster.Members())
}

func (h *Handler) getDelivery(c *gin.Context) {
	id := c.Param("id")
	status, ok, err := h.statuses.Get(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("read delivery status", zap.String("notification_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read delivery status failed"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "delivery not found"})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) submitLesson(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	if err := c.Request.ParseMultipartForm(maxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithError(http.StatusRequestEntityTooLarge, err)
			return
		}
		c.AbortWithError(http.StatusBadRequest, fmt.Errorf("parse form: %w", err))
		return
	}

	ctx := c.Request.Context()
	req := models.SummaryRequest{
		Topic:     c.PostForm("topic"),
		StudentID: c.PostForm("student_id"),
	}

	var text strings.Builder
	if req.Topic != "" {
		text.WriteString(req.Topic)
		text.WriteString("\n")
	}
	if file, err := c.FormFile("file"); err == nil && file != nil {
		text.WriteString(h.readUpload(ctx, file))
	}
	req.Text = text.String()

	if req.StudentID == "" {
		h.render(c, pageData{Summary: msgSelectStudent})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		h.render(c, pageData{Summary: msgNothingToDo})
		return
	}

	sumCtx, cancel := context.WithTimeout(ctx, h.summaryTimeout)
	defer cancel()
	notes, err := h.summarizer.Summarize(sumCtx, req.Text)
	if err != nil {
		h.logger.Error("summarize lesson", zap.String("student_id", req.StudentID), zap.Error(err))
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	if member, ok := h.roster.Lookup(req.StudentID); ok {
		h.logger.Info("revision notes ready", zap.String("student", member.Name), zap.String("topic", req.Topic))
	} else {
		h.logger.Warn("student not in roster", zap.String("student_id", req.StudentID))
	}

	deliveryID, err := h.dispatcher.Submit(ctx, models.Notification{
		StudentID: req.StudentID,
		Topic:     req.Topic,
		Notes:     notes,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, worker.ErrDispatcherBusy) {
			h.logger.Warn("delivery queue full, notes not sent", zap.String("student_id", req.StudentID))
		} else {
			h.logger.Error("queue notification", zap.String("student_id", req.StudentID), zap.Error(err))
		}
	}

	h.render(c, pageData{Summary: notes, DeliveryID: deliveryID})
}

// readUpload saves and extracts one upload. Extraction problems come back as
// an inline annotation; unsupported files contribute nothing.
func (h *Handler) readUpload(ctx context.Context, file *multipart.FileHeader) string {
	if _, ok := uploads.KindOf(file.Filename); !ok {
		h.logger.Debug("ignoring upload with unsupported extension", zap.String("file", file.Filename))
		return ""
	}
	upload, err := h.uploads.Save(file)
	if err != nil {
		if errors.Is(err, uploads.ErrUnsupportedKind) {
			return ""
		}
		h.logger.Warn("save upload", zap.String("file", file.Filename), zap.Error(err))
		return annotate(err)
	}
	defer h.uploads.Release(upload)

	text, err := h.extractor.Extract(ctx, upload.StoredPath, upload.Kind)
	if err != nil {
		h.logger.Warn("extract upload", zap.String("file", upload.FileName), zap.Error(err))
		return annotate(err)
	}
	return text
}

func annotate(err error) string {
	return fmt.Sprintf("\n[Error reading file: %s]", err)
}
