// Package upload publishes a new score: it validates the form, streams the
// PDF to object storage with progress, then writes the score record.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/kikuyu-catholic-sheets/sheets/internal/model"
	"github.com/kikuyu-catholic-sheets/sheets/internal/objectstore"
	"github.com/kikuyu-catholic-sheets/sheets/internal/queue"
	"github.com/kikuyu-catholic-sheets/sheets/internal/repository"
)

// PDFContentType is the only accepted file type.
const PDFContentType = "application/pdf"

// File is the chosen PDF. Size is -1 when unknown.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Request is one submitted upload form.
type Request struct {
	Title    string
	Composer string
	Category string
	File     *File
}

// ErrUnauthenticated is returned when nobody is signed in.
var ErrUnauthenticated = errors.New("sign in to upload scores")

// ValidationError names the field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// TransferError means the file never reached storage. No record exists.
type TransferError struct {
	Err error
}

func (e *TransferError) Error() string { return "upload file: " + e.Err.Error() }
func (e *TransferError) Unwrap() error { return e.Err }

// PartialError means the file was stored under Path but its record could
// not be written.
type PartialError struct {
	Path string
	Err  error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("file stored at %s but details not saved: %v", e.Path, e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

// Recorder writes score records.
type Recorder interface {
	Create(ctx context.Context, s repository.NewScore) (model.Score, error)
}

// Flow runs uploads against its collaborators.
type Flow struct {
	objects objectstore.Store
	scores  Recorder
	queue   queue.Enqueuer
	log     *log.Logger
	newID   func() string
}

// NewFlow wires a Flow.
func NewFlow(objects objectstore.Store, scores Recorder, q queue.Enqueuer, logger *log.Logger) *Flow {
	return &Flow{objects: objects, scores: scores, queue: q, log: logger, newID: uuid.NewString}
}

// Validate checks req without touching any collaborator. The returned
// category is the parsed form value.
func (f *Flow) Validate(id *model.Identity, req Request) (model.Category, error) {
	if id == nil || id.UID == "" {
		return "", ErrUnauthenticated
	}
	if strings.TrimSpace(req.Title) == "" {
		return "", &ValidationError{Field: "title", Message: "Please enter the score name."}
	}
	if strings.TrimSpace(req.Composer) == "" {
		return "", &ValidationError{Field: "composer", Message: "Please enter the composer."}
	}
	if strings.TrimSpace(req.Category) == "" {
		return "", &ValidationError{Field: "category", Message: "Please select a category."}
	}
	category, err := model.ParseCategory(req.Category)
	if err != nil {
		return "", &ValidationError{Field: "category", Message: "Please select a category from the list."}
	}
	if req.File == nil || req.File.Body == nil {
		return "", &ValidationError{Field: "file", Message: "Please choose a PDF file."}
	}
	if !IsPDF(req.File.ContentType) {
		return "", &ValidationError{Field: "file", Message: "Only PDF files can be uploaded."}
	}
	return category, nil
}

// IsPDF reports whether contentType names a PDF, ignoring parameters.
func IsPDF(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == PDFContentType
}

// ObjectPath is where the file of an upload by uid is stored.
func ObjectPath(uid, id, fileName string) string {
	base := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "score.pdf"
	}
	return fmt.Sprintf("scores/%s/%s-%s", uid, id, base)
}

// Run validates req, stores the file and writes the record. The steps are
// sequential and nothing is retried. Cancelling ctx during the transfer
// aborts it before any record is written.
func (f *Flow) Run(ctx context.Context, id *model.Identity, req Request, progress objectstore.ProgressFunc) (model.Score, error) {
	category, err := f.Validate(id, req)
	if err != nil {
		return model.Score{}, err
	}
	objectPath := ObjectPath(id.UID, f.newID(), req.File.Name)
	logger := f.log.With("uid", id.UID, "path", objectPath)

	if err := f.objects.Put(ctx, objectPath, req.File.Body, req.File.Size, PDFContentType, progress); err != nil {
		logger.Warn("file transfer failed", "err", err)
		return model.Score{}, &TransferError{Err: err}
	}
	fileURL, err := f.objects.URL(ctx, objectPath)
	if err != nil {
		logger.Warn("file url lookup failed", "err", err)
		f.reclaim(ctx, objectPath, logger)
		return model.Score{}, &TransferError{Err: err}
	}

	score, err := f.scores.Create(ctx, repository.NewScore{
		Title:    strings.TrimSpace(req.Title),
		Composer: strings.TrimSpace(req.Composer),
		Category: category,
		OwnerID:  id.UID,
		FileURL:  fileURL,
		FilePath: objectPath,
	})
	if err != nil {
		logger.Error("score record not saved", "err", err)
		f.reclaim(ctx, objectPath, logger)
		return model.Score{}, &PartialError{Path: objectPath, Err: err}
	}

	if err := f.queue.Enqueue(context.WithoutCancel(ctx), queue.InspectScoreTask, queue.InspectPayload{
		ScoreID:  score.ID,
		FilePath: objectPath,
	}); err != nil {
		logger.Warn("inspect task not queued", "id", score.ID, "err", err)
	}
	logger.Info("score uploaded", "id", score.ID)
	return score, nil
}

func (f *Flow) reclaim(ctx context.Context, objectPath string, logger *log.Logger) {
	err := f.queue.Enqueue(context.WithoutCancel(ctx), queue.ReclaimObjectTask, queue.ReclaimPayload{Path: objectPath})
	if err != nil {
		logger.Error("orphaned file not reported", "err", err)
	}
}

// Message maps a Run or Validate error to the text shown on the upload page.
func Message(err error) string {
	var (
		verr *ValidationError
		terr *TransferError
		perr *PartialError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		return verr.Message
	case errors.Is(err, ErrUnauthenticated):
		return "Please sign in to upload scores."
	case errors.As(err, &perr):
		return "File stored but details not saved. Please try again."
	case errors.As(err, &terr):
		if errors.Is(err, context.Canceled) {
			return "Upload cancelled."
		}
		return "Failed to upload file. Please try again."
	default:
		return "An error occurred. Please try again."
	}
}
