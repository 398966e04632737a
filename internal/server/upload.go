package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/kikuyu-catholic-sheets/sheets/internal/model"
	"github.com/kikuyu-catholic-sheets/sheets/internal/upload"
)

const (
	// formOverhead covers the text fields and multipart framing.
	formOverhead = 64 << 10
	maxFieldSize = 4 << 10
	sniffLen     = 512
)

type uploadData struct {
	Title      string
	Composer   string
	Category   string
	Categories []model.Category
	Token      string
	Score      *model.Score
	MaxMB      int64
}

func (s *Server) uploadPage(w http.ResponseWriter, r *http.Request, status int, data uploadData, errMsg, success string) {
	data.Categories = model.Categories
	data.MaxMB = s.cfg.MaxFileSize >> 20
	if data.Token == "" {
		data.Token = upload.NewToken()
	}
	s.render(w, r, status, "upload", pageData{
		Title:   "Upload Music Sheet",
		Active:  "upload",
		Error:   errMsg,
		Success: success,
		Data:    data,
	})
}

func (s *Server) handleUploadForm(w http.ResponseWriter, r *http.Request) {
	s.uploadPage(w, r, http.StatusOK, uploadData{}, "", "")
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r)
	token := r.URL.Query().Get("token")
	if token == "" {
		token = upload.NewToken()
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+formOverhead)
	fields, tmp, err := s.readUploadForm(r)
	if tmp != nil {
		defer tmp.cleanup()
	}
	data := uploadData{Title: fields["title"], Composer: fields["composer"], Category: fields["category"]}
	if err != nil {
		s.log.Warn("upload form rejected", "err", err)
		status, msg := s.formMessage(err)
		s.uploadPage(w, r, status, data, msg, "")
		return
	}

	req := upload.Request{Title: data.Title, Composer: data.Composer, Category: data.Category}
	if tmp != nil {
		req.File = &upload.File{Name: tmp.filename, ContentType: tmp.contentType, Size: tmp.size, Body: tmp.f}
	}
	if _, err := s.uploads.Validate(id, req); err != nil {
		s.uploadPage(w, r, statusFor(err), data, upload.Message(err), "")
		return
	}

	s.tracker.Start(token, id.UID, tmp.size)
	score, err := s.uploads.Run(r.Context(), id, req, s.tracker.Func(token, id.UID))
	s.tracker.Finish(token, id.UID, score.ID, err)
	if err != nil {
		s.uploadPage(w, r, statusFor(err), data, upload.Message(err), "")
		return
	}
	s.uploadPage(w, r, http.StatusCreated, uploadData{Score: &score}, "", "Score uploaded successfully!")
}

func (s *Server) handleUploadProgress(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r)
	if id == nil {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "not signed in"})
		return
	}
	p, ok := s.tracker.Get(r.URL.Query().Get("id"), id.UID)
	if !ok {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "unknown upload"})
		return
	}
	respondJSON(w, http.StatusOK, p)
}

var (
	errFileTooLarge = errors.New("file exceeds limit")
	errEmptyFile    = errors.New("empty file")
	errNotMultipart = errors.New("expecting multipart form")
)

// formMessage is the upload page text for a form that could not be read.
func (s *Server) formMessage(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge), errors.Is(err, errFileTooLarge):
		return http.StatusRequestEntityTooLarge, fmt.Sprintf("The file is larger than %d MB.", s.cfg.MaxFileSize>>20)
	case errors.Is(err, errEmptyFile):
		return http.StatusBadRequest, "The chosen file is empty."
	case errors.Is(err, errNotMultipart):
		return http.StatusBadRequest, "Please submit the upload form."
	default:
		return http.StatusBadRequest, "The upload could not be read. Please try again."
	}
}

type tempUpload struct {
	f           *os.File
	path        string
	size        int64
	contentType string
	filename    string
}

func (t *tempUpload) cleanup() {
	t.f.Close()
	os.Remove(t.path)
}

// readUploadForm streams the multipart body. Text fields are read into
// memory; the file part is spooled to a temp file.
func (s *Server) readUploadForm(r *http.Request) (map[string]string, *tempUpload, error) {
	fields := make(map[string]string)
	mr, err := r.MultipartReader()
	if err != nil {
		return fields, nil, errNotMultipart
	}
	var tmp *tempUpload
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fields, tmp, err
		}
		switch name := part.FormName(); name {
		case "title", "composer", "category":
			b, err := io.ReadAll(io.LimitReader(part, maxFieldSize))
			part.Close()
			if err != nil {
				return fields, tmp, err
			}
			fields[name] = string(b)
		case "file":
			if tmp != nil || part.FileName() == "" {
				// No file chosen, or a second file.
				part.Close()
				continue
			}
			tmp, err = s.persistTemp(part)
			part.Close()
			if err != nil {
				return fields, nil, err
			}
		default:
			part.Close()
		}
	}
	return fields, tmp, nil
}

func (s *Server) persistTemp(part *multipart.Part) (*tempUpload, error) {
	tmpFile, err := os.CreateTemp(s.uploadDir, "score-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	discard := func(err error) (*tempUpload, error) {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return nil, err
	}
	var sniff []byte
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > s.cfg.MaxFileSize {
				return discard(errFileTooLarge)
			}
			if len(sniff) < sniffLen {
				chunk := min(n, sniffLen-len(sniff))
				sniff = append(sniff, buf[:chunk]...)
			}
			if _, err := tmpFile.Write(buf[:n]); err != nil {
				return discard(fmt.Errorf("write temp file: %w", err))
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return discard(readErr)
		}
	}
	if written == 0 {
		return discard(errEmptyFile)
	}
	if _, err := tmpFile.Seek(0, io.SeekStart); err != nil {
		return discard(fmt.Errorf("rewind temp file: %w", err))
	}
	// The declared type is what the upload checks. Sniffing only fills in for
	// clients that send none.
	contentType := part.Header.Get("Content-Type")
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = http.DetectContentType(sniff)
	}
	return &tempUpload{
		f:           tmpFile,
		path:        tmpFile.Name(),
		size:        written,
		contentType: contentType,
		filename:    filepath.Base(part.FileName()),
	}, nil
}
