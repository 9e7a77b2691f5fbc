package api

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/amaydixit11/shortbin/internal/blob"
	"github.com/amaydixit11/shortbin/internal/core"
	"github.com/amaydixit11/shortbin/internal/share"
	"github.com/amaydixit11/shortbin/internal/shortcode"
	"github.com/amaydixit11/shortbin/internal/storage"
	"github.com/amaydixit11/shortbin/internal/stream"
)

const (
	uploadField = "file"

	// multipart framing allowed on top of the file itself
	uploadOverhead = 1 << 20

	sniffLen        = 512
	maxExtensionLen = 16
)

var errNoCode = errors.New("no free short code")

// UploadResponse is returned by POST /upload
type UploadResponse struct {
	Code string `json:"code"`
	URL  string `json:"url"`
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// InfoResponse is returned by GET /info/{code}
type InfoResponse struct {
	core.Entry
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "OK")
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Verifier.Authorize(r); err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="shortbin"`)
		respondErrorMessage(w, http.StatusUnauthorized, err.Error())
		return
	}
	if s.opts.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes+uploadOverhead)
	}

	part, err := findFilePart(r)
	if err != nil {
		s.respondUploadError(w, r, err)
		return
	}
	defer part.Close()

	body := bufio.NewReaderSize(part, sniffLen)
	contentType := part.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		head, _ := body.Peek(sniffLen)
		contentType = http.DetectContentType(head)
	}

	hash, size, err := s.blobs.Put(body)
	if err != nil {
		s.respondUploadError(w, r, err)
		return
	}

	ext := extension(part.FileName())
	code, err := s.insertWithFreshCode(r, hash, contentType, ext)
	if err != nil {
		respondError(w, r, err)
		return
	}

	zerolog.Ctx(r.Context()).Info().
		Str("code", code).
		Str("hash", hash).
		Int64("size", size).
		Str("content_type", contentType).
		Msg("file uploaded")

	respondJSON(w, http.StatusCreated, UploadResponse{
		Code: code,
		URL:  s.link(code).URL(),
		Hash: hash,
		Size: size,
	})
}

// insertWithFreshCode draws codes until one is not taken
func (s *Server) insertWithFreshCode(r *http.Request, hash, contentType, ext string) (string, error) {
	for attempt := 1; attempt <= s.attempts; attempt++ {
		code, err := s.codes.New()
		if err != nil {
			return "", err
		}
		err = s.catalog.Insert(r.Context(), code, hash, contentType, ext)
		if err == nil {
			return code, nil
		}
		if !storage.IsDuplicate(err) {
			return "", err
		}
		zerolog.Ctx(r.Context()).Debug().Str("code", code).Int("attempt", attempt).Msg("short code collision")
	}
	return "", fmt.Errorf("%w after %d attempts", errNoCode, s.attempts)
}

func findFilePart(r *http.Request) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, badRequest{err}
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, badRequest{fmt.Errorf("missing %q field", uploadField)}
		}
		if err != nil {
			return nil, err
		}
		if part.FormName() == uploadField {
			return part, nil
		}
		part.Close()
	}
}

func (s *Server) respondUploadError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	var bad badRequest
	switch {
	case errors.Is(err, blob.ErrTooLarge), errors.As(err, &maxErr):
		respondErrorMessage(w, http.StatusRequestEntityTooLarge, "file too large")
	case errors.As(err, &bad):
		respondErrorMessage(w, http.StatusBadRequest, bad.Error())
	default:
		respondError(w, r, err)
	}
}

// extension keeps a short alphanumeric suffix of name, lowercased
func extension(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if ext == "" || len(ext) > maxExtensionLen {
		return ""
	}
	for _, c := range ext {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return ""
		}
	}
	return ext
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if !shortcode.Valid(code) {
		respondErrorMessage(w, http.StatusNotFound, "not found")
		return
	}
	log := zerolog.Ctx(r.Context())

	ref, found, err := s.catalog.Lookup(r.Context(), code)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if !found {
		respondErrorMessage(w, http.StatusNotFound, "not found")
		return
	}

	blobPath, err := s.blobs.Path(ref.ContentHash)
	if err != nil {
		respondError(w, r, fmt.Errorf("catalog entry %s: %w", code, err))
		return
	}
	info, err := s.pool.Stat(r.Context(), blobPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Error().Str("code", code).Str("hash", ref.ContentHash).Msg("blob missing for catalog entry")
			respondErrorMessage(w, http.StatusNotFound, "not found")
			return
		}
		respondError(w, r, err)
		return
	}

	head := r.Method == http.MethodHead
	if !head {
		if err := s.catalog.RecordView(r.Context(), code); err != nil {
			respondError(w, r, err)
			return
		}
	}

	contentType := ref.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	h.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", ref.Filename(code)))
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("ETag", `"`+ref.ContentHash+`"`)

	var body stream.Stream
	if head {
		body = stream.Empty()
	} else {
		body = s.pool.Open(blobPath)
	}
	defer body.Close()

	w.WriteHeader(http.StatusOK)
	n, err := stream.Copy(r.Context(), w, body)
	if err != nil {
		// headers are gone; all we can do is cut the response short
		log.Warn().Err(err).Str("code", code).Int64("sent", n).Msg("stream interrupted")
	}
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	entry, found, err := s.stat(r, code)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if !found {
		respondErrorMessage(w, http.StatusNotFound, "not found")
		return
	}

	size, err := s.blobs.Size(entry.ContentHash)
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("code", code).Msg("failed to size blob")
		size = -1
	}
	respondJSON(w, http.StatusOK, InfoResponse{
		Entry: entry,
		URL:   s.link(code).URL(),
		Size:  size,
	})
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	_, found, err := s.stat(r, code)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if !found {
		respondErrorMessage(w, http.StatusNotFound, "not found")
		return
	}

	size := 0
	if v := r.URL.Query().Get("size"); v != "" {
		size, err = strconv.Atoi(v)
		if err != nil {
			respondErrorMessage(w, http.StatusBadRequest, "invalid size")
			return
		}
	}
	png, err := s.link(code).QR(size)
	if err != nil {
		respondErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Write(png)
}

// handleStatic serves regular files under StaticDir by their exact path.
// Directories are not listed and index.html is served under its own name.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	name := path.Clean("/" + r.PathValue("path"))

	f, err := http.Dir(s.opts.StaticDir).Open(name)
	if err != nil {
		respondStaticError(w, r, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		respondStaticError(w, r, err)
		return
	}
	if info.IsDir() {
		respondErrorMessage(w, http.StatusNotFound, "not found")
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func respondStaticError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		respondErrorMessage(w, http.StatusNotFound, "not found")
	case errors.Is(err, fs.ErrPermission):
		respondErrorMessage(w, http.StatusForbidden, "forbidden")
	default:
		respondError(w, r, err)
	}
}

func (s *Server) stat(r *http.Request, code string) (core.Entry, bool, error) {
	if !shortcode.Valid(code) {
		return core.Entry{}, false, nil
	}
	return s.catalog.Stat(r.Context(), code)
}

func (s *Server) link(code string) share.Link {
	return share.Link{BaseURL: s.opts.PublicURL, Code: code}
}
