package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
)

type upload struct {
	name string
	data []byte
}

// readUploads accepts either a multipart form carrying one or more files or
// a raw request body named by the "name" query parameter.
func (s *Server) readUploads(w http.ResponseWriter, r *http.Request) ([]upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		if len(data) == 0 {
			return nil, errors.New("empty body")
		}
		name := strings.TrimSpace(r.URL.Query().Get("name"))
		if name == "" {
			name = "upload.fit"
		}
		return []upload{{name: name, data: data}}, nil
	}

	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		return nil, fmt.Errorf("parse multipart: %w", err)
	}
	if r.MultipartForm == nil {
		return nil, errors.New("no files provided")
	}
	var out []upload
	for _, files := range r.MultipartForm.File {
		for _, fh := range files {
			data, err := readPart(fh)
			if err != nil {
				return nil, fmt.Errorf("read upload %s: %w", fh.Filename, err)
			}
			out = append(out, upload{name: filepath.Base(fh.Filename), data: data})
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no files uploaded")
	}
	return out, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	if fh == nil {
		return nil, errors.New("nil file header")
	}
	src, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(src)
}
