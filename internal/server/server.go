package server

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"example.com/fitgate/internal/common"
	"example.com/fitgate/internal/report"
	"example.com/fitgate/internal/store"
)

// Options configures server creation.
type Options struct {
	Store store.Service
	// MaxUpload bounds the bytes accepted per uploaded file.
	MaxUpload int64
	// Lang is the default report language.
	Lang   report.Language
	Logger logrus.FieldLogger
	// MetricsHandler serves /metrics; nil uses the shared registry.
	MetricsHandler http.Handler
}

// Server exposes the activity store over HTTP.
type Server struct {
	store     store.Service
	maxUpload int64
	lang      report.Language
	log       logrus.FieldLogger
	metrics   http.Handler
}

func NewServer(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("server: store is required")
	}
	s := &Server{
		store:     opts.Store,
		maxUpload: opts.MaxUpload,
		lang:      opts.Lang,
		log:       opts.Logger,
		metrics:   opts.MetricsHandler,
	}
	if s.maxUpload <= 0 {
		s.maxUpload = 64 << 20
	}
	if s.lang == "" {
		s.lang = report.LangEnglish
	}
	if s.log == nil {
		s.log = common.Log("server")
	}
	return s, nil
}

func guessContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return "application/json"
	case ".ndjson", ".jsonl":
		return "application/x-ndjson"
	case ".pdf":
		return "application/pdf"
	case ".yaml", ".yml":
		return "application/yaml"
	default:
		return "application/octet-stream"
	}
}
