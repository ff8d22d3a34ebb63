package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultShutdownDeadline = 10 * time.Second

	defaultMaxUploadMemory = 32 << 20
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

// Server hosts everything the signaling core does not depend on: the
// client application bundle and the named file upload/download used for
// in-call file transfer.
type Server struct {
	logger    zerolog.Logger
	buildDir  string
	uploadDir string
	*http.Server
}

type Config struct {
	Logger     *zerolog.Logger
	ListenAddr string
	BuildDir   string
	UploadDir  string
}

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger:    cfg.Logger.With().Str("component", "asset-server").Logger(),
		buildDir:  cfg.BuildDir,
		uploadDir: cfg.UploadDir,
	}

	r := http.NewServeMux()
	r.HandleFunc("POST /upload", srv.upload)
	r.HandleFunc("GET /download", srv.download)
	r.HandleFunc("OPTIONS /", corsHandler)
	r.HandleFunc("/", srv.static)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}
	return srv
}

func corsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.Header().Set("Access-Control-Allow-Credentials", "true")
	w.WriteHeader(http.StatusNoContent)
}

func (srv *Server) upload(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if err := r.ParseMultipartForm(defaultMaxUploadMemory); err != nil {
		srv.logger.Warn().Err(err).Msg("malformed upload form")
		writeState(w, false)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeState(w, false)
		return
	}
	defer func() {
		_ = file.Close()
	}()

	// client picks the stored name, keep only the base so it cannot
	// escape the upload dir
	name := filepath.Base(r.FormValue("name"))
	if name == "." || name == string(filepath.Separator) {
		writeState(w, false)
		return
	}

	if err = os.MkdirAll(srv.uploadDir, 0o755); err != nil {
		srv.logger.Error().Err(err).Msg("failed to create upload dir")
		writeState(w, false)
		return
	}
	dst, err := os.Create(filepath.Join(srv.uploadDir, name))
	if err != nil {
		srv.logger.Error().Err(err).Str("name", name).Msg("failed to create upload file")
		writeState(w, false)
		return
	}
	defer func() {
		_ = dst.Close()
	}()
	if _, err = io.Copy(dst, file); err != nil {
		srv.logger.Error().Err(err).Str("name", name).Msg("failed to store upload")
		writeState(w, false)
		return
	}

	srv.logger.Debug().Str("name", name).Msg("file uploaded")
	writeState(w, true)
}

func (srv *Server) download(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	uploaded := filepath.Base(r.URL.Query().Get("uploaded"))
	if uploaded == "." || uploaded == string(filepath.Separator) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	path := filepath.Join(srv.uploadDir, uploaded)
	if _, err := os.Stat(path); err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		name = uploaded
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, path)
}

// static serves the client bundle, falling back to index.html for any
// unmatched path so client-side routing works after a page reload.
func (srv *Server) static(w http.ResponseWriter, r *http.Request) {
	path := filepath.Join(srv.buildDir, filepath.Clean("/"+r.URL.Path))
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		http.ServeFile(w, r, path)
		return
	}
	http.ServeFile(w, r, filepath.Join(srv.buildDir, "index.html"))
}

func writeState(w http.ResponseWriter, state bool) {
	b := []byte(`{"state":false}`)
	if state {
		b = []byte(`{"state":true}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(b); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	hErr := make(chan error)
	go func() {
		hErr <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-hErr:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}
