// Package server provides the Echo web server for genre classification
// uploads and playlists.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/nzoschke/genrelab/pkg/analysis"
	"github.com/nzoschke/genrelab/pkg/config"
	"github.com/nzoschke/genrelab/pkg/playlist"
)

// Classifier classifies an audio file on disk.
type Classifier interface {
	ClassifyFile(ctx context.Context, path string) (*analysis.Prediction, error)
}

// UploadResponse is returned by POST /api/upload. Confidence maps each genre
// to its averaged score; TopConfidence is the winning genre's score.
type UploadResponse struct {
	Filename      string             `json:"filename"`
	Genre         string             `json:"genre"`
	Confidence    map[string]float64 `json:"confidence"`
	TopConfidence float64            `json:"top_confidence"`
	Flags         []analysis.Flag    `json:"flags"`
	PlaylistID    string             `json:"playlist_id"`
}

// Server serves the upload API.
type Server struct {
	e          *echo.Echo
	addr       string
	uploadDir  string
	classifier Classifier
	playlists  *playlist.Store
	log        *zap.Logger
}

// New builds the server and its routes. The upload directory is created if
// needed.
func New(cfg config.Server, classifier Classifier, playlists *playlist.Store, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.UploadDir, 0755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	s := &Server{
		e:          echo.New(),
		addr:       cfg.Addr,
		uploadDir:  cfg.UploadDir,
		classifier: classifier,
		playlists:  playlists,
		log:        log,
	}

	e := s.e
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			log.Info("request", fields...)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))
	if cfg.MaxUploadBytes > 0 {
		e.Use(middleware.BodyLimit(strconv.FormatInt(cfg.MaxUploadBytes, 10) + "B"))
	}

	// Routes
	e.POST("/api/upload", s.upload)
	e.GET("/api/audio/:filename", s.serveAudio)
	e.GET("/api/playlists", s.listPlaylists)
	e.GET("/api/playlists/:genre", s.getPlaylist)
	e.GET("/test", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"message": "Backend is working!"})
	})

	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.e.ServeHTTP(w, r)
}

// Run starts the server and shuts it down gracefully when ctx is done.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", s.addr))
		errCh <- s.e.Start(s.addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.e.Shutdown(shutdownCtx)
}

// jsonError writes {"error": msg} with the given status.
func jsonError(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

// upload saves an audio file, classifies it and files it in its genre's
// playlist.
func (s *Server) upload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return jsonError(c, http.StatusBadRequest, "No file part")
	}
	if fh.Filename == "" {
		return jsonError(c, http.StatusBadRequest, "No selected file")
	}

	filename := secureFilename(fh.Filename)
	if filename == "" || !analysis.IsSupportedAudio(filepath.Ext(filename)) {
		return jsonError(c, http.StatusBadRequest, "File type not allowed")
	}

	log := s.log.With(zap.String("file", filename))

	path := filepath.Join(s.uploadDir, filename)
	if err := saveUpload(fh, path); err != nil {
		log.Error("failed to save upload", zap.Error(err))
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}

	pred, err := s.classifier.ClassifyFile(c.Request().Context(), path)
	if err != nil {
		log.Error("classification failed", zap.Error(err))
		return jsonError(c, statusFor(err), err.Error())
	}

	playlistID, err := s.playlists.Add(filename, pred.Genre)
	if err != nil {
		log.Error("failed to update playlist", zap.Error(err))
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}

	flags := pred.Flags
	if flags == nil {
		flags = []analysis.Flag{}
	}

	return c.JSON(http.StatusOK, UploadResponse{
		Filename:      filename,
		Genre:         pred.Genre,
		Confidence:    pred.Scores,
		TopConfidence: pred.Confidence,
		Flags:         flags,
		PlaylistID:    playlistID,
	})
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, analysis.ErrDecode), errors.Is(err, analysis.ErrDegenerateInput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// saveUpload copies an uploaded file to path.
func saveUpload(fh *multipart.FileHeader, path string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// secureFilename reduces name to a safe base name of letters, digits, dots,
// dashes and underscores.
func secureFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	return strings.TrimLeft(b.String(), "._")
}

// serveAudio serves a previously uploaded audio file.
func (s *Server) serveAudio(c echo.Context) error {
	name := c.Param("filename")

	// Security: prevent directory traversal
	if name != secureFilename(name) {
		return echo.NewHTTPError(http.StatusForbidden, "invalid path")
	}
	if !analysis.IsSupportedAudio(filepath.Ext(name)) {
		return echo.NewHTTPError(http.StatusForbidden, "file type not allowed")
	}

	fullPath := filepath.Join(s.uploadDir, name)
	info, err := os.Stat(fullPath)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "file not found")
	}
	if info.IsDir() {
		return echo.NewHTTPError(http.StatusForbidden, "cannot serve directory")
	}
	return c.File(fullPath)
}

// listPlaylists returns every genre playlist.
func (s *Server) listPlaylists(c echo.Context) error {
	p, err := s.playlists.All()
	if err != nil {
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

// getPlaylist returns the songs in one genre playlist.
func (s *Server) getPlaylist(c echo.Context) error {
	songs, err := s.playlists.Get(c.Param("genre"))
	if err != nil {
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, songs)
}
