package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"atelier/annotation"
	"atelier/catalog"
	"atelier/config"
	"atelier/envelope"
	"atelier/imagery"
	"atelier/ingest"
	"atelier/observability"
	"atelier/safepath"
	"atelier/shield"
	"atelier/timelapse"
	"atelier/vault"
)

func main() {
	cfgPath := env("ATELIER_CONFIG", "atelier.yaml")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	// Logging.
	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Catalog DB.
	cat, err := catalog.Open(cfg.CatalogDB)
	if err != nil {
		slog.Error("catalog db", "error", err)
		os.Exit(1)
	}
	defer cat.Close()

	if err := os.MkdirAll(cfg.UploadsDir, 0o755); err != nil {
		slog.Error("uploads dir", "error", err)
		os.Exit(1)
	}

	// Business event log shares the catalog DB.
	events, err := observability.NewEventLogger(cat.DB(), logger)
	if err != nil {
		slog.Error("event log", "error", err)
		os.Exit(1)
	}
	events.StartCleanup(ctx.Done(), cfg.RetentionDays)

	// Crypto: keyed mode iff ANNOTATION_KEY is configured. The toggle is
	// fixed for the process lifetime.
	crypto := envelope.New(cfg.AnnotationSecret)
	if crypto.Keyed() {
		slog.Info("annotation encryption enabled")
	}

	cfg.Imagery.Logger = logger
	pipeline := imagery.NewPipeline(cfg.Imagery)

	app := &application{
		cfg:         cfg,
		catalog:     cat,
		events:      events,
		crypto:      crypto,
		annotations: annotation.NewStore(cat, crypto),
		ingest:      ingest.New(cat, pipeline, cfg.UploadsDir, logger),
		vault:       vault.New(cat, crypto, cfg.UploadsDir),
		timelapse:   timelapse.NewRecorder(cat, cfg.UploadsDir),
	}

	r := chi.NewRouter()
	r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))
	r.Use(shield.MaxBody(cfg.MaxUploadMB << 20))
	r.Use(shield.TraceID)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Route("/api/artifacts", func(r chi.Router) {
		r.Get("/", app.listArtifacts)
		r.Post("/", app.createArtifact)
		r.Route("/{artifactID}", func(r chi.Router) {
			r.Get("/", app.getArtifact)
			r.Put("/", app.updateArtifact)
			r.Delete("/", app.deleteArtifact)

			r.Post("/images", app.uploadImage)
			r.Delete("/images", app.deleteImage)
			r.Post("/images/rotate", app.rotateImage)

			r.Get("/annotations", app.getAnnotation)
			r.Put("/annotations", app.putAnnotation)

			r.Post("/protect", shield.Limit(cfg.RateLimits["POST /api/protect"], "POST /api/protect", app.protect))
			r.Post("/unprotect", shield.Limit(cfg.RateLimits["POST /api/unprotect"], "POST /api/unprotect", app.unprotect))

			r.Get("/timelapse", app.listFrames)
			r.Post("/timelapse", app.recordFrame)
		})
	})

	r.Route("/api/integrations/{provider}/token", func(r chi.Router) {
		r.Get("/", app.getIntegrationToken)
		r.Put("/", app.putIntegrationToken)
	})

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

type application struct {
	cfg         *config.Config
	catalog     *catalog.Store
	events      *observability.EventLogger
	crypto      *envelope.Service
	annotations *annotation.Store
	ingest      *ingest.Service
	vault       *vault.Vault
	timelapse   *timelapse.Recorder
}

// --- Artifact CRUD ---

func (app *application) listArtifacts(w http.ResponseWriter, r *http.Request) {
	list, err := app.catalog.ListArtifacts(r.Context())
	if err != nil {
		writeError(w, 500, err)
		return
	}
	if list == nil {
		list = []*catalog.Artifact{}
	}
	writeJSON(w, 200, list)
}

func (app *application) createArtifact(w http.ResponseWriter, r *http.Request) {
	var a catalog.Artifact
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, 400, err)
		return
	}
	if a.CatalogNumber == "" || a.Name == "" {
		writeError(w, 400, errors.New("catalog_number and name are required"))
		return
	}
	if err := app.catalog.CreateArtifact(r.Context(), &a); err != nil {
		writeError(w, 400, err)
		return
	}
	writeJSON(w, 201, a)
}

func (app *application) getArtifact(w http.ResponseWriter, r *http.Request) {
	id, err := artifactID(r)
	if err != nil {
		writeError(w, 400, err)
		return
	}
	a, err := app.catalog.GetArtifact(r.Context(), id)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	if a == nil {
		writeError(w, 404, errors.New("artifact not found"))
		return
	}
	writeJSON(w, 200, a)
}

func (app *application) updateArtifact(w http.ResponseWriter, r *http.Request) {
	id, err := artifactID(r)
	if err != nil {
		writeError(w, 400, err)
		return
	}
	existing, err := app.catalog.GetArtifact(r.Context(), id)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	if existing == nil {
		writeError(w, 404, errors.New("artifact not found"))
		return
	}
	var a catalog.Artifact
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, 400, err)
		return
	}
	a.ID = id
	if a.Status == "" {
		a.Status = existing.Status
	}
	if err := app.catalog.UpdateArtifact(r.Context(), &a); err != nil {
		writeError(w, 400, err)
		return
	}
	updated, err := app.catalog.GetArtifact(r.Context(), id)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, updated)
}

func (app *application) deleteArtifact(w http.ResponseWriter, r *http.Request) {
	id, err := artifactID(r)
	if err != nil {
		writeError(w, 400, err)
		return
	}
	a, err := app.catalog.GetArtifact(r.Context(), id)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	if a == nil {
		writeError(w, 404, errors.New("artifact not found"))
		return
	}
	// Remove files first; the row delete cascades to asset rows.
	for _, p := range a.Images {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			shield.GetLogger(r.Context()).Warn("asset file removal failed", "path", p, "error", err)
		}
	}
	if err := app.catalog.DeleteArtifact(r.Context(), id); err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "deleted"})
}

// --- Image ingestion ---

func (app *application) uploadImage(w http.ResponseWriter, r *http.Request) {
	id, err := artifactID(r)
	if err != nil {
		writeError(w, 400, err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, 400, fmt.Errorf("missing file field: %w", err))
		return
	}
	defer file.Close()

	mediaType := header.Header.Get("Content-Type")
	res, err := app.ingest.Upload(r.Context(), id, header.Filename, mediaType, file)
	app.logEvent(r.Context(), observability.EventUpload, id, header.Filename, err == nil)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, 201, res)
}

func (app *application) deleteImage(w http.ResponseWriter, r *http.Request) {
	id, err := artifactID(r)
	if err != nil {
		writeError(w, 400, err)
		return
	}
	imagePath := r.URL.Query().Get("file_path")
	if imagePath == "" {
		writeError(w, 400, errors.New("file_path is required"))
		return
	}
	err = app.ingest.DeleteImage(r.Context(), id, imagePath)
	app.logEvent(r.Context(), observability.EventDelete, id, imagePath, err == nil)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "deleted"})
}

func (app *application) rotateImage(w http.ResponseWriter, r *http.Request) {
	id, err := artifactID(r)
	if err != nil {
		writeError(w, 400, err)
		return
	}
	var req struct {
		FilePath string `json:"file_path"`
		Degrees  int    `json:"degrees"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	confined, err := app.confine(req.FilePath)
	if err != nil {
		writeError(w, 400, err)
		return
	}
	asset, err := app.catalog.GetAsset(r.Context(), id, confined)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	if asset == nil {
		writeError(w, 404, errors.New("asset not found"))
		return
	}
	width, height, err := imagery.Rotate(confined, req.Degrees)
	app.logEvent(r.Context(), observability.EventRotate, id, confined, err == nil)
	if err != nil {
		writeError(w, 400, err)
		return
	}
	writeJSON(w, 200, map[string]int{"width": width, "height": height})
}

// --- Annotations ---

func (app *application) getAnnotation(w http.ResponseWriter, r *http.Request) {
	id, err := artifactID(r)
	if err != nil {
		writeError(w, 400, err)
		return
	}
	imagePath := r.URL.Query().Get("image_path")
	if imagePath == "" {
		writeError(w, 400, errors.New("image_path is required"))
		return
	}
	doc, err := app.annotations.Get(r.Context(), id, imagePath)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, 200, doc)
}

func (app *application) putAnnotation(w http.ResponseWriter, r *http.Request) {
	id, err := artifactID(r)
	if err != nil {
		writeError(w, 400, err)
		return
	}
	var req struct {
		ImagePath  string          `json:"image_path"`
		Annotation json.RawMessage `json:"annotation"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	if req.ImagePath == "" || len(req.Annotation) == 0 {
		writeError(w, 400, errors.New("image_path and annotation are required"))
		return
	}
	// Writes only land inside the uploads tree.
	if !safepath.WithinPrefix(app.cfg.UploadsDir, req.ImagePath) {
		writeError(w, 400, safepath.ErrTraversal)
		return
	}
	key, err := app.annotations.Put(r.Context(), id, req.ImagePath, req.Annotation)
	app.logEvent(r.Context(), observability.EventAnnotation, id, req.ImagePath, err == nil)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "saved", "image_path": key})
}

// --- Protected export/import ---

func (app *application) protect(w http.ResponseWriter, r *http.Request) {
	id, err := artifactID(r)
	if err != nil {
		writeError(w, 400, err)
		return
	}
	var req struct {
		FilePath string `json:"file_path"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	path, err := app.vault.Protect(r.Context(), id, strings.TrimPrefix(req.FilePath, app.cfg.UploadsDir), req.Password)
	app.logEvent(r.Context(), observability.EventProtect, id, req.FilePath, err == nil)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, 201, map[string]string{"protected_path": path})
}

func (app *application) unprotect(w http.ResponseWriter, r *http.Request) {
	id, err := artifactID(r)
	if err != nil {
		writeError(w, 400, err)
		return
	}
	var req struct {
		FilePath string `json:"file_path"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	path, err := app.vault.Unprotect(r.Context(), id, strings.TrimPrefix(req.FilePath, app.cfg.UploadsDir), req.Password)
	app.logEvent(r.Context(), observability.EventUnprotect, id, req.FilePath, err == nil)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, 200, map[string]string{"restored_path": path})
}

// --- Timelapse ---

func (app *application) recordFrame(w http.ResponseWriter, r *http.Request) {
	id, err := artifactID(r)
	if err != nil {
		writeError(w, 400, err)
		return
	}
	var req struct {
		TimelineID  string          `json:"timeline_id"`
		StepIndex   *int64          `json:"step_index"`
		Frame       string          `json:"frame"`
		Annotations json.RawMessage `json:"annotations"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	asset, err := app.timelapse.RecordFrame(r.Context(), id, req.TimelineID, req.StepIndex, req.Frame, req.Annotations)
	app.logEvent(r.Context(), observability.EventTimelapse, id, req.TimelineID, err == nil)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, 201, asset)
}

func (app *application) listFrames(w http.ResponseWriter, r *http.Request) {
	id, err := artifactID(r)
	if err != nil {
		writeError(w, 400, err)
		return
	}
	frames, err := app.timelapse.ListFrames(r.Context(), id, r.URL.Query().Get("timeline_id"))
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, 200, frames)
}

// --- Integration tokens ---

func (app *application) putIntegrationToken(w http.ResponseWriter, r *http.Request) {
	if !app.crypto.Keyed() {
		writeError(w, 409, errors.New("token storage requires a configured annotation key"))
		return
	}
	provider := chi.URLParam(r, "provider")
	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) == 0 {
		writeError(w, 400, errors.New("token payload is required"))
		return
	}
	env, err := app.crypto.Encrypt(body)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	raw, err := json.Marshal(env)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	if err := app.catalog.SaveIntegrationToken(r.Context(), provider, string(raw)); err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "saved"})
}

func (app *application) getIntegrationToken(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	payload, err := app.catalog.LoadIntegrationToken(r.Context(), provider)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	// Plaintext token material never leaves the process.
	writeJSON(w, 200, map[string]bool{"configured": payload != ""})
}

// --- Helpers ---

func (app *application) confine(p string) (string, error) {
	return safepath.Confine(app.cfg.UploadsDir, strings.TrimPrefix(p, app.cfg.UploadsDir))
}

func (app *application) logEvent(ctx context.Context, eventType string, artifactID int64, assetPath string, success bool) {
	app.events.Log(ctx, observability.Event{
		Type:       eventType,
		ArtifactID: artifactID,
		AssetPath:  assetPath,
		Success:    success,
	})
}

func artifactID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "artifactID"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid artifact id")
	}
	return id, nil
}

// errStatus maps domain errors to HTTP status codes.
func errStatus(err error) int {
	switch {
	case errors.Is(err, catalog.ErrArtifactNotFound),
		errors.Is(err, catalog.ErrAssetNotFound):
		return 404
	case errors.Is(err, imagery.ErrSignatureMismatch):
		return 422
	case errors.Is(err, safepath.ErrTraversal),
		errors.Is(err, vault.ErrWeakPassword),
		errors.Is(err, vault.ErrMalformedWrapper),
		errors.Is(err, vault.ErrIntegrity),
		errors.Is(err, envelope.ErrMalformed),
		errors.Is(err, envelope.ErrDecryption),
		errors.Is(err, timelapse.ErrBadDataURL),
		errors.Is(err, timelapse.ErrUnsupportedEncoding),
		errors.Is(err, timelapse.ErrMissingTimeline):
		return 400
	default:
		return 500
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
