package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garescout/tender-cli/internal/model"
	"github.com/garescout/tender-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only status API",
	Long:  "Serves tender, run and statistics data over HTTP for dashboards. The API is read-only; ingestion stays with the ingest command.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(st),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newRouter builds the read-only API routes.
func newRouter(st store.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/stats", func(w http.ResponseWriter, req *http.Request) {
		stats, err := st.Statistics(req.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	})

	r.Get("/api/runs", func(w http.ResponseWriter, req *http.Request) {
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		runs, err := st.ListScrapeRuns(req.Context(), req.URL.Query().Get("platform"), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		if runs == nil {
			runs = []model.ScrapeRun{}
		}
		writeJSON(w, http.StatusOK, runs)
	})

	r.Get("/api/tenders/{platform}", func(w http.ResponseWriter, req *http.Request) {
		tenders, err := st.ListOpenTenders(req.Context(), chi.URLParam(req, "platform"))
		if err != nil {
			writeError(w, err)
			return
		}
		if tenders == nil {
			tenders = []model.Tender{}
		}
		writeJSON(w, http.StatusOK, tenders)
	})

	r.Get("/api/tenders/{platform}/{key}", func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		platform := chi.URLParam(req, "platform")
		key := chi.URLParam(req, "key")

		tender, err := st.GetTender(ctx, platform, key)
		if err != nil {
			writeError(w, err)
			return
		}
		if tender == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "tender not found"})
			return
		}

		attachments, err := st.ListAttachments(ctx, tender.IdentityKey)
		if err != nil {
			writeError(w, err)
			return
		}
		enrichment, err := st.GetEnrichment(ctx, tender.IdentityKey)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, tenderDetail{
			Tender:      tender,
			Attachments: attachments,
			Enrichment:  enrichment,
		})
	})

	return r
}

type tenderDetail struct {
	Tender      *model.Tender           `json:"tender"`
	Attachments []model.Attachment      `json:"attachments,omitempty"`
	Enrichment  *model.EnrichmentRecord `json:"enrichment,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	zap.L().Error("api request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
