// Package api exposes the tenant-facing HTTP surface: job submission and
// status, credential registration, and the vendor webhook endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/restolabs/possync/internal/models"
	"github.com/restolabs/possync/internal/repository"
	"github.com/restolabs/possync/internal/service"
	"github.com/restolabs/possync/internal/vault"
)

// signatureHeader carries the vendor's HMAC signature on webhook deliveries.
const signatureHeader = "Toast-Signature"

// JobStore is the queue surface the API needs: submit, inspect, cancel.
type JobStore interface {
	Enqueue(ctx context.Context, job models.SyncJob) (*models.SyncJob, error)
	GetByID(ctx context.Context, jobID string) (*models.SyncJob, error)
	Cancel(ctx context.Context, jobID string) error
}

// CredentialWriter stores encrypted tenant credentials.
type CredentialWriter interface {
	Upsert(ctx context.Context, cred models.TenantCredential) error
}

// WebhookHandler verifies and imports one vendor delivery.
type WebhookHandler interface {
	HandleDelivery(ctx context.Context, tenantID, signature string, payload []byte) (service.WebhookResult, error)
}

type Server struct {
	r        *chi.Mux
	jobs     JobStore
	creds    CredentialWriter
	webhooks WebhookHandler
	key      []byte
}

func NewServer(jobs JobStore, creds CredentialWriter, webhooks WebhookHandler, key []byte) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	s := &Server{r: r, jobs: jobs, creds: creds, webhooks: webhooks, key: key}

	r.Get("/healthz", s.health)
	r.Post("/api/v1/sync-jobs", s.createJob)
	r.Get("/api/v1/sync-jobs/{jobID}", s.getJob)
	r.Delete("/api/v1/sync-jobs/{jobID}", s.cancelJob)
	r.Put("/api/v1/tenants/{tenantID}/credentials", s.putCredentials)
	r.Post("/api/v1/webhooks/{tenantID}/orders", s.webhook)

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type createJobReq struct {
	JobID       string `json:"jobId"`
	TenantID    string `json:"tenantId"`
	VendorType  string `json:"vendorType"`
	RangeStart  string `json:"rangeStart"`
	RangeEnd    string `json:"rangeEnd"`
	MaxAttempts int    `json:"maxAttempts"`
}

type createJobResp struct {
	JobID  string               `json:"jobId"`
	Status models.SyncJobStatus `json:"status"`
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.TenantID == "" {
		http.Error(w, "tenantId is required", 400)
		return
	}
	if req.VendorType == "" {
		req.VendorType = models.VendorToast
	}

	job := models.SyncJob{
		ID:          req.JobID,
		TenantID:    req.TenantID,
		VendorType:  req.VendorType,
		MaxAttempts: req.MaxAttempts,
	}
	if req.RangeStart != "" {
		t, err := parseDate(req.RangeStart)
		if err != nil {
			http.Error(w, "invalid rangeStart: "+err.Error(), 400)
			return
		}
		job.RangeStart = &t
	}
	if req.RangeEnd != "" {
		t, err := parseDate(req.RangeEnd)
		if err != nil {
			http.Error(w, "invalid rangeEnd: "+err.Error(), 400)
			return
		}
		job.RangeEnd = &t
	}
	if job.RangeStart != nil && job.RangeEnd != nil && !job.RangeStart.Before(*job.RangeEnd) {
		http.Error(w, "rangeStart must be before rangeEnd", 400)
		return
	}

	created, err := s.jobs.Enqueue(r.Context(), job)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, http.StatusAccepted, createJobResp{JobID: created.ID, Status: created.Status})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetByID(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			http.Error(w, "not found", 404)
			return
		}
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, job)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	err := s.jobs.Cancel(r.Context(), chi.URLParam(r, "jobID"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, repository.ErrJobNotFound):
		http.Error(w, "not found", 404)
	case errors.Is(err, repository.ErrNotCancellable):
		http.Error(w, "job is no longer pending", 409)
	default:
		http.Error(w, err.Error(), 500)
	}
}

type putCredentialsReq struct {
	ClientID      string `json:"clientId"`
	ClientSecret  string `json:"clientSecret"`
	LocationID    string `json:"locationId"`
	VendorType    string `json:"vendorType"`
	WebhookSecret string `json:"webhookSecret"`
}

func (s *Server) putCredentials(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	var req putCredentialsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.ClientID == "" || req.ClientSecret == "" || req.LocationID == "" {
		http.Error(w, "clientId, clientSecret and locationId are required", 400)
		return
	}
	if req.VendorType == "" {
		req.VendorType = models.VendorToast
	}

	// Secrets are sealed before they touch the store; the plaintext never
	// leaves this handler.
	encrypted, err := vault.Encrypt(req.ClientSecret, s.key)
	if err != nil {
		http.Error(w, "failed to store credentials", 500)
		return
	}
	cred := models.TenantCredential{
		TenantID:        tenantID,
		VendorType:      req.VendorType,
		ClientID:        req.ClientID,
		EncryptedSecret: encrypted,
		LocationID:      req.LocationID,
	}
	if req.WebhookSecret != "" {
		encryptedWebhook, err := vault.Encrypt(req.WebhookSecret, s.key)
		if err != nil {
			http.Error(w, "failed to store credentials", 500)
			return
		}
		cred.EncryptedWebhookSecret = &encryptedWebhook
	}

	if err := s.creds.Upsert(r.Context(), cred); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	log.Info().Str("tenant_id", tenantID).Str("vendor_type", req.VendorType).Msg("stored tenant credentials")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	signature := r.Header.Get(signatureHeader)
	if signature == "" {
		http.Error(w, "missing signature", 401)
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}

	result, err := s.webhooks.HandleDelivery(r.Context(), tenantID, signature, payload)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, result)
	case errors.Is(err, service.ErrInvalidSignature), errors.Is(err, service.ErrNoWebhookSecret):
		http.Error(w, "invalid signature", 401)
	case errors.Is(err, repository.ErrCredentialsNotFound):
		http.Error(w, "unknown tenant", 404)
	default:
		http.Error(w, err.Error(), 500)
	}
}

// parseDate accepts RFC 3339 timestamps or bare dates.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
