// Package v1alpha1 exposes the HTTP surface of the engine. Handlers decode
// and validate payloads, delegate to the services and map typed service
// errors onto status codes.
package v1alpha1

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	api "github.com/riselocal/leadqual/api/v1alpha1"
	"github.com/riselocal/leadqual/internal/handlers/validator"
	"github.com/riselocal/leadqual/internal/service"
	"github.com/riselocal/leadqual/pkg/requestid"
)

type ServiceHandler struct {
	jobSrv      *service.JobService
	decisionSrv *service.DecisionService
}

func NewServiceHandler(jobService *service.JobService, decisionService *service.DecisionService) *ServiceHandler {
	return &ServiceHandler{
		jobSrv:      jobService,
		decisionSrv: decisionService,
	}
}

func (s *ServiceHandler) Routes(router chi.Router) {
	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", s.SubmitJob)
		r.Get("/jobs", s.ListJobs)
		r.Get("/jobs/{id}", s.GetJob)
		r.Post("/jobs/{id}/cancel", s.CancelJob)
		r.Get("/decisions/{leadID}", s.GetDecision)
		r.Post("/decisions/{leadID}/override", s.OverrideDecision)
		r.Get("/audit", s.ListAudit)
	})
}

// (POST /api/v1/jobs)
func (s *ServiceHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var request api.SubmitJobRequest
	if err := render.DecodeJSON(r.Body, &request); err != nil {
		renderError(w, r, http.StatusBadRequest, "malformed request body")
		return
	}

	v := validator.NewValidator()
	v.Register(validator.NewJobValidationRules()...)
	if err := v.Struct(request); err != nil {
		renderError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.jobSrv.Submit(r.Context(), request)
	if err != nil {
		switch err.(type) {
		case *service.ErrInvalidJobRequest:
			renderError(w, r, http.StatusBadRequest, err.Error())
		default:
			renderError(w, r, http.StatusInternalServerError, "failed to submit job")
		}
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, job)
}

// (GET /api/v1/jobs)
func (s *ServiceHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobSrv.List(r.Context(), r.URL.Query().Get("status"), r.URL.Query().Get("kind"))
	if err != nil {
		renderError(w, r, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	render.JSON(w, r, jobs)
}

// (GET /api/v1/jobs/{id})
func (s *ServiceHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		renderError(w, r, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := s.jobSrv.Get(r.Context(), id)
	if err != nil {
		switch err.(type) {
		case *service.ErrResourceNotFound:
			renderError(w, r, http.StatusNotFound, err.Error())
		default:
			renderError(w, r, http.StatusInternalServerError, "failed to get job")
		}
		return
	}
	render.JSON(w, r, job)
}

// (POST /api/v1/jobs/{id}/cancel)
func (s *ServiceHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		renderError(w, r, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := s.jobSrv.Cancel(r.Context(), id)
	if err != nil {
		switch err.(type) {
		case *service.ErrResourceNotFound:
			renderError(w, r, http.StatusNotFound, err.Error())
		case *service.ErrJobAlreadyFinalized:
			renderError(w, r, http.StatusConflict, err.Error())
		default:
			renderError(w, r, http.StatusInternalServerError, "failed to cancel job")
		}
		return
	}
	render.JSON(w, r, job)
}

// (GET /api/v1/decisions/{leadID})
func (s *ServiceHandler) GetDecision(w http.ResponseWriter, r *http.Request) {
	decision, err := s.decisionSrv.GetLatest(r.Context(), chi.URLParam(r, "leadID"), r.URL.Query().Get("kind"))
	if err != nil {
		switch err.(type) {
		case *service.ErrResourceNotFound:
			renderError(w, r, http.StatusNotFound, err.Error())
		default:
			renderError(w, r, http.StatusInternalServerError, "failed to get decision")
		}
		return
	}
	render.JSON(w, r, decision)
}

// (POST /api/v1/decisions/{leadID}/override)
func (s *ServiceHandler) OverrideDecision(w http.ResponseWriter, r *http.Request) {
	var request api.OverrideRequest
	if err := render.DecodeJSON(r.Body, &request); err != nil {
		renderError(w, r, http.StatusBadRequest, "malformed request body")
		return
	}

	v := validator.NewValidator()
	v.Register(validator.NewOverrideValidationRules()...)
	if err := v.Struct(request); err != nil {
		renderError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	decision, err := s.decisionSrv.Override(r.Context(), chi.URLParam(r, "leadID"), r.URL.Query().Get("kind"), request)
	if err != nil {
		switch err.(type) {
		case *service.ErrResourceNotFound:
			renderError(w, r, http.StatusNotFound, err.Error())
		case *service.ErrDecisionAlreadyOverridden:
			renderError(w, r, http.StatusConflict, err.Error())
		default:
			renderError(w, r, http.StatusInternalServerError, "failed to override decision")
		}
		return
	}
	render.JSON(w, r, decision)
}

// (GET /api/v1/audit)
func (s *ServiceHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := s.decisionSrv.ListAudit(r.Context(), r.URL.Query().Get("resource_id"))
	if err != nil {
		renderError(w, r, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	render.JSON(w, r, entries)
}

func renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, api.Error{
		Message:   message,
		RequestId: requestid.FromContextPtr(r.Context()),
	})
}
