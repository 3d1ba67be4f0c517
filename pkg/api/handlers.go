package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/openadex/salesagent/pkg/contracts"
	"github.com/openadex/salesagent/pkg/creative"
	"github.com/openadex/salesagent/pkg/notify"
	"github.com/openadex/salesagent/pkg/review"
	"github.com/openadex/salesagent/pkg/workflow"
)

const maxBodyBytes = 1 << 20

// submitResponse is the wire shape for all three result variants.
type submitResponse struct {
	Status  string                    `json:"status"` // success | pending
	TaskID  string                    `json:"task_id,omitempty"`
	Success *contracts.SuccessPayload `json:"success,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var raw any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		WriteBadRequest(w, "request body is not valid JSON")
		return
	}
	if err := s.submitSchema.Validate(raw); err != nil {
		WriteBadRequest(w, "request body failed schema validation: "+err.Error())
		return
	}

	// Re-marshal through the typed request now that the shape is known
	// good.
	buf, err := json.Marshal(raw)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	var req contracts.SubmitRequest
	if err := json.Unmarshal(buf, &req); err != nil {
		WriteBadRequest(w, "request body does not match the submit contract")
		return
	}

	if _, err := s.resolveCaller(r, req.TenantID); err != nil {
		WriteForbidden(w, "")
		return
	}

	if s.onSubmit != nil {
		s.onSubmit(r.Context(), req.Backend, string(req.Action))
	}
	res, err := s.orch.Submit(r.Context(), req)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	s.writeResult(w, res)
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	step, err := s.orch.Poll(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			WriteNotFound(w, "no such task")
			return
		}
		WriteInternal(w, err)
		return
	}
	if _, err := s.resolveCaller(r, step.TenantID); err != nil {
		// Another tenant's task is indistinguishable from a missing one.
		WriteNotFound(w, "no such task")
		return
	}
	writeJSON(w, http.StatusOK, step)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	caller, err := s.resolveCaller(r, "")
	if err != nil {
		WriteForbidden(w, "")
		return
	}
	tenantID := caller.TenantID
	if tenantID == "" {
		tenantID = r.URL.Query().Get("tenant_id")
	}
	if tenantID == "" {
		WriteBadRequest(w, "tenant_id is required")
		return
	}
	steps, err := s.orch.ListOpen(r.Context(), tenantID)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if steps == nil {
		steps = []contracts.WorkflowStep{}
	}
	writeJSON(w, http.StatusOK, steps)
}

type confirmRequest struct {
	Outcome string `json:"outcome"` // approved | rejected
	Note    string `json:"note,omitempty"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "request body is not valid JSON")
		return
	}
	if req.Outcome != "approved" && req.Outcome != "rejected" {
		WriteBadRequest(w, `outcome must be "approved" or "rejected"`)
		return
	}

	step, err := s.orch.Poll(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			WriteNotFound(w, "no such task")
			return
		}
		WriteInternal(w, err)
		return
	}
	caller, err := s.resolveCaller(r, step.TenantID)
	if err != nil {
		WriteNotFound(w, "no such task")
		return
	}
	actor := caller.Actor
	if actor == "" {
		actor = "unknown"
	}

	res, err := s.orch.Confirm(r.Context(), taskID, contracts.Decision{
		Actor:     actor,
		Outcome:   req.Outcome,
		Note:      req.Note,
		DecidedAt: time.Now().UTC(),
	})
	if err != nil {
		WriteConflict(w, err.Error())
		return
	}
	s.writeResult(w, res)
}

type creativeReviewRequest struct {
	contracts.Creative
	// DataBase64 carries inline asset bytes to store before review.
	DataBase64 string `json:"data_base64,omitempty"`
}

type creativeReviewResponse struct {
	TaskID string `json:"task_id"`
	Digest string `json:"digest,omitempty"`
}

func (s *Server) handleCreativeReview(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req creativeReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "request body is not valid JSON")
		return
	}
	if req.ID == "" || req.TenantID == "" {
		WriteBadRequest(w, "creative id and tenant_id are required")
		return
	}
	if _, err := s.resolveCaller(r, req.TenantID); err != nil {
		WriteForbidden(w, "")
		return
	}

	var asset []byte
	if req.DataBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(req.DataBase64)
		if err != nil {
			WriteBadRequest(w, "data_base64 is not valid base64")
			return
		}
		digest, err := s.creatives.Put(r.Context(), data)
		if err != nil {
			WriteInternal(w, err)
			return
		}
		req.Creative.Digest = digest
		asset = data
	} else if req.Creative.Digest != "" {
		data, err := s.creatives.Get(r.Context(), req.Creative.Digest)
		if err != nil {
			if errors.Is(err, creative.ErrNotFound) {
				WriteNotFound(w, "no stored asset for digest "+req.Creative.Digest)
				return
			}
			WriteInternal(w, err)
			return
		}
		asset = data
	}
	req.Creative.Status = contracts.CreativeStatusPendingReview

	step, err := s.orch.StartReview(r.Context(), req.Creative)
	if err != nil {
		if errors.Is(err, workflow.ErrConflict) {
			WriteConflict(w, "a review for this creative is already in flight")
			return
		}
		WriteInternal(w, err)
		return
	}

	err = s.reviews.SubmitReview(review.Submission{
		StepID:   step.ID,
		TenantID: req.TenantID,
		Creative: req.Creative,
		Asset:    asset,
	})
	if err != nil {
		// The step must not dangle open with no worker coming for it.
		result := contracts.NewError(contracts.Error{
			Code:   contracts.ErrCodeTransient,
			Detail: "review queue is full, retry later",
		})
		_, _ = s.orch.Finalize(r.Context(), step, contracts.StepStatusFailed, workflow.Update{Result: &result})
		WriteError(w, http.StatusServiceUnavailable, "Service Unavailable", "review queue is full, retry later")
		return
	}

	writeJSON(w, http.StatusAccepted, creativeReviewResponse{
		TaskID: step.ID,
		Digest: req.Creative.Digest,
	})
}

type createSubscriptionRequest struct {
	TenantID   string                `json:"tenant_id"`
	URL        string                `json:"url"`
	EventTypes []contracts.EventType `json:"event_types,omitempty"`
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "request body is not valid JSON")
		return
	}
	if req.TenantID == "" {
		WriteBadRequest(w, "tenant_id is required")
		return
	}
	if _, err := s.resolveCaller(r, req.TenantID); err != nil {
		WriteForbidden(w, "")
		return
	}

	sub := notify.Subscription{
		ID:         uuid.New().String(),
		TenantID:   req.TenantID,
		URL:        req.URL,
		EventTypes: req.EventTypes,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}
	if err := sub.Validate(); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	if err := s.subs.Create(r.Context(), sub); err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sub, err := s.subs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, notify.ErrNotFound) {
			WriteNotFound(w, "no such subscription")
			return
		}
		WriteInternal(w, err)
		return
	}
	if _, err := s.resolveCaller(r, sub.TenantID); err != nil {
		WriteNotFound(w, "no such subscription")
		return
	}
	if err := s.subs.Deactivate(r.Context(), id); err != nil {
		WriteInternal(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeResult renders the three-variant result: Success 200, Pending
// 202 with the task to poll, Error via the problem mapping.
func (s *Server) writeResult(w http.ResponseWriter, res contracts.Result) {
	switch res.Kind {
	case contracts.ResultSuccess:
		writeJSON(w, http.StatusOK, submitResponse{Status: "success", Success: res.Success})
	case contracts.ResultPending:
		writeJSON(w, http.StatusAccepted, submitResponse{Status: "pending", TaskID: res.Pending.TaskID})
	default:
		WriteResultError(w, res.Errors)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
