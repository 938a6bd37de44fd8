package abachttp

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/chapterhub/chapterhub/internal/abac"
	"github.com/chapterhub/chapterhub/internal/platform/httpx"
)

// Handler exposes the policy registry for inspection and dry-run evaluation.
type Handler struct {
	logger    *slog.Logger
	evaluator *abac.Evaluator
	validator *validator.Validate
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, evaluator *abac.Evaluator) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, evaluator: evaluator, validator: validator.New()}
}

type bundles struct {
	User        abac.Attributes `json:"user,omitempty"`
	Resource    abac.Attributes `json:"resource,omitempty"`
	Environment abac.Attributes `json:"environment,omitempty"`
	Action      abac.Attributes `json:"action,omitempty"`
	Now         *time.Time      `json:"now,omitempty"`
}

func (b bundles) context() abac.EvaluationContext {
	ec := abac.EvaluationContext{
		User:        b.User,
		Resource:    b.Resource,
		Environment: b.Environment,
		Action:      b.Action,
	}
	if b.Now != nil {
		ec.Now = *b.Now
	}
	return ec
}

type evaluateRequest struct {
	bundles
}

type evaluateMultipleRequest struct {
	bundles
	Policies  []string `json:"policies" validate:"required,min=1,dive,required"`
	Algorithm string   `json:"algorithm" validate:"required"`
}

type policyInfo struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

type policyResult struct {
	Policy   string        `json:"policy"`
	Decision abac.Decision `json:"decision"`
}

type evaluateMultipleResponse struct {
	Algorithm abac.Algorithm `json:"algorithm"`
	Decision  abac.Decision  `json:"decision"`
	Results   []policyResult `json:"results"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ids := h.evaluator.PolicyIDs()
	out := make([]policyInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, policyInfo{ID: id, Description: h.evaluator.PolicyDescription(id)})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "policyID")
	var req evaluateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	decision := h.evaluator.Evaluate(id, req.context())
	h.logger.Debug("abac probe", slog.String("policy", id), slog.String("result", decision.Result.String()))
	httpx.JSON(w, http.StatusOK, decision)
}

func (h *Handler) handleEvaluateMultiple(w http.ResponseWriter, r *http.Request) {
	var req evaluateMultipleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	alg, err := abac.ParseAlgorithm(req.Algorithm)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	ec := req.context()
	if ec.Now.IsZero() {
		ec.Now = h.evaluator.Now()
	}
	resp := evaluateMultipleResponse{Algorithm: alg, Results: make([]policyResult, 0, len(req.Policies))}
	decisions := make([]abac.Decision, 0, len(req.Policies))
	for _, id := range req.Policies {
		d := h.evaluator.Evaluate(id, ec)
		decisions = append(decisions, d)
		resp.Results = append(resp.Results, policyResult{Policy: id, Decision: d})
	}
	resp.Decision = abac.Combine(alg, decisions)
	httpx.JSON(w, http.StatusOK, resp)
}
