package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/mcpdeck/gateway/internal/directory"
	"github.com/mcpdeck/gateway/internal/domain"
	"github.com/mcpdeck/gateway/internal/observability"
	"go.uber.org/zap"
)

// Handler handles HTTP requests.
type Handler struct {
	completions *domain.CompletionService
	credits     *domain.CreditService
	catalog     *directory.Service
}

// NewHandler creates a new HTTP handler (DI constructor).
func NewHandler(
	completions *domain.CompletionService,
	credits *domain.CreditService,
	catalog *directory.Service,
) *Handler {
	return &Handler{
		completions: completions,
		credits:     credits,
		catalog:     catalog,
	}
}

type completionRequest struct {
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model,omitempty"`
	RequestKind string  `json:"request_kind,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	UseCache    *bool   `json:"use_cache,omitempty"`
	CacheTTL    int     `json:"cache_ttl_seconds,omitempty"`
}

// HandleCompletion processes completion requests.
func (h *Handler) HandleCompletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req completionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(ctx, w, domain.Ef(domain.KindInvalidRequest, "invalid request body: %v", err))
		return
	}

	// Caching is opt-out.
	useCache := true
	if req.UseCache != nil {
		useCache = *req.UseCache
	}

	logger := observability.FromContext(ctx)
	logger.Info("completion request received",
		zap.String("model", req.Model),
		zap.String("request_kind", req.RequestKind),
		zap.Bool("use_cache", useCache),
	)

	result, err := h.completions.Complete(ctx, domain.CompleteParams{
		AccountID:   observability.GetAccountID(ctx),
		Prompt:      req.Prompt,
		Model:       req.Model,
		RequestKind: req.RequestKind,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		UseCache:    useCache,
		CacheTTL:    time.Duration(req.CacheTTL) * time.Second,
	})
	if err != nil {
		logger.Warn("completion failed", zap.Error(err))
		writeError(ctx, w, err)
		return
	}

	logger.Info("completion succeeded",
		zap.Int("tokens", result.Tokens.TotalTokens),
		zap.Float64("credits_charged", result.CreditsCharged),
		zap.Bool("cached", result.Cached),
	)

	writeJSON(ctx, w, http.StatusOK, result)
}

// HandleModels lists the models accessible at the caller's tier.
func (h *Handler) HandleModels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	models, err := h.completions.AvailableModels(ctx, observability.GetAccountID(ctx))
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, map[string]any{"models": models})
}

type signupRequest struct {
	Email string `json:"email"`
	Tier  string `json:"tier,omitempty"`
}

// HandleSignup creates an account and returns its API key. The key is shown
// only in this response.
func (h *Handler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(ctx, w, domain.Ef(domain.KindInvalidRequest, "invalid request body: %v", err))
		return
	}

	tier := domain.TierFree
	if req.Tier != "" {
		parsed, ok := domain.ParseTier(req.Tier)
		if !ok {
			writeError(ctx, w, domain.Ef(domain.KindInvalidRequest, "unknown tier: %s", req.Tier))
			return
		}
		tier = parsed
	}

	account, err := h.credits.Signup(ctx, req.Email, tier)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	observability.FromContext(ctx).Info("account created",
		zap.String("account_id", account.ID),
		zap.String("tier", account.Tier.String()),
	)

	writeJSON(ctx, w, http.StatusCreated, map[string]any{
		"account": account,
		"api_key": account.APIKey,
	})
}

// HandleBalance returns the caller's balance snapshot.
func (h *Handler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshot, err := h.credits.Balance(ctx, observability.GetAccountID(ctx))
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, snapshot)
}

type purchaseRequest struct {
	Package string `json:"package"`
}

// HandlePurchase initiates a credit package purchase and returns the payment
// client secret.
func (h *Handler) HandlePurchase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(ctx, w, domain.Ef(domain.KindInvalidRequest, "invalid request body: %v", err))
		return
	}

	intent, err := h.credits.Purchase(ctx, observability.GetAccountID(ctx), req.Package)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, intent)
}

// HandleHistory returns a paginated ledger listing.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	page, err := h.credits.History(ctx, observability.GetAccountID(ctx), limit, offset)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, page)
}

// HandleAnalytics returns the trailing-window usage breakdown.
func (h *Handler) HandleAnalytics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	days := queryInt(r, "days", 30)

	analytics, err := h.credits.Analytics(ctx, observability.GetAccountID(ctx), days)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, analytics)
}

type adminGrantRequest struct {
	AccountID string  `json:"account_id"`
	Amount    float64 `json:"amount"`
	Reason    string  `json:"reason"`
}

// HandleAdminGrant grants bonus credits to an account. The caller must hold
// the ADMIN role.
func (h *Handler) HandleAdminGrant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req adminGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(ctx, w, domain.Ef(domain.KindInvalidRequest, "invalid request body: %v", err))
		return
	}

	account, entry, err := h.credits.AdminGrant(ctx, req.AccountID, req.Amount, req.Reason, observability.GetAccountID(ctx))
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, map[string]any{
		"balance": account.Balance,
		"entry":   entry,
	})
}

// HandleServers lists and searches the MCP server catalog.
func (h *Handler) HandleServers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := directory.Query{
		Category: r.URL.Query().Get("category"),
		Search:   r.URL.Query().Get("search"),
		Sort:     r.URL.Query().Get("sort"),
		Limit:    queryInt(r, "limit", 0),
		Offset:   queryInt(r, "offset", 0),
	}

	page, err := h.catalog.List(ctx, q)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, page)
}

// HandleHealth handles health check requests.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	}); err != nil {
		// Already written status, can't change it, just log.
		return
	}
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Status already written, can't change it, just log.
		observability.FromContext(ctx).Error("failed to encode response", zap.Error(err))
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
