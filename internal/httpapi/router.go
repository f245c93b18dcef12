package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dwizi/boost-runtime/internal/config"
	"github.com/dwizi/boost-runtime/internal/deferred"
	"github.com/dwizi/boost-runtime/internal/heartbeat"
	"github.com/dwizi/boost-runtime/internal/quota"
	"github.com/dwizi/boost-runtime/internal/ratelimit"
	"github.com/dwizi/boost-runtime/internal/slots"
	"github.com/dwizi/boost-runtime/internal/store"
)

type Dependencies struct {
	Config              config.Config
	Store               *store.Store
	Pool                *quota.Pool
	Registry            *quota.Registry
	Allocator           *quota.Allocator
	Guard               *ratelimit.Guard
	Slots               *slots.Scheduler
	Queue               *deferred.Queue
	Heartbeat           *heartbeat.Registry
	HeartbeatStaleAfter time.Duration
	Logger              *slog.Logger
}

type router struct {
	deps Dependencies
}

// NewRouter exposes read-only operator introspection: quota levels,
// per-account usage, active mutes and the deferred backlog.
func NewRouter(deps Dependencies) http.Handler {
	rt := &router{deps: deps}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.handleHealth)
	mux.HandleFunc("/readyz", rt.handleReady)
	mux.HandleFunc("/api/v1/heartbeat", rt.handleHeartbeat)
	mux.HandleFunc("/api/v1/info", rt.handleInfo)
	mux.HandleFunc("/api/v1/quota", rt.handleQuota)
	mux.HandleFunc("/api/v1/accounts", rt.handleAccounts)
	mux.HandleFunc("/api/v1/mutes", rt.handleMutes)
	mux.HandleFunc("/api/v1/deferred", rt.handleDeferred)
	return mux
}

func (r *router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *router) handleReady(w http.ResponseWriter, req *http.Request) {
	if err := r.deps.Store.Ping(req.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not-ready", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (r *router) handleHeartbeat(w http.ResponseWriter, req *http.Request) {
	if r.deps.Heartbeat == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  "heartbeat is disabled",
		})
		return
	}
	writeJSON(w, http.StatusOK, r.deps.Heartbeat.Snapshot(r.deps.HeartbeatStaleAfter))
}

func (r *router) handleInfo(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":            "boost-runtime",
		"environment":     r.deps.Config.Environment,
		"pack_kind":       r.deps.Config.PoolPackKind,
		"simulation_mode": r.deps.Config.SimulationMode,
	})
}

func (r *router) handleQuota(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	state := r.deps.Pool.Snapshot()
	alloc := r.deps.Allocator.Allocation()

	distribution := map[string]int{}
	for kind, used := range state.Daily.Distribution {
		distribution[string(kind)] = used
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"global": map[string]any{
			"total_actions": state.Global.TotalActions,
			"used_actions":  state.Global.UsedActions,
			"remaining":     state.Global.Remaining(),
			"pack_kind":     state.Global.PackKind,
		},
		"daily": map[string]any{
			"limit":           state.Daily.DailyLimit,
			"used_today":      state.Daily.UsedToday,
			"last_reset_date": state.Daily.LastResetDate,
			"distribution":    distribution,
		},
		"allocation": map[string]any{
			"active_accounts":      alloc.ActiveAccounts,
			"lifetime_share":       alloc.PerAccountLifetimeShare,
			"daily_share":          alloc.PerAccountDailyShare,
			"recalculated_at_unix": unixOrZero(alloc.LastRecalculation),
		},
	})
}

func (r *router) handleAccounts(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	accounts := r.deps.Registry.List()
	items := make([]map[string]any, 0, len(accounts))
	for _, account := range accounts {
		daily := map[string]int{}
		for kind, used := range account.DailyUsed {
			daily[string(kind)] = used
		}
		slotCounts := map[string]map[string]int{}
		for kind, counts := range r.deps.Slots.SlotCounts(account.ID) {
			slotCounts[string(kind)] = map[string]int{"open": counts[0], "consumed": counts[1]}
		}
		items = append(items, map[string]any{
			"id":                  account.ID,
			"display_name":        account.DisplayName,
			"active":              account.Active,
			"lifetime_used":       account.LifetimeUsed,
			"daily_used":          daily,
			"daily_used_total":    account.DailyUsedTotal(),
			"slots":               slotCounts,
			"muted":               r.deps.Guard.IsMuted(account.ID),
			"connected_at_unix":   unixOrZero(account.ConnectedAt),
			"last_action_at_unix": unixOrZero(account.LastActionAt),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func (r *router) handleMutes(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	mutes := r.deps.Guard.Mutes()
	items := make([]map[string]any, 0, len(mutes))
	for accountID, until := range mutes {
		items = append(items, map[string]any{
			"account_id": accountID,
			"until_unix": until.Unix(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func (r *router) handleDeferred(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	actions := r.deps.Queue.Snapshot()
	items := make([]map[string]any, 0, len(actions))
	for _, action := range actions {
		items = append(items, map[string]any{
			"id":                action.ID,
			"account_id":        action.AccountID,
			"kind":              string(action.Kind),
			"content_id":        action.ContentID,
			"scheduled_at_unix": action.ScheduledAt.Unix(),
			"retry_count":       action.RetryCount,
			"enqueued_at_unix":  action.EnqueuedAt.Unix(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func unixOrZero(at time.Time) int64 {
	if at.IsZero() {
		return 0
	}
	return at.Unix()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
