package peer

import (
	"encoding/json"
	"net/http"
)

// Handler 管理与监控接口
//
//	GET  /ws            观察端 WebSocket
//	GET  /metrics       运行指标
//	GET  /admin/config  当前可热更新的配置
//	POST /admin/config  以 JSON 载荷更新部分字段
//	GET  /peers         地址簿
//	GET  /stats         本会话命中统计（需要 index_db）
//	GET  /healthz
func (r *Runtime) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", r.HandleWS)
	mux.HandleFunc("/metrics", r.handleMetrics)
	mux.HandleFunc("/admin/config", r.handleAdminConfig)
	mux.HandleFunc("/peers", r.handlePeers)
	mux.HandleFunc("/stats", r.handleStats)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

type adminConfig struct {
	TickRate           *float64 `json:"tick_rate,omitempty"`
	SimulateDropProb   *float64 `json:"simulate_drop_prob,omitempty"`
	SimulateDelayMinMs *int     `json:"simulate_delay_min_ms,omitempty"`
	SimulateDelayMaxMs *int     `json:"simulate_delay_max_ms,omitempty"`
}

func (r *Runtime) handleAdminConfig(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		hz := r.TickRate()
		drop, dmin, dmax := r.exchange.Impairment()
		writeJSON(w, http.StatusOK, adminConfig{
			TickRate:           &hz,
			SimulateDropProb:   &drop,
			SimulateDelayMinMs: &dmin,
			SimulateDelayMaxMs: &dmax,
		})
	case http.MethodPost:
		var body adminConfig
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		drop, dmin, dmax := r.exchange.Impairment()
		if body.SimulateDropProb != nil {
			drop = *body.SimulateDropProb
		}
		if body.SimulateDelayMinMs != nil {
			dmin = *body.SimulateDelayMinMs
		}
		if body.SimulateDelayMaxMs != nil {
			dmax = *body.SimulateDelayMaxMs
		}
		if drop < 0 || drop > 1 || dmin < 0 || dmax < dmin {
			http.Error(w, "impairment out of range", http.StatusBadRequest)
			return
		}
		if body.TickRate != nil {
			if *body.TickRate < 0 {
				http.Error(w, "tick_rate must be >= 0", http.StatusBadRequest)
				return
			}
			r.SetTickRate(*body.TickRate)
		}
		r.exchange.SetImpairment(drop, dmin, dmax)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		Log.Infof("config updated: tick_rate=%.2f drop=%.2f delay=[%d,%d]", r.TickRate(), drop, dmin, dmax)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (r *Runtime) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"session":    r.session,
		"self":       r.self.String(),
		"tick":       r.world.CurrentTick(),
		"peers":      r.book.Len(),
		"characters": r.world.Len(),
		"observers":  r.hub.Len(),
		"metrics":    r.metrics.Snapshot(),
	})
}

func (r *Runtime) handlePeers(w http.ResponseWriter, _ *http.Request) {
	peers := r.book.Snapshot()
	out := make([]string, 0, len(peers))
	for _, p := range peers {
		out = append(out, p.String())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"self":   r.self.String(),
		"map_id": r.world.MapID(),
		"peers":  out,
	})
}

func (r *Runtime) handleStats(w http.ResponseWriter, req *http.Request) {
	if r.index == nil {
		http.Error(w, "stats index disabled", http.StatusNotFound)
		return
	}
	board, err := r.index.Leaderboard(req.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	n, err := r.index.PeerCount(req.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":     r.session,
		"peers_seen":  n,
		"leaderboard": board,
		"dropped":     r.index.Dropped(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
