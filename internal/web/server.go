// Package web 提供状态/配置 HTTP 接口：只读的端口配置、素材时长写入和 Prometheus 指标。
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/gorilla/mux"
	"github.com/linjuya-lu/device_vdcp_go/internal/cliptimes"
	"github.com/linjuya-lu/device_vdcp_go/internal/config"
	"github.com/linjuya-lu/device_vdcp_go/internal/metrics"
	"github.com/linjuya-lu/device_vdcp_go/internal/vdcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	readTimeout  = 5 * time.Second
	writeTimeout = 10 * time.Second
	maxBodyBytes = 1 << 20
)

// StatusSource 按端口名提供最新状态快照
type StatusSource interface {
	Snapshot(portName string) (vdcp.Snapshot, bool)
}

// TimesRequest PUT /times 的请求体，key 为端口序号（从 0 开始）
type TimesRequest struct {
	Times map[string][]uint16 `json:"times"`
}

type Server struct {
	lc     logger.LoggingClient
	cfg    *config.VDCPConfig
	board  *cliptimes.Board
	status StatusSource
	router *mux.Router
	srv    *http.Server
}

// New status 可为 nil，此时不提供 /ports/{name}/status
func New(lc logger.LoggingClient, cfg *config.VDCPConfig, board *cliptimes.Board, status StatusSource) *Server {
	metrics.RegisterMetrics()
	s := &Server{lc: lc, cfg: cfg, board: board, status: status}
	s.router = s.routes()
	s.srv = &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.index).Methods(http.MethodGet)
	r.HandleFunc("/ports", s.ports).Methods(http.MethodGet)
	r.HandleFunc("/ports/{name}/status", s.portStatus).Methods(http.MethodGet)
	r.HandleFunc("/times", s.times).Methods(http.MethodPut, http.MethodOptions)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.Use(mux.CORSMethodMiddleware(r))
	r.Use(allowAnyOrigin)
	return r
}

// Handler 返回路由，测试和嵌入使用
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 后台监听，监听失败只记录日志
func (s *Server) Start() {
	go func() {
		s.lc.Infof("status server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.lc.Errorf("status server stopped: %v", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func allowAnyOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) index(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("VDCP emulator"))
}

func (s *Server) ports(w http.ResponseWriter, _ *http.Request) {
	s.lc.Debug("got request for ports")
	writeJSON(w, http.StatusOK, s.cfg)
}

func (s *Server) portStatus(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if s.status == nil {
		writeError(w, http.StatusNotFound, "status not available")
		return
	}
	snap, ok := s.status.Snapshot(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no port named %q", name))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":       name,
		"number":     snap.Number,
		"status":     snap.Status.String(),
		"clipStatus": snap.ClipStatus.String(),
		"cued":       snap.Cued,
		"cuedClip":   snap.CuedClip,
		"durations":  snap.Durations,
	})
}

func (s *Server) times(w http.ResponseWriter, r *http.Request) {
	var req TimesRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid times: %v", err))
		return
	}

	// 先全部校验，避免只写入一部分
	indexes := make([]int, 0, len(req.Times))
	byIndex := make(map[int][]uint16, len(req.Times))
	for key, times := range req.Times {
		i, err := strconv.Atoi(key)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("port index %q is not a number", key))
			return
		}
		if i < 0 || i >= s.board.Len() {
			writeError(w, http.StatusNotFound, fmt.Sprintf("%v: %d", cliptimes.ErrUnknownPort, i))
			return
		}
		indexes = append(indexes, i)
		byIndex[i] = times
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		if err := s.board.Push(i, byIndex[i]); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
	}
	s.lc.Infof("got sent times from website. Times: %v", req.Times)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("set data"))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
