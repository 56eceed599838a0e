package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/r-umemoto/iceberg-detector/pkg/domain/iceberg"
)

// StatsReader は API が参照する検知状況です（usecase.DetectionUseCase が満たします）
type StatsReader interface {
	Instruments() []string
	Stats(instrument string) (iceberg.Stats, bool)
	AllStats() []iceberg.Stats
}

// StatsView は統計の JSON 表現です
type StatsView struct {
	Instrument        string  `json:"instrument"`
	ActiveOrders      int     `json:"active_orders"`
	PotentialIcebergs int     `json:"potential_icebergs"`
	ConfirmedIcebergs int     `json:"confirmed_icebergs"`
	CompletedIcebergs int     `json:"completed_icebergs"`
	TotalDetected     int     `json:"total_detected"`
	TotalCompleted    int     `json:"total_completed"`
	PriceLevels       int     `json:"price_levels"`
	TriggerSize       float64 `json:"trigger_size"`
	MaxVisibleSize    float64 `json:"max_visible_size"`
	MinVisibleSize    float64 `json:"min_visible_size"`
	VolumeThreshold   float64 `json:"volume_threshold"`
	AvgOrderSize      float64 `json:"avg_order_size"`
}

func newStatsView(st iceberg.Stats) StatsView {
	return StatsView{
		Instrument:        st.Instrument,
		ActiveOrders:      st.ActiveOrders,
		PotentialIcebergs: st.PotentialIcebergs,
		ConfirmedIcebergs: st.ConfirmedIcebergs,
		CompletedIcebergs: st.CompletedIcebergs,
		TotalDetected:     st.TotalDetected,
		TotalCompleted:    st.TotalCompleted,
		PriceLevels:       st.PriceLevels,
		TriggerSize:       st.Thresholds.TriggerSize,
		MaxVisibleSize:    st.Thresholds.MaxVisibleSize,
		MinVisibleSize:    st.Thresholds.MinVisibleSize,
		VolumeThreshold:   st.Thresholds.VolumeThreshold,
		AvgOrderSize:      st.Thresholds.AvgOrderSize,
	}
}

// Server は運用向けの読み取り専用 HTTP API です
type Server struct {
	stats    StatsReader
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	srv      *http.Server
}

func NewServer(addr string, stats StatsReader, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{stats: stats, gatherer: gatherer, logger: logger.Named("api")}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router はルーティング済みの gin エンジンを返します
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/instruments", s.listInstruments)
		v1.GET("/instruments/:instrument/stats", s.getStats)
		v1.GET("/stats", s.listStats)
	}
	return router
}

func (s *Server) listInstruments(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"instruments": s.stats.Instruments()})
}

func (s *Server) getStats(c *gin.Context) {
	instrument := c.Param("instrument")
	st, ok := s.stats.Stats(instrument)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "instrument not subscribed", "instrument": instrument})
		return
	}
	c.JSON(http.StatusOK, newStatsView(st))
}

func (s *Server) listStats(c *gin.Context) {
	all := s.stats.AllStats()
	out := make([]StatsView, 0, len(all))
	for _, st := range all {
		out = append(out, newStatsView(st))
	}
	c.JSON(http.StatusOK, gin.H{"stats": out})
}

// ListenAndServe は ctx がキャンセルされるまで待ち受け、キャンセル後は穏やかに停止します
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP サーバーを起動します", zap.String("addr", s.srv.Addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errCh
	return nil
}
