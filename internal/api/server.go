// Package api exposes the operator surface: state inspection, audit queries
// and manual interventions.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"fadebot/internal/engine"
	"fadebot/internal/events"
	"fadebot/internal/monitor"
	"fadebot/pkg/cache"
	"fadebot/pkg/db"
)

// Server serves the status and intervention API for the trading client.
type Server struct {
	managers  map[string]*engine.Manager
	store     *db.Store
	metrics   *monitor.SystemMetrics
	bus       *events.Bus
	prices    *cache.PriceCache
	jwtSecret string
}

// NewServer builds a server; store, metrics and prices may be nil.
func NewServer(managers map[string]*engine.Manager, store *db.Store, metrics *monitor.SystemMetrics, bus *events.Bus, prices *cache.PriceCache, jwtSecret string) *Server {
	return &Server{
		managers:  managers,
		store:     store,
		metrics:   metrics,
		bus:       bus,
		prices:    prices,
		jwtSecret: jwtSecret,
	}
}

// Router assembles the gin engine with the standard middleware chain.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(CORSMiddleware())
	r.Use(RateLimitMiddleware())
	r.Use(RequestLogger(s.metrics))

	r.GET("/health", s.health)
	r.GET("/ws", s.streamEvents)

	public := r.Group("/api")
	{
		public.GET("/state", s.listStates)
		public.GET("/state/:symbol", s.getState)
		public.GET("/orders/:symbol", s.listOrders)
		public.GET("/events/:symbol", s.listEvents)
		public.GET("/prices", s.listPrices)
		public.GET("/price/:symbol", s.getPrice)
	}

	protected := r.Group("/api", AuthMiddleware(s.jwtSecret))
	{
		protected.POST("/reset/:symbol", s.resetSymbol)
		protected.POST("/close/:symbol", s.closeSymbol)
	}

	return r
}

func (s *Server) health(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if s.metrics != nil {
		resp["metrics"] = s.metrics.GetSnapshot()
	}
	c.JSON(http.StatusOK, resp)
}

// stateView is the JSON shape of one manager's belief.
type stateView struct {
	Symbol string               `json:"symbol"`
	State  engine.State         `json:"state"`
	Orders map[string]orderView `json:"orders"`
}

type orderView struct {
	ClientOrderID string  `json:"client_order_id"`
	Side          string  `json:"side"`
	Type          string  `json:"type"`
	Price         float64 `json:"price"`
	StopPrice     float64 `json:"stop_price"`
	Qty           float64 `json:"qty"`
	Status        string  `json:"status"`
}

func (s *Server) viewOf(m *engine.Manager) stateView {
	view := stateView{
		Symbol: m.Symbol(),
		State:  m.State(),
		Orders: make(map[string]orderView),
	}
	for role, o := range m.RegistrySnapshot() {
		view.Orders[string(role)] = orderView{
			ClientOrderID: o.ClientOrderID,
			Side:          string(o.Side),
			Type:          string(o.Type),
			Price:         o.Price,
			StopPrice:     o.StopPrice,
			Qty:           o.Qty,
			Status:        string(o.Status),
		}
	}
	return view
}

func (s *Server) listStates(c *gin.Context) {
	out := make([]stateView, 0, len(s.managers))
	for _, m := range s.managers {
		out = append(out, s.viewOf(m))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getState(c *gin.Context) {
	m, ok := s.managers[c.Param("symbol")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol"})
		return
	}
	c.JSON(http.StatusOK, s.viewOf(m))
}

func (s *Server) listOrders(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit store disabled"})
		return
	}
	rows, err := s.store.RecentOrders(c.Request.Context(), c.Param("symbol"), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) listEvents(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit store disabled"})
		return
	}
	rows, err := s.store.RecentEvents(c.Request.Context(), c.Param("symbol"), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) listPrices(c *gin.Context) {
	if s.prices == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "price cache disabled"})
		return
	}
	c.JSON(http.StatusOK, s.prices.GetAll())
}

func (s *Server) getPrice(c *gin.Context) {
	if s.prices == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "price cache disabled"})
		return
	}
	price, age, ok := s.prices.GetWithAge(c.Param("symbol"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no price yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol": c.Param("symbol"),
		"price":  price,
		"age_ms": age.Milliseconds(),
	})
}

func (s *Server) resetSymbol(c *gin.Context) {
	m, ok := s.managers[c.Param("symbol")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol"})
		return
	}
	m.Reset(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": "reset", "operator": CurrentOperator(c)})
}

func (s *Server) closeSymbol(c *gin.Context) {
	m, ok := s.managers[c.Param("symbol")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol"})
		return
	}
	m.DefensiveClose(c.Request.Context(), engine.RoleClose)
	c.JSON(http.StatusOK, gin.H{"status": "closing", "operator": CurrentOperator(c)})
}

// Run serves until the listener fails or ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
