package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"okx-core/internal/order"
	"okx-core/pkg/db"
)

type journalQuery struct {
	Limit int `form:"limit"`
}

func (q *journalQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

type equityResponse struct {
	Ccy         string    `json:"ccy"`
	TotalEquity float64   `json:"total_equity"`
	Available   float64   `json:"available"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type positionResponse struct {
	InstID   string  `json:"inst_id"`
	PosSide  string  `json:"pos_side"`
	Qty      float64 `json:"qty"`
	AvgPrice float64 `json:"avg_price"`
}

type journalResponse struct {
	ID            string    `json:"id"`
	Key           string    `json:"key"`
	ClientOrderID string    `json:"cl_ord_id"`
	InstID        string    `json:"inst_id"`
	Side          string    `json:"side"`
	Qty           float64   `json:"qty"`
	Event         string    `json:"event"`
	Detail        string    `json:"detail,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func toJournalResponse(entries []db.JournalEntry) []journalResponse {
	out := make([]journalResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, journalResponse{
			ID:            e.ID,
			Key:           e.Key,
			ClientOrderID: e.ClientOrderID,
			InstID:        e.InstID,
			Side:          e.Side,
			Qty:           e.Qty,
			Event:         e.Event,
			Detail:        e.Detail,
			CreatedAt:     e.CreatedAt,
		})
	}
	return out
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{"code": code, "error": msg})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getSystemStatus(c *gin.Context) {
	resp := gin.H{
		"meta":   s.Meta,
		"uptime": time.Since(s.Meta.StartedAt).Round(time.Second).String(),
	}
	if s.Queue != nil {
		resp["stream_backlog"] = s.Queue.Len()
	}
	c.JSON(http.StatusOK, resp)
}

// getState returns the breaker, account and pending summary in one payload.
func (s *Server) getState(c *gin.Context) {
	resp := gin.H{"meta": s.Meta}

	if s.Risk != nil {
		resp["risk"] = s.Risk.State()
	}
	if s.Account != nil {
		eq := s.Account.GetBalance()
		resp["equity"] = equityResponse{
			Ccy:         eq.Ccy,
			TotalEquity: eq.TotalEquity,
			Available:   eq.Available,
			UpdatedAt:   eq.Timestamp,
		}
		positions := make([]positionResponse, 0)
		for _, p := range s.Account.Positions() {
			positions = append(positions, positionResponse{
				InstID:   p.InstID,
				PosSide:  p.PosSide,
				Qty:      p.Qty,
				AvgPrice: p.AvgPrice,
			})
		}
		resp["positions"] = positions
	}
	if s.Store != nil {
		pending, err := s.Store.ListPending(c.Request.Context())
		if err != nil {
			log.Printf("[API] list pending failed: %v", err)
			respondError(c, http.StatusInternalServerError, "STORE_ERROR", "failed to read pending orders")
			return
		}
		resp["pending_count"] = len(pending)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getPending(c *gin.Context) {
	if s.Store == nil {
		respondError(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "state store not configured")
		return
	}
	pending, err := s.Store.ListPending(c.Request.Context())
	if err != nil {
		log.Printf("[API] list pending failed: %v", err)
		respondError(c, http.StatusInternalServerError, "STORE_ERROR", "failed to read pending orders")
		return
	}
	if pending == nil {
		pending = []order.PendingOrder{}
	}
	c.JSON(http.StatusOK, gin.H{"items": pending, "count": len(pending)})
}

// getOrder reports what the daemon knows about one idempotency key.
func (s *Server) getOrder(c *gin.Context) {
	if s.Store == nil {
		respondError(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "state store not configured")
		return
	}
	ctx := c.Request.Context()
	key := c.Param("key")

	pending, hasPending, err := s.Store.Pending(ctx, key)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	done, hasDone, err := s.Store.Completion(ctx, key)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if !hasPending && !hasDone {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "unknown key")
		return
	}

	resp := gin.H{"key": key}
	if hasPending {
		resp["pending"] = pending
	}
	if hasDone {
		resp["completion"] = done
	}
	if s.Journal != nil {
		entries, err := s.Journal.JournalByKey(ctx, key)
		if err != nil {
			log.Printf("[API] journal for %s failed: %v", key, err)
		} else {
			resp["journal"] = toJournalResponse(entries)
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getJournal(c *gin.Context) {
	if s.Journal == nil {
		respondError(c, http.StatusServiceUnavailable, "JOURNAL_UNAVAILABLE", "journal not configured")
		return
	}
	var q journalQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}
	q.normalize()

	entries, err := s.Journal.RecentJournal(c.Request.Context(), q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": toJournalResponse(entries), "limit": q.Limit})
}
