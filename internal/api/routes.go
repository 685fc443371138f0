package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchyard/internal/assign"
	"github.com/zulandar/switchyard/internal/consensus"
	"github.com/zulandar/switchyard/internal/message"
	"github.com/zulandar/switchyard/internal/models"
	"github.com/zulandar/switchyard/internal/swarm"
	"github.com/zulandar/switchyard/internal/task"
	"gorm.io/gorm"
)

// registerRoutes sets up all API routes on the gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	e := opts.Engine
	events := newBroadcaster(e.Events())

	router.POST("/api/tasks", handleSubmitTask(e))
	router.GET("/api/tasks/:id", handleGetTask(e, opts.DB))
	router.DELETE("/api/tasks/:id", handleCancelTask(e))
	router.POST("/api/tasks/:id/reassign", handleReassignTask(e))
	router.POST("/api/tasks/:id/complete", handleCompleteTask(e))
	router.POST("/api/tasks/:id/fail", handleFailTask(e))
	router.POST("/api/tasks/:id/progress", handleProgress(e))

	router.POST("/api/agents", handleRegisterAgent(e))
	router.POST("/api/nodes", handleRegisterNode(e))
	router.DELETE("/api/nodes/:id", handleRemoveNode(e))
	router.POST("/api/messages", handleSendMessage(e))
	router.POST("/api/gossip", handleStartGossip(e))
	router.POST("/api/consensus", handleInitiateConsensus(e))
	router.POST("/api/consensus/:id/vote", handleVote(e))

	router.GET("/api/status", handleStatus(e))
	router.GET("/api/events", handleSSE(events))
}

type submitTaskRequest struct {
	Description  string   `json:"description" binding:"required"`
	Priority     string   `json:"priority"`
	Complexity   string   `json:"complexity"`
	Capabilities []string `json:"capabilities"`
	MaxRetries   *int     `json:"max_retries"`
	TimeoutSec   int      `json:"timeout_sec"`
	EstimateSec  int      `json:"estimate_sec"`
	Dependencies []string `json:"dependencies"`
}

func handleSubmitTask(e *swarm.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req submitTaskRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		def := task.NewDefinition(req.Description, task.Priority(req.Priority), task.Complexity(req.Complexity))
		def.Requirements.Capabilities = req.Capabilities
		def.Dependencies = req.Dependencies
		if req.MaxRetries != nil {
			def.Constraints.MaxRetries = *req.MaxRetries
		}
		if req.TimeoutSec > 0 {
			def.Constraints.Timeout = time.Duration(req.TimeoutSec) * time.Second
		}
		if req.EstimateSec > 0 {
			def.Estimate = time.Duration(req.EstimateSec) * time.Second
		}

		id, err := e.SubmitTask(def)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"task_id": id})
	}
}

func handleGetTask(e *swarm.Engine, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		out := gin.H{"task_id": id}

		if a, ok := e.Assignment(id); ok {
			out["assignment"] = a
		}
		if plan, ok := e.Plan(id); ok {
			out["plan"] = plan
		}
		if db != nil {
			var rec models.TaskRecord
			if err := db.First(&rec, "id = ?", id).Error; err == nil {
				out["record"] = rec
			}
		}
		if len(out) == 1 {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown task"})
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func handleCancelTask(e *swarm.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		reason := c.DefaultQuery("reason", "cancelled via api")
		if !e.CancelTask(c.Param("id"), reason) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown task"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"cancelled": true})
	}
}

func handleReassignTask(e *swarm.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Reason string `json:"reason"`
		}
		c.ShouldBindJSON(&req)
		if req.Reason == "" {
			req.Reason = "reassigned via api"
		}
		if !e.ReassignTask(c.Param("id"), req.Reason) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not assigned"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"reassigned": true})
	}
}

func handleCompleteTask(e *swarm.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Quality float64 `json:"quality"`
		}
		c.ShouldBindJSON(&req)
		if req.Quality <= 0 {
			req.Quality = 1.0
		}
		if !e.CompleteTask(c.Param("id"), req.Quality) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not assigned"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"completed": true})
	}
}

func handleFailTask(e *swarm.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Reason string `json:"reason"`
		}
		c.ShouldBindJSON(&req)
		if req.Reason == "" {
			req.Reason = "failed via api"
		}
		if !e.FailTask(c.Param("id"), req.Reason) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not assigned"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"failed": true})
	}
}

func handleProgress(e *swarm.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Note string `json:"note"`
		}
		c.ShouldBindJSON(&req)
		if !e.ReportProgress(c.Param("id"), req.Note) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not assigned"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"reported": true})
	}
}

type registerAgentRequest struct {
	ID           string   `json:"id" binding:"required"`
	Capabilities []string `json:"capabilities"`
	MaxLoad      int      `json:"max_load"`
	TrustScore   *float64 `json:"trust_score"`
}

func handleRegisterAgent(e *swarm.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerAgentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.MaxLoad <= 0 {
			req.MaxLoad = 3
		}
		trust := 0.7
		if req.TrustScore != nil {
			trust = *req.TrustScore
		}
		agent := assign.Agent{
			ID:           req.ID,
			Capabilities: req.Capabilities,
			MaxLoad:      req.MaxLoad,
			TrustScore:   trust,
			Availability: assign.Available,
		}
		if err := e.RegisterAgent(agent); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"registered": req.ID})
	}
}

type registerNodeRequest struct {
	ID           string   `json:"id" binding:"required"`
	Address      string   `json:"address"`
	Capabilities []string `json:"capabilities"`
}

func handleRegisterNode(e *swarm.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerNodeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := e.RegisterNode(req.ID, req.Address, req.Capabilities); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"registered": req.ID})
	}
}

func handleRemoveNode(e *swarm.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if !e.RemoveNode(id) {
			c.JSON(http.StatusNotFound, gin.H{"error": "node not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"removed": id})
	}
}

type sendMessageRequest struct {
	Type       string   `json:"type" binding:"required"` // broadcast, multicast, unicast
	Recipients []string `json:"recipients"`
	Payload    string   `json:"payload"`
	Priority   string   `json:"priority"`
}

func handleSendMessage(e *swarm.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sendMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		priority := message.Priority(req.Priority)
		var id string
		var err error
		switch req.Type {
		case "broadcast":
			id, err = e.Broadcast([]byte(req.Payload), priority)
		case "multicast":
			id, err = e.Multicast(req.Recipients, []byte(req.Payload), priority)
		case "unicast":
			if len(req.Recipients) != 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unicast requires exactly one recipient"})
				return
			}
			id, err = e.Unicast(req.Recipients[0], []byte(req.Payload), priority)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown message type"})
			return
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"message_id": id})
	}
}

type gossipRequest struct {
	Key  string `json:"key" binding:"required"`
	Data string `json:"data"`
}

func handleStartGossip(e *swarm.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req gossipRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := e.StartGossip(req.Key, []byte(req.Data)); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"key": req.Key})
	}
}

type consensusRequest struct {
	Type         string   `json:"type" binding:"required"`
	Value        string   `json:"value"`
	Participants []string `json:"participants"`
}

func handleInitiateConsensus(e *swarm.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req consensusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, err := e.InitiateConsensus(req.Type, []byte(req.Value), req.Participants)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"proposal_id": id})
	}
}

type voteRequest struct {
	Decision  string `json:"decision" binding:"required"`
	Reasoning string `json:"reasoning"`
}

func handleVote(e *swarm.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req voteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		err := e.Vote(c.Param("id"), consensus.Decision(req.Decision), req.Reasoning)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"voted": true})
	}
}

func handleStatus(e *swarm.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, e.QueueStatus(time.Now()))
	}
}
