package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"archiviz-render-server/modules/annotate"
	"archiviz-render-server/modules/common/config"
	"archiviz-render-server/modules/common/credit"
	"archiviz-render-server/modules/common/database"
	geminiclient "archiviz-render-server/modules/common/gemini"
	redisutil "archiviz-render-server/modules/common/redis"
	"archiviz-render-server/modules/common/storage"
	"archiviz-render-server/modules/history"
	"archiviz-render-server/modules/render"
	"archiviz-render-server/modules/worker"
)

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// development - allow all origins
		return true
	},
}

// ProgressClient - one websocket subscriber watching a job
type ProgressClient struct {
	conn  *websocket.Conn
	jobID string
	send  chan []byte
}

// jobChannel - all subscribers of one job id
type jobChannel struct {
	jobID        string
	clients      map[*ProgressClient]bool
	mutex        sync.RWMutex
	lastActivity time.Time
}

// ProgressHub - routes worker progress events to websocket subscribers,
// keyed by job id
type ProgressHub struct {
	channels map[string]*jobChannel
	mutex    sync.RWMutex
	metrics  *HubMetrics
}

// HubMetrics - connection counters for the /metrics endpoint
type HubMetrics struct {
	TotalConnections int       `json:"totalConnections"`
	StartTime        time.Time `json:"startTime"`
	mutex            sync.RWMutex
}

var progressHub = &ProgressHub{
	channels: make(map[string]*jobChannel),
	metrics: &HubMetrics{
		StartTime: time.Now(),
	},
}

func (h *ProgressHub) getOrCreateChannel(jobID string) *jobChannel {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	ch, exists := h.channels[jobID]
	if !exists {
		ch = &jobChannel{
			jobID:        jobID,
			clients:      make(map[*ProgressClient]bool),
			lastActivity: time.Now(),
		}
		h.channels[jobID] = ch
	}
	ch.lastActivity = time.Now()
	return ch
}

// Publish - fan a progress event out to every subscriber of the job.
// Implements render.ProgressPublisher.
func (h *ProgressHub) Publish(jobID string, event interface{}) {
	h.mutex.RLock()
	ch, exists := h.channels[jobID]
	h.mutex.RUnlock()
	if !exists {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("❌ Failed to marshal progress event: %v", err)
		return
	}

	ch.mutex.Lock()
	ch.lastActivity = time.Now()
	for client := range ch.clients {
		select {
		case client.send <- payload:
		default:
			close(client.send)
			delete(ch.clients, client)
		}
	}
	ch.mutex.Unlock()
}

func (ch *jobChannel) addClient(client *ProgressClient) {
	ch.mutex.Lock()
	ch.clients[client] = true
	count := len(ch.clients)
	ch.mutex.Unlock()

	progressHub.metrics.mutex.Lock()
	progressHub.metrics.TotalConnections++
	progressHub.metrics.mutex.Unlock()

	log.Printf("👤 Subscriber joined job %s (subscribers: %d)", ch.jobID, count)
}

func (ch *jobChannel) removeClient(client *ProgressClient) {
	ch.mutex.Lock()
	defer ch.mutex.Unlock()
	if _, exists := ch.clients[client]; exists {
		close(client.send)
		delete(ch.clients, client)
		log.Printf("👋 Subscriber left job %s (remaining: %d)", ch.jobID, len(ch.clients))
	}
}

// cleanupIdleChannels - drop empty job channels that have been quiet
func (h *ProgressHub) cleanupIdleChannels() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	now := time.Now()
	cleaned := 0
	for jobID, ch := range h.channels {
		ch.mutex.RLock()
		idle := len(ch.clients) == 0 && now.Sub(ch.lastActivity) > 10*time.Minute
		ch.mutex.RUnlock()

		if idle {
			delete(h.channels, jobID)
			cleaned++
		}
	}
	if cleaned > 0 {
		log.Printf("🧹 Cleaned up %d idle progress channels (active: %d)", cleaned, len(h.channels))
	}
}

func (h *ProgressHub) startCleanupRoutine() {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			h.cleanupIdleChannels()
		}
	}()
}

// handleProgressWebSocket - GET /ws?job=<job_id>
func handleProgressWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	jobID := r.URL.Query().Get("job")
	if jobID == "" {
		log.Printf("Missing job parameter")
		conn.Close()
		return
	}

	client := &ProgressClient{
		conn:  conn,
		jobID: jobID,
		send:  make(chan []byte, 64),
	}

	log.Printf("🔍 New progress subscription - Job: %s", jobID)

	ch := progressHub.getOrCreateChannel(jobID)
	ch.addClient(client)

	go client.writePump()
	go client.readPump(ch)
}

// readPump - subscribers only send pings; anything else is discarded
func (c *ProgressClient) readPump(ch *jobChannel) {
	defer func() {
		ch.removeClient(c)
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
	}
}

func (c *ProgressClient) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			log.Printf("WebSocket write error: %v", err)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// enableCORS - CORS headers for every route
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "archiviz-render-server",
	})
}

func getMetrics(w http.ResponseWriter, r *http.Request) {
	progressHub.metrics.mutex.RLock()
	totalConnections := progressHub.metrics.TotalConnections
	startTime := progressHub.metrics.StartTime
	progressHub.metrics.mutex.RUnlock()

	progressHub.mutex.RLock()
	activeChannels := len(progressHub.channels)
	progressHub.mutex.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"uptime":           time.Since(startTime).String(),
		"startTime":        startTime,
		"totalConnections": totalConnections,
		"activeChannels":   activeChannels,
	})
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	rdb := redisutil.Connect(cfg)
	if rdb == nil {
		log.Fatal("❌ Failed to connect to Redis")
	}
	log.Println("✅ Redis connected successfully")

	dbClient := database.NewClient()
	if dbClient == nil {
		log.Fatal("❌ Failed to initialize Database client")
	}

	storageClient := storage.NewClient(dbClient)
	if storageClient == nil {
		log.Fatal("❌ Failed to initialize Storage client")
	}

	geminiClient := geminiclient.NewClient(context.Background())
	if geminiClient == nil {
		log.Fatal("❌ Failed to initialize Gemini client")
	}

	creditStore := credit.NewClient()
	if creditStore == nil {
		log.Fatal("❌ Failed to initialize Credit client")
	}

	historyStore := history.NewStore()
	renderService := render.NewService(cfg, geminiClient, creditStore, historyStore)

	deps := &render.Deps{
		DB:       dbClient,
		Storage:  storageClient,
		Redis:    rdb,
		Service:  renderService,
		Progress: progressHub,
	}

	progressHub.startCleanupRoutine()

	// queue worker (background)
	go worker.StartWorker(deps)

	r := mux.NewRouter()
	r.Use(enableCORS)

	r.HandleFunc("/", healthCheck).Methods("GET")
	r.HandleFunc("/health", healthCheck).Methods("GET")
	r.HandleFunc("/metrics", getMetrics).Methods("GET")
	r.HandleFunc("/ws", handleProgressWebSocket)

	render.NewHandler(renderService).RegisterRoutes(r)
	annotate.NewHandler(annotate.NewManager()).RegisterRoutes(r)
	if enqueue := worker.NewEnqueueHandler(rdb); enqueue != nil {
		enqueue.RegisterRoutes(r)
	}
	if cancel := worker.NewCancelHandler(rdb, dbClient); cancel != nil {
		cancel.RegisterRoutes(r)
	}

	log.Printf("🚀 Archiviz Render Server starting on port %s", cfg.Port)
	log.Printf("📡 Progress WebSocket: ws://localhost:%s/ws?job=<job_id>", cfg.Port)
	log.Printf("❤️  Health check: http://localhost:%s/health", cfg.Port)
	log.Printf("📊 Metrics: http://localhost:%s/metrics", cfg.Port)

	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
