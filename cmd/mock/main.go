package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/paincake00/dispatchcore/internal/entity"
	"github.com/paincake00/dispatchcore/internal/logger"
)

// Config мок-приемник вебхуков. FailEvery > 0 отвечает 503 на каждый N-й запрос,
// чтобы проверить повторы воркера.
type Config struct {
	Port      string `envconfig:"PORT" default:"9090"`
	FailEvery int    `envconfig:"MOCK_FAIL_EVERY" default:"0"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
}

// Event вебхук, сохраненный в памяти мок-сервера.
type Event struct {
	Task       entity.WebhookTask `json:"task"`
	ReceivedAt time.Time          `json:"received_at"`
}

type receiver struct {
	mu        sync.Mutex
	events    []Event
	requests  int
	failEvery int
	log       *slog.Logger
}

func main() {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	rcv := &receiver{failEvery: cfg.FailEvery, log: log}
	http.Handle("/", rcv)

	log.Info("mock webhook receiver listening", slog.String("port", cfg.Port))
	if err := http.ListenAndServe(":"+cfg.Port, nil); err != nil {
		log.Error("server failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func (rcv *receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		rcv.receive(w, r)
	case http.MethodGet:
		// отдаем список полученных вебхуков
		rcv.mu.Lock()
		defer rcv.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(rcv.events); err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (rcv *receiver) receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	rcv.mu.Lock()
	defer rcv.mu.Unlock()

	rcv.requests++
	if rcv.failEvery > 0 && rcv.requests%rcv.failEvery == 0 {
		rcv.log.Info("simulating failure", slog.Int("request", rcv.requests))
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	var task entity.WebhookTask
	if err := json.Unmarshal(body, &task); err != nil {
		rcv.log.Warn("invalid webhook payload", slog.Any("error", err))
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	rcv.log.Info("received webhook", slog.String("type", string(task.Event.Type)), slog.Any("topics", task.Topics))
	rcv.events = append(rcv.events, Event{Task: task, ReceivedAt: time.Now().UTC()})
	w.WriteHeader(http.StatusOK)
}
