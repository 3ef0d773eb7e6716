package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"codehive/internal/api"
	"codehive/internal/auth"
	"codehive/internal/config"
	"codehive/internal/db"
	"codehive/internal/exec"
	"codehive/internal/metrics"
	"codehive/internal/retention"
	"codehive/internal/ws"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg := config.Load()

	store, err := db.New(cfg.DBPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to initialize database")
	}
	defer store.Close()

	hub := ws.NewHub()
	go hub.Run()

	router := ws.NewRouter(store, cfg.ChatHistoryLimit)

	keeper := retention.New(store, retention.Config{
		Interval:  cfg.RetentionInterval,
		Threshold: cfg.RetentionThreshold,
		Keep:      cfg.RetentionKeep,
	})
	keeper.Start()

	tokens := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
	runner := exec.NewClient(cfg.ExecURL, cfg.ExecKey)
	apiHandler := api.New(hub, store, tokens, runner)

	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, router, w, r)
	})

	mux.HandleFunc("/signup", apiHandler.SignupHandler)
	mux.HandleFunc("/login", apiHandler.LoginHandler)
	mux.HandleFunc("/admin/signup", apiHandler.AdminSignupHandler)
	mux.HandleFunc("/admin/login", apiHandler.AdminLoginHandler)
	mux.HandleFunc("/api/rooms", apiHandler.CreateRoomHandler)
	mux.HandleFunc("/api/rooms/join", apiHandler.JoinRoomHandler)
	mux.HandleFunc("/api/execute", apiHandler.ExecuteHandler)
	mux.HandleFunc("/health", apiHandler.HealthHandler)
	mux.HandleFunc("/api/stats", apiHandler.StatsHandler)
	mux.Handle("/metrics", metrics.Handler())

	handler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler(mux)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logrus.Info("shutting down server...")
		keeper.Stop()
		store.Close()
		os.Exit(0)
	}()

	logrus.WithFields(logrus.Fields{
		"port": cfg.Port,
		"db":   cfg.DBPath,
	}).Info("codehive server starting")

	if err := http.ListenAndServe(":"+cfg.Port, handler); err != nil {
		logrus.WithError(err).Fatal("ListenAndServe")
	}
}
