package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"custodia.org/internal/httpapi"
	"custodia.org/internal/obs"
	"custodia.org/internal/oms"
	"custodia.org/internal/store/pg"
	"custodia.org/internal/stream"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	// Переменные окружения из .env (если есть), реальное окружение важнее
	_ = godotenv.Load()

	// Инициализация observability (регистрация метрик, JSON-логгер и т.п.)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	rootAddr := os.Getenv("CUSTODIA_ROOT_ADDRESS")
	if rootAddr == "" {
		log.Fatal("missing CUSTODIA_ROOT_ADDRESS")
	}
	rootName := os.Getenv("CUSTODIA_ROOT_NAME")
	if rootName == "" {
		rootName = "root"
	}

	// Хранилище: PostgreSQL при заданном DSN, иначе in-memory
	var (
		store oms.Store
		db    *sql.DB
	)
	if dsn := os.Getenv("CUSTODIA_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
		db = pgStore.DB()
	} else {
		log.Println("CUSTODIA_PG_DSN is empty, using in-memory store")
		store = oms.NewMemStore()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	engine, err := oms.NewService(ctx, store, rootAddr, rootName)
	cancel()
	if err != nil {
		log.Fatalf("init engine: %v", err)
	}

	// HTTP API
	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, engine, stream.New())

	addr := os.Getenv("CUSTODIA_LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(), // уже обёрнут метриками в httpapi
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting custodia-api %s on %s", version, srv.Addr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
