package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"inkdown-sync-server/internal/config"
	"inkdown-sync-server/internal/cursorclock"
	"inkdown-sync-server/internal/handler"
	"inkdown-sync-server/internal/middleware"
	"inkdown-sync-server/internal/normalizer"
	"inkdown-sync-server/internal/recalc"
	"inkdown-sync-server/internal/registry"
	"inkdown-sync-server/internal/repository"
	"inkdown-sync-server/internal/scope"
	"inkdown-sync-server/internal/service"
	"inkdown-sync-server/internal/storage"
	"inkdown-sync-server/internal/syncengine"
	"inkdown-sync-server/internal/versioncontrol"
	"inkdown-sync-server/internal/walletacl"
	"inkdown-sync-server/internal/websocket"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/gorilla/mux"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	normalizer.MaxPayloadBytes = cfg.Sync.MaxPayloadBytes

	couchURL := fmt.Sprintf("http://%s:%s@%s:%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
	)

	client, err := kivik.New("couch", couchURL)
	if err != nil {
		log.Fatalf("Failed to connect to CouchDB: %v", err)
	}

	ctx := context.Background()
	exists, err := client.DBExists(ctx, cfg.Database.Name)
	if err != nil {
		log.Fatalf("Failed to check database existence: %v", err)
	}
	if !exists {
		if err := client.CreateDB(ctx, cfg.Database.Name); err != nil {
			log.Fatalf("Failed to create database: %v", err)
		}
		log.Printf("Created database: %s", cfg.Database.Name)
	}

	baseURL := fmt.Sprintf("%s/%s", couchURL, cfg.Database.Name)

	// Ambient domain: identity, devices, wallets.
	userRepo := repository.NewUserRepository(client, cfg.Database.Name)
	deviceRepo := repository.NewDeviceRepository(client, cfg.Database.Name)
	walletRepo := repository.NewWalletRepository(client, cfg.Database.Name)
	acl := walletacl.New(client, cfg.Database.Name)

	authService := service.NewAuthService(userRepo, cfg.JWT.Secret, cfg.JWT.Expiration, cfg.JWT.RefreshTokenExpiration)
	userService := service.NewUserService(userRepo)
	deviceService := service.NewDeviceService(deviceRepo)
	walletService := service.NewWalletService(walletRepo, acl)

	// Sync engine: identity/scope resolution, entity registry, normalizer,
	// version control, recalc, cursor clock, ledger/conflict/entity storage,
	// composed into the Push/Pull orchestrators.
	reg := registry.New()
	entityStore := storage.NewCouchEntityStore(client, cfg.Database.Name)
	ledgerStore := storage.NewCouchLedgerStore(baseURL, cfg.Database.Name)
	conflictStore := storage.NewCouchConflictStore(baseURL, cfg.Database.Name)
	clock := cursorclock.New()
	controller := versioncontrol.New(entityStore, reg, clock)
	dispatcher := recalc.New(entityStore, reg, clock)
	scopeResolver := scope.New(acl, deviceRepo)

	engine := syncengine.New(reg, entityStore, ledgerStore, conflictStore, controller, dispatcher, clock).
		WithLimits(cfg.Sync.MaxPushBatchItems, cfg.Sync.MaxPullPageLimit)

	// Realtime fan-out: idle-device notification after an accepted push.
	wsManager := websocket.NewManager(
		cfg.WebSocket.MaxConnPerUser,
		cfg.WebSocket.WriteWait,
		cfg.WebSocket.PongWait,
		cfg.WebSocket.PingPeriod,
	)
	wsManager.SetMessageHandler(handler.NewWebSocketMessageHandler())
	go wsManager.Run()

	authHandler := handler.NewAuthHandler(authService)
	userHandler := handler.NewUserHandler(userService)
	deviceHandler := handler.NewDeviceHandler(deviceService)
	walletHandler := handler.NewWalletHandler(walletService)
	syncHandler := handler.NewSyncHandler(scopeResolver, engine, conflictStore, wsManager)
	wsHandler := handler.NewWebSocketHandler(wsManager, cfg.JWT.Secret)

	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.CORSMiddleware(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/auth/register", authHandler.Register).Methods("POST", "OPTIONS")
	api.HandleFunc("/auth/login", authHandler.Login).Methods("POST", "OPTIONS")
	api.HandleFunc("/auth/refresh", authHandler.Refresh).Methods("POST", "OPTIONS")
	api.HandleFunc("/auth/logout", authHandler.Logout).Methods("POST", "OPTIONS")

	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware(cfg.JWT.Secret))

	protected.HandleFunc("/users/me", userHandler.GetMe).Methods("GET", "OPTIONS")
	protected.HandleFunc("/users/me", userHandler.UpdateMe).Methods("PUT", "OPTIONS")

	protected.HandleFunc("/devices", deviceHandler.List).Methods("GET", "OPTIONS")
	protected.HandleFunc("/devices/register", deviceHandler.Register).Methods("POST", "OPTIONS")
	protected.HandleFunc("/devices/{id}", deviceHandler.Revoke).Methods("DELETE", "OPTIONS")

	protected.HandleFunc("/wallets", walletHandler.Create).Methods("POST", "OPTIONS")
	protected.HandleFunc("/wallets", walletHandler.List).Methods("GET", "OPTIONS")
	protected.HandleFunc("/wallets/{id}", walletHandler.Get).Methods("GET", "OPTIONS")

	protected.HandleFunc("/sync/push", syncHandler.Push).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sync/pull", syncHandler.Pull).Methods("GET", "POST", "OPTIONS")
	protected.HandleFunc("/sync/conflicts", syncHandler.ListConflicts).Methods("GET", "OPTIONS")

	r.HandleFunc("/ws", wsHandler.HandleConnection)

	r.HandleFunc("/health", healthHandler).Methods("GET")
	r.HandleFunc("/", rootHandler).Methods("GET")

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting wallet sync server on %s (env: %s)", addr, cfg.Server.Env)
		log.Printf("Connected to CouchDB at %s:%s", cfg.Database.Host, cfg.Database.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped gracefully")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"message":"wallet sync server","version":"1.0.0"}`))
}
