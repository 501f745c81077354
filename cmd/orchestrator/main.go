package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callorchestrator/internal/aiclient"
	"callorchestrator/internal/api"
	"callorchestrator/internal/config"
	"callorchestrator/internal/engine"
	"callorchestrator/internal/eventbus"
	"callorchestrator/internal/mediabridge"
	"callorchestrator/internal/store"
	"callorchestrator/internal/telephony"
	"callorchestrator/internal/webhook"
)

const defaultConfigPath = ""

func main() {
	log.Println("[Main] Call Orchestrator Service")
	log.Println("[Main] Starting services...")

	configPath := os.Getenv("CONFIG_FILE")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("[Main] loading configuration: %v", err)
	}

	ctx := context.Background()

	pool, err := store.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("[Main] connecting to database: %v", err)
	}
	defer pool.Close()
	log.Println("[Main] ✓ database connected")

	campaigns := store.NewCampaignStore(pool)
	contacts := store.NewContactStore(pool)
	calls := store.NewCallStore(pool)
	defer calls.Close()

	callerID := engine.NewSmartCallerID(pool.DB)
	controlDocs := telephony.NewControlDocumentBuilder(cfg.Server.PublicURL)
	telephonyClient := telephony.NewClient(cfg.Telephony.AccountSID, cfg.Telephony.AuthToken)
	aiClient := aiclient.NewClient(cfg.AI.APIKey)

	hub := eventbus.NewHub()
	go hub.Run()
	log.Println("[Main] ✓ event bus started")

	eng := engine.NewEngine(campaigns, contacts, calls, callerID, controlDocs, telephonyClient, hub)

	if err := resumeActiveCampaigns(ctx, eng, campaigns); err != nil {
		log.Printf("[Main] WARNING: resuming in-flight campaigns: %v", err)
	}

	mux := http.NewServeMux()

	apiServer := api.NewServer(cfg, campaigns, contacts, eng, hub)
	apiServer.Routes(mux)

	mux.HandleFunc("/telephony/control-document", controlDocs.ServeControlDocument)
	mux.Handle("/outbound-media-stream", mediabridge.NewHandler(campaigns, calls, eng, telephonyClient, aiClient, cfg.Campaign.InactivityTimeout))

	router := webhook.NewRouter(calls, contacts, eng, telephonyClient, cfg.Webhook.SigningSecret)
	router.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: mux,
	}

	go func() {
		log.Printf("[Main] ✓ HTTP server listening on %s", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[Main] HTTP server failed: %v", err)
		}
	}()

	log.Println("[Main] ========================================")
	log.Println("[Main] Service started successfully")
	log.Println("[Main] Press Ctrl+C to stop")
	log.Println("[Main] ========================================")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("[Main] stopping service...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Main] graceful shutdown failed: %v", err)
	}
}

// resumeActiveCampaigns re-spawns Engine loops for every campaign left
// in active status by a prior process (e.g. after a crash or restart),
// rebuilding their in-flight call sets from the Call Store.
func resumeActiveCampaigns(ctx context.Context, eng *engine.Engine, campaigns *store.CampaignStore) error {
	active, err := campaigns.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, c := range active {
		if err := eng.RecoverActive(ctx, c.ID); err != nil {
			log.Printf("[Main] WARNING: failed to recover campaign %s: %v", c.ID, err)
		}
	}
	return nil
}
