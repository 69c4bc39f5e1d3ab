package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gluk-w/claworc/tunneling/internal/audit"
	"github.com/gluk-w/claworc/tunneling/internal/auth"
	"github.com/gluk-w/claworc/tunneling/internal/config"
	"github.com/gluk-w/claworc/tunneling/internal/database"
	"github.com/gluk-w/claworc/tunneling/internal/handlers"
	"github.com/gluk-w/claworc/tunneling/internal/logging"
	"github.com/gluk-w/claworc/tunneling/internal/reconcile"
	"github.com/gluk-w/claworc/tunneling/internal/registrar"
	"github.com/gluk-w/claworc/tunneling/internal/sshcmd"
	"github.com/gluk-w/claworc/tunneling/internal/sshexec"
	"github.com/gluk-w/claworc/tunneling/internal/tunnel"
)

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 && os.Args[1] == "--create-user" {
		runCreateUser()
		return
	}

	config.Load()
	logging.Init()
	logging.WatchFile(config.Cfg.LoggingConfigPath, 0)

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	audit.InitGlobal(database.DB, config.Cfg.AuditRetentionDays)
	purge := cron.New()
	purge.AddFunc("@daily", func() { audit.GetAuditor().PurgeOlderThan(0) })
	purge.Start()
	defer purge.Stop()

	seed := auth.ParseSeedUsers(config.Cfg.SeedUsernames, config.Cfg.SeedPasswords, config.Cfg.SeedGroups)
	if err := auth.SeedUsers(seed); err != nil {
		log.Fatalf("Seed users: %v", err)
	}

	log.Printf("Config: AuthDisabled=%v, Pod=%s, SSHConfig=%s, Registrar=%s",
		config.Cfg.AuthDisabled, config.Cfg.PodName, config.Cfg.SSHConfigFile, config.Cfg.RegistrarBackend)

	ctx := context.Background()
	if err := registrar.Init(ctx); err != nil {
		log.Fatalf("Registrar init: %v", err)
	}
	reg := registrar.Get()

	builder := sshcmd.Builder{ConfigPath: config.Cfg.SSHConfigFile, Timeout: config.Cfg.SSHTimeout}
	exec := sshexec.NewExecutor(builder, sshexec.OSRunner{}, config.Cfg.SSHTimeoutDuration())
	store := database.NewStore(database.DB)

	tunnels := tunnel.NewManager(exec, store, reg, config.Cfg.PodName)
	remotes := tunnel.NewRemoteManager(exec, store)
	rec := reconcile.New(reconcile.Config{
		SSHConfigFile: config.Cfg.SSHConfigFile,
		Interval:      config.Cfg.RemoteCheckInterval,
		RemoteTimeout: time.Duration(config.Cfg.RemoteCheckTimeout) * time.Second,
		RemoteCheck:   config.Cfg.RemoteCheck,
		Deployment:    config.Cfg.DeploymentName,
		SweepGrace:    config.Cfg.OrphanSweepGrace,
	}, tunnels, remotes, store, reg)

	handlers.Tunnels = tunnels
	handlers.Remotes = remotes
	handlers.Reconciler = rec

	if config.Cfg.RestoreOnStartup {
		restored, failed := rec.RestoreOwnedTunnels(ctx)
		log.Printf("Restored %d tunnels (%d failed)", restored, failed)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if rec.ShouldRunRemoteLoop(ctx) {
		go rec.RunRemoteLoop(sigCtx)
	} else {
		log.Printf("Remote check loop disabled on %s", config.Cfg.PodName)
	}

	if s := strings.TrimSpace(config.Cfg.OrphanSweepSchedule); s != "" {
		if err := rec.StartOrphanSweep(s); err != nil {
			log.Fatalf("Orphan sweep: %v", err)
		}
	}

	// Graceful shutdown
	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: newRouter(),
	}

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	rec.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

func runCreateUser() {
	fs := flag.NewFlagSet("create-user", flag.ExitOnError)
	username := fs.String("username", "", "Username")
	password := fs.String("password", "", "Password")
	groups := fs.String("groups", auth.GroupWebservice, "Groups, ':' separated")
	fs.Parse(os.Args[2:])

	if *username == "" || *password == "" {
		fmt.Fprintf(os.Stderr, "Usage: tunneling --create-user --username <user> --password <pass> [--groups a:b]\n")
		os.Exit(1)
	}

	config.Load()
	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	users := auth.ParseSeedUsers(*username, *password, *groups)
	if err := auth.SeedUsers(users); err != nil {
		log.Fatalf("Failed to create user: %v", err)
	}
	fmt.Printf("User '%s' saved successfully.\n", *username)
}
