package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"erpnerd-mcp-server/internal/config"
	"erpnerd-mcp-server/internal/facts"
	"erpnerd-mcp-server/internal/hub"
	mcpserver "erpnerd-mcp-server/internal/mcp"
	"erpnerd-mcp-server/internal/page"
	"erpnerd-mcp-server/internal/recorder"

	"github.com/google/uuid"
)

func main() {
	configPath := flag.String("config", "", "Path to the ERPNerd MCP config file (overrides workspace discovery)")
	noWorkspace := flag.Bool("no-workspace", false, "Skip .erpnerd workspace discovery")
	workspaceDir := flag.String("workspace-dir", "", "Use this directory as the workspace root")
	initWorkspace := flag.Bool("init", false, "Initialize a .erpnerd workspace in the current directory and exit")
	ssePort := flag.Int("sse-port", 0, "Optional SSE port override (falls back to config)")
	flag.Parse()

	if *initWorkspace {
		cwd, err := os.Getwd()
		if err != nil {
			log.Fatalf("failed to resolve working directory: %v", err)
		}
		if err := config.InitWorkspace(cwd); err != nil {
			log.Fatalf("failed to initialize workspace: %v", err)
		}
		log.Printf("initialized %s workspace in %s", config.WorkspaceDirName, cwd)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, wsDir, err := config.LoadWithWorkspace(*configPath, config.WorkspaceOptions{
		Disable:     *noWorkspace,
		ExplicitDir: *workspaceDir,
	})
	if err != nil {
		// Before we can redirect logs, write to stderr as last resort
		log.Fatalf("failed to load config: %v", err)
	}
	if *ssePort != 0 {
		cfg.MCP.SSEPort = *ssePort
	}

	// Redirect logging to file for stdio mode (stderr interferes with MCP protocol)
	if cfg.MCP.SSEPort == 0 && cfg.Server.LogFile != "" {
		logFile, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			log.SetOutput(logFile)
			defer logFile.Close()
		} else {
			// If we can't open log file, disable logging to avoid stderr pollution
			log.SetOutput(io.Discard)
		}
	}
	if wsDir != "" {
		log.Printf("using workspace at %s", wsDir)
	}

	engine, err := facts.NewEngine(cfg.Facts)
	if err != nil {
		log.Fatalf("failed to initialize fact engine: %v", err)
	}

	session := hub.NewSession(hub.Options{
		URL:               cfg.Hub.URL,
		Tenant:            cfg.Hub.Tenant,
		Company:           cfg.Hub.Company,
		Token:             cfg.Hub.Token,
		Username:          cfg.Hub.Username,
		Password:          cfg.Hub.Password,
		HandshakeTimeout:  cfg.Hub.GetHandshakeTimeout(),
		KeepaliveInterval: cfg.Hub.GetKeepaliveInterval(),
		ReconnectAttempts: cfg.Hub.ReconnectAttempts,
		ReconnectMinDelay: cfg.Hub.GetReconnectMinDelay(),
		ReconnectMaxDelay: cfg.Hub.GetReconnectMaxDelay(),
	}, cfg.Hub.GetInvokeTimeout(), engine)

	if cfg.Hub.TraceDir != "" {
		rec, err := recorder.NewRecorder(cfg.Hub.TraceDir)
		if err != nil {
			log.Fatalf("failed to initialize frame recorder: %v", err)
		}
		if err := rec.Start(uuid.NewString()); err != nil {
			log.Fatalf("failed to start frame trace: %v", err)
		}
		defer rec.Close()
		session.Recorder = rec
	}

	seeds := make([]page.PageRef, 0, len(cfg.Pages))
	for _, p := range cfg.Pages {
		seeds = append(seeds, page.PageRef{PageID: p.ID, Caption: p.Caption})
	}
	catalog := page.NewCatalog(seeds)
	lifecycle := page.NewLifecycle(session, catalog, engine)

	// Every call must report the session's open form handles and ack state.
	session.Client().OpenForms = func() []string {
		_, openForm, _ := lifecycle.Status()
		if openForm == "" {
			return nil
		}
		return []string{openForm}
	}
	session.OnDisconnect = func(err error) {
		engine.TransportEvent("disconnected", err.Error())
	}
	session.OnReconnect = func(connectionID string) {
		// The new hub session knows nothing about the old form handle.
		lifecycle.HandleReconnect()
		engine.TransportEvent("reconnected", connectionID)
	}

	if cfg.Hub.AutoConnect {
		if err := session.Connect(ctx); err != nil {
			log.Fatalf("failed to connect to hub: %v", err)
		}
		defer func() {
			lifecycle.Close(context.Background())
			session.Disconnect()
		}()
	} else {
		log.Printf("hub auto-connect disabled; use the connect-hub tool to dial later")
	}

	server, err := mcpserver.NewServer(cfg, session, lifecycle, catalog, engine)
	if err != nil {
		log.Fatalf("failed to initialize MCP server: %v", err)
	}

	var startErr error
	if cfg.MCP.SSEPort > 0 {
		log.Printf("starting ERPNerd MCP SSE server on port %d", cfg.MCP.SSEPort)
		startErr = server.StartSSE(ctx, cfg.MCP.SSEPort)
	} else {
		log.Printf("starting ERPNerd MCP stdio server")
		startErr = server.Start(ctx)
	}

	if startErr != nil && !errors.Is(startErr, context.Canceled) {
		log.Fatalf("server exited with error: %v", startErr)
	}
}
