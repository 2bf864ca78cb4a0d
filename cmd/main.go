package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"study-rag/internal/config"
	"study-rag/internal/db"
	"study-rag/internal/helper"
	"study-rag/internal/rag"
	"study-rag/internal/server"
	"study-rag/internal/tui"
)

const configFilePath = "./configs/config.yaml"

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", configFilePath, "Path to the YAML config file")
	serve := flag.Bool("serve", false, "Run the HTTP API")
	filePath := flag.String("file", "", "Path to a document to ingest")
	query := flag.String("query", "", "Question to answer")
	docs := flag.String("docs", "", "Comma separated document ids to ask about (default: all ready documents)")
	userID := flag.String("user", "local", "User id for CLI operations")
	interactive := flag.Bool("tui", false, "Ask questions interactively")
	migrate := flag.Bool("migrate", false, "Create the database schema and exit")
	reset := flag.Bool("reset", false, "With -migrate, drop all tables first")
	flag.Parse()

	setupLogger(config.LogConfig{Level: "debug"})
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	setupLogger(cfg.Log)
	log.Debug().Interface("config", redacted(cfg)).Msg("Loaded config")

	if *migrate {
		runMigrate(cfg, *reset)
		return
	}
	if !*serve && *filePath == "" && *query == "" && !*interactive {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing application")
	}
	defer a.Close()

	docIDs := splitIDs(*docs)
	if *filePath != "" {
		id, err := ingestFile(ctx, a, *userID, *filePath)
		if err != nil {
			log.Error().Err(err).Str("file", *filePath).Msg("Error ingesting document")
			return
		}
		docIDs = append(docIDs, id)
	}

	switch {
	case *serve:
		runServer(ctx, a)
	case *interactive:
		runTUI(a, *userID, docIDs)
	case *query != "":
		runQuery(ctx, a, *userID, *query, docIDs)
	}
}

func setupLogger(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.JSON {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()
}

func redacted(cfg *config.Config) config.Config {
	c := *cfg
	for _, key := range []*string{&c.EmbedLLM.Key, &c.InferenceLLM.Key, &c.Database.Password, &c.Index.Qdrant.APIKey, &c.Index.Chromem.EncryptionKey} {
		if *key != "" {
			*key = "***"
		}
	}
	return c
}

func splitIDs(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func runMigrate(cfg *config.Config, reset bool) {
	ctx := context.Background()
	sqldb, err := db.ConnectDB(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Error connecting to database")
	}
	dbInstance := db.NewDB(sqldb, cfg.Database.Debug)
	defer dbInstance.Close()

	if reset {
		if err := db.DropTables(ctx, dbInstance); err != nil {
			log.Fatal().Err(err).Msg("Error dropping tables")
		}
		log.Warn().Msg("Dropped all tables")
	}
	if err := db.InitDB(ctx, dbInstance, cfg.Database.VectorSize); err != nil {
		log.Fatal().Err(err).Msg("Error initializing database")
	}
}

func ingestFile(ctx context.Context, a *app, userID, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	doc, err := a.ingest.Ingest(ctx, userID, filepath.Base(path), data)
	if err != nil {
		return "", err
	}
	helper.PrettyPrint(doc)
	return doc.ID, nil
}

func runQuery(ctx context.Context, a *app, userID, question string, docIDs []string) {
	resp, err := a.chat.Ask(ctx, rag.Request{UserID: userID, Message: question, DocumentIDs: docIDs})
	if err != nil {
		log.Error().Err(err).Msg("Error querying")
		return
	}

	boldCyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	boldGreen := color.New(color.FgGreen, color.Bold).SprintFunc()
	faint := color.New(color.Faint).SprintFunc()

	fmt.Printf("%s %s\n\n", boldCyan("Question:"), question)
	fmt.Printf("%s\n%s\n\n", boldGreen("Answer:"), resp.Message)
	if len(resp.Sources) == 0 {
		return
	}
	fmt.Printf("%s %s\n", boldCyan("Sources"), faint("("+string(resp.Strategy)+")"))
	for i, s := range resp.Sources {
		page := "?"
		if s.Page != nil {
			page = fmt.Sprint(*s.Page)
		}
		fmt.Printf("  %d. page %s  %s  %s\n", i+1, page, faint(fmt.Sprintf("%.3f", s.Similarity)), helper.Truncate(s.Text, 80))
	}
}

func runTUI(a *app, userID string, docIDs []string) {
	// Log lines would draw over the alternate screen.
	zerolog.SetGlobalLevel(zerolog.Disabled)
	if _, err := tea.NewProgram(tui.New(a.chat, userID, docIDs), tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "tui error: %v\n", err)
		os.Exit(1)
	}
}

func runServer(ctx context.Context, a *app) {
	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           server.New(a.ingest, a.chat, a.study, a.cfg.Server.MaxUploadSize).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(a.cfg.Server.ShutdownTimeoutSecs)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
}
