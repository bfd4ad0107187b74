package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/jstrand/bill-tracker/internal/bill"
	"github.com/jstrand/bill-tracker/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	fs := ff.NewFlagSet("bill-tracker")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		backend     = fs.StringLong("backend", "bolt", "Database backend: 'bolt' or 'sqlite'")
		dbPath      = fs.StringLong("db", "bill-tracker.db", "Database file path")
		storagePath = fs.StringLong("storage", "./bill_images", "Receipt image directory")
		scannerType = fs.StringLong("scanner", "mindee", "Scanner type: 'mindee', 'tesseract' or 'gemini'")
		mindeeLimit = fs.IntLong("mindee-limit", scanning.DefaultMonthlyLimit, "Mindee monthly page limit (0 disables the quota)")
		tessLang    = fs.StringLong("tesseract-lang", "eng", "Tesseract language code")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("BILL_TRACKER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	slog.Info("Initializing database...", "backend", *backend, "path", *dbPath)
	var db bill.DB
	var err error
	switch *backend {
	case "bolt":
		db, err = bill.NewBoltDB(*dbPath)
	case "sqlite":
		db, err = bill.NewSQLiteDB(*dbPath)
	default:
		slog.Error("Invalid database backend", "backend", *backend, "valid", "bolt or sqlite")
		os.Exit(1)
	}
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// The Mindee client is always constructed: it backs the key test
	// endpoint even when another scanner handles extraction.
	mindee := scanning.NewMindee(bill.NewMindeeStore(db), bill.NewMindeeStore(db), *mindeeLimit)

	var scanner scanning.Scanner
	switch *scannerType {
	case "mindee":
		slog.Info("Using Mindee receipt scanner", "monthly_limit", *mindeeLimit)
		scanner = mindee
	case "tesseract":
		slog.Info("Using local Tesseract scanner", "language", *tessLang)
		scanner, err = scanning.NewTesseract(*tessLang)
		if err != nil {
			slog.Error("Failed to initialize Tesseract", "error", err)
			os.Exit(1)
		}
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Using Gemini scanner", "model", *geminiModel)
		scanner, err = scanning.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid scanner type", "type", *scannerType, "valid", "mindee, tesseract or gemini")
		os.Exit(1)
	}
	defer scanner.Close()

	slog.Info("Initializing image storage...", "path", *storagePath)
	store, err := bill.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	service := bill.NewService(db, scanner, store, mindee, *mindeeLimit)

	server := bill.NewServer(service, bill.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	})

	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
