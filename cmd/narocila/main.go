package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/narocila/internal/api"
	"github.com/erazemk/narocila/internal/config"
	"github.com/erazemk/narocila/internal/db"
	"github.com/erazemk/narocila/internal/model"
	"github.com/erazemk/narocila/internal/notify"
	"github.com/erazemk/narocila/internal/settle"
	"github.com/erazemk/narocila/internal/store"
)

const usage = `Usage: narocila [flags]

Flags:
  -d, -db <path>          SQLite database path (default: narocila.sqlite3, env DB_PATH)
  -a, -addr <host:port>   listen address (default: :8080, env ADDR)
  -u, -user <name>        admin username on first run (default: Admin, env ADMIN_USER)
  -l, -log <path>         log file path (default: stdout/stderr only, env LOG_PATH)
  -h, -help               show this help and exit

Other settings come from the environment or a .env file:
  KAFKA_BROKERS, KAFKA_TOPIC, KAFKA_BUFFER, REDIS_ADDR,
  CAPACITY_ON_ACCEPT (advisory|enforce), REQUEST_TIMEOUT, SERVICE_NAME
`

// parseFlags applies command-line flags on top of cfg.
func parseFlags(args []string, cfg *config.Config, output io.Writer) error {
	fs := flag.NewFlagSet("narocila", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "")
	fs.StringVar(&cfg.DBPath, "d", cfg.DBPath, "")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "")
	fs.StringVar(&cfg.Addr, "a", cfg.Addr, "")
	fs.StringVar(&cfg.AdminUser, "user", cfg.AdminUser, "")
	fs.StringVar(&cfg.AdminUser, "u", cfg.AdminUser, "")
	fs.StringVar(&cfg.LogPath, "log", cfg.LogPath, "")
	fs.StringVar(&cfg.LogPath, "l", cfg.LogPath, "")

	fs.Usage = func() { fmt.Fprint(output, usage) }

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := parseFlags(os.Args[1:], cfg, os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	policy, err := settle.ParsePolicy(cfg.CapacityOnAccept)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	closeLog, err := setupLogger(cfg.LogPath, cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	if err := run(cfg, policy); err != nil {
		slog.Error("server failed", "error", err)
		closeLog()
		os.Exit(1)
	}
}

func run(cfg *config.Config, policy settle.CapacityPolicy) error {
	// Check if DB exists, auto-init if not.
	if _, err := os.Stat(cfg.DBPath); os.IsNotExist(err) {
		database, password, err := initDatabase(cfg.DBPath, cfg.AdminUser)
		if err != nil {
			return fmt.Errorf("initializing database: %w", err)
		}
		database.Close()

		printInitResult(cfg.DBPath, cfg.AdminUser, password)
		fmt.Println()
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()

	if err := db.EnsureSchema(database); err != nil {
		return fmt.Errorf("ensuring database schema: %w", err)
	}
	slog.Info("database ready", "path", cfg.DBPath)

	// Load JWT secret from database (auto-generated on first run).
	jwtSecret, err := store.GetJWTSecret(context.Background(), database)
	if err != nil {
		return fmt.Errorf("getting JWT secret: %w", err)
	}

	dispatcher := &notify.Dispatcher{DB: database, Logger: slog.Default().With("component", "notify")}

	if len(cfg.KafkaBrokers) > 0 {
		sink := notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.ServiceName, cfg.KafkaBuffer)
		sink.Start()
		defer sink.Close()
		dispatcher.Sinks = append(dispatcher.Sinks, sink)
		slog.Info("kafka sink enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	if cfg.RedisAddr != "" {
		client := notify.NewRedisClient(cfg.RedisAddr)
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := client.Ping(ctx).Err(); err != nil {
			slog.Warn("redis not reachable, publishing anyway", "addr", cfg.RedisAddr, "error", err)
		}
		cancel()

		sink := notify.NewRedisSink(client, cfg.RedisBuffer)
		sink.Start()
		defer sink.Close()
		dispatcher.Sinks = append(dispatcher.Sinks, sink)
		slog.Info("redis sink enabled", "addr", cfg.RedisAddr)
	}

	engine := &settle.Engine{
		DB:      database,
		Emitter: dispatcher,
		Policy:  policy,
		Logger:  slog.Default().With("component", "settle"),
	}
	slog.Info("settlement engine ready", "capacity_on_accept", string(policy))

	handler := api.NewRouter(api.Config{
		DB:             database,
		JWTSecret:      jwtSecret,
		Engine:         engine,
		Notifier:       dispatcher,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         slog.Default(),
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		sig := <-quit
		slog.Info("shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}()

	slog.Info("server started", "addr", cfg.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	// In-flight requests may still be emitting; let them finish before the
	// sinks and database close.
	<-stopped
	slog.Info("server stopped, closing sinks and database")
	return nil
}

// initDatabase creates a new database, ensures the schema, and creates the admin user.
func initDatabase(path, adminUsername string) (*sql.DB, string, error) {
	database, err := db.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("opening database: %w", err)
	}

	fail := func(step string, err error) (*sql.DB, string, error) {
		database.Close()
		os.Remove(path)
		return nil, "", fmt.Errorf("%s: %w", step, err)
	}

	if err := db.EnsureSchema(database); err != nil {
		return fail("ensuring schema", err)
	}

	password, err := generatePassword(16)
	if err != nil {
		return fail("generating password", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fail("hashing password", err)
	}

	if _, err := store.CreateUser(context.Background(), database, adminUsername, string(hash), model.RoleAdmin, nil); err != nil {
		return fail("creating admin user", err)
	}

	return database, password, nil
}

// printInitResult prints the database initialization result to stdout.
func printInitResult(dbPath, username, password string) {
	fmt.Printf("Database created: %s\n", dbPath)
	fmt.Println("Schema initialized.")
	fmt.Println()
	fmt.Println("Admin account created:")
	fmt.Printf("  Username: %s\n", username)
	fmt.Printf("  Password: %s\n", password)
	fmt.Println()
	fmt.Println("Save this password, it cannot be recovered.")
	fmt.Println("The admin can change it after logging in.")
}

// generatePassword creates a random password of the given length.
func generatePassword(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%&*"
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}
