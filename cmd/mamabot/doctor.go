package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"mamabot/internal/config"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your MamaBot installation",
		Long: `Verifies that MamaBot's configuration, Redis, database, WhatsApp
credentials, and providers are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("MamaBot Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				failed++
				fmt.Printf("\nRun 'mamabot init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
			} else {
				printPass("Config validation", "valid")
				passed++
			}

			if cfg == nil {
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return nil
			}

			// 3. Database writable
			if err := checkDatabase(cfg.Database.Path); err != nil {
				printFail("Database", err.Error())
				failed++
			} else {
				printPass("Database", cfg.Database.Path)
				passed++
			}

			// 4. Redis reachable (dedup gate and conversation history)
			if err := checkRedis(cfg.Redis); err != nil {
				if cfg.Dedup.FailMode == "open" {
					printWarn("Redis", fmt.Sprintf("unreachable, duplicates will pass through: %v", err))
					warned++
				} else {
					printFail("Redis", fmt.Sprintf("unreachable, messages will be dropped: %v", err))
					failed++
				}
			} else {
				printPass("Redis", cfg.Redis.Address)
				passed++
			}

			// 5. WhatsApp credentials
			wa := cfg.WhatsApp
			switch {
			case wa.AccessToken == "" || wa.PhoneNumberID == "":
				printFail("WhatsApp", "accessToken and phoneNumberId are required to send messages")
				failed++
			case wa.VerifyToken == "":
				printWarn("WhatsApp", "verifyToken not set, webhook subscription will fail")
				warned++
			case wa.AppSecret == "":
				printWarn("WhatsApp", "appSecret not set, webhook signatures are not verified")
				warned++
			default:
				printPass("WhatsApp", "configured")
				passed++
			}

			// 6. Providers
			providerCount := 0
			for name, p := range cfg.Providers {
				if !p.Enabled {
					continue
				}
				providerCount++
				if p.APIKey == "" && p.APIBase == "" {
					printWarn("Provider: "+name, "enabled but no API key/base configured")
					warned++
				} else {
					printPass("Provider: "+name, "configured")
					passed++
				}
			}
			if providerCount == 0 {
				printFail("Providers", "no providers enabled, every reply will be the fixed apology")
				failed++
			}

			// 7. Listen port
			if err := checkAddr(cfg.General.Listen); err != nil {
				printWarn("Listen address", fmt.Sprintf("%s may be in use: %v", cfg.General.Listen, err))
				warned++
			} else {
				printPass("Listen address", cfg.General.Listen)
				passed++
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running MamaBot.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nMamaBot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! MamaBot is ready to run.\n")
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if dbPath == "" {
		return fmt.Errorf("database.path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkRedis(cfg config.RedisConfig) error {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return client.Ping(ctx).Err()
}

func checkAddr(addr string) error {
	if addr == "" {
		addr = ":8080"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
