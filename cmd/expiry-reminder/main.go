package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"ea-license-server/config"
	"ea-license-server/internal/database"
	"ea-license-server/internal/email"
	"ea-license-server/internal/vault"
)

// Sends renewal reminder emails for licenses expiring soon. Intended
// to run from cron once a day.
func main() {
	days := flag.Int("days", 7, "reminder window in days")
	dryRun := flag.Bool("dry-run", false, "list recipients without sending")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		fmt.Printf("Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := database.NewRepository(db)

	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		fmt.Printf("Failed to initialize vault client: %v\n", err)
		os.Exit(1)
	}
	emailService := email.NewService(repo, vaultClient)

	ctx := context.Background()
	window := time.Duration(*days) * 24 * time.Hour

	licenses, err := repo.ListExpiringLicenses(ctx, window)
	if err != nil {
		fmt.Printf("Failed to list expiring licenses: %v\n", err)
		os.Exit(1)
	}

	if len(licenses) == 0 {
		fmt.Printf("No licenses expiring within %d day(s)\n", *days)
		return
	}

	if !*dryRun && !emailService.IsSMTPConfigured(ctx) {
		fmt.Println("SMTP is not configured, nothing sent. Use --dry-run to list recipients.")
		os.Exit(1)
	}

	sent, failed, skipped := 0, 0, 0
	for _, lic := range licenses {
		if lic.UserEmail == "" {
			skipped++
			continue
		}

		if *dryRun {
			fmt.Printf("  would remind %-30s %s expires %s\n",
				lic.UserEmail, lic.Key, lic.ExpiresAt.Format("2006-01-02"))
			sent++
			continue
		}

		if err := emailService.SendExpiryReminder(ctx, &lic); err != nil {
			fmt.Printf("  failed %s: %v\n", lic.UserEmail, err)
			failed++
			continue
		}
		sent++
	}

	fmt.Printf("Done: %d reminded, %d failed, %d without email\n", sent, failed, skipped)
	if failed > 0 {
		os.Exit(1)
	}
}
