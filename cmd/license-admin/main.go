package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"ea-license-server/config"
	"ea-license-server/internal/database"
	"ea-license-server/internal/license"
)

func main() {
	fmt.Println("========================================")
	fmt.Println(" License Administration Tool")
	fmt.Println("========================================")
	fmt.Println()

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

	ctx := context.Background()
	if err := db.RunMigrations(ctx); err != nil {
		fmt.Printf("Failed to run migrations: %v\n", err)
		os.Exit(1)
	}

	repo := database.NewRepository(db)
	authority := license.NewAuthority(repo)
	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Println("\nOptions:")
		fmt.Println("  1. Issue a license")
		fmt.Println("  2. List licenses")
		fmt.Println("  3. Show license detail")
		fmt.Println("  4. Suspend a license")
		fmt.Println("  5. Reactivate a license")
		fmt.Println("  6. Cancel a license")
		fmt.Println("  7. Extend a license")
		fmt.Println("  8. List plans")
		fmt.Println("  9. Exit")
		fmt.Print("\nSelect option: ")

		input, _ := reader.ReadString('\n')
		input = strings.TrimSpace(input)

		switch input {
		case "1":
			issueLicense(ctx, reader, repo, authority)
		case "2":
			listLicenses(ctx, reader, repo)
		case "3":
			showLicense(ctx, reader, repo, authority)
		case "4":
			transition(ctx, reader, "suspend", authority.Suspend)
		case "5":
			transition(ctx, reader, "reactivate", authority.Reactivate)
		case "6":
			transition(ctx, reader, "cancel", authority.Cancel)
		case "7":
			extendLicense(ctx, reader, authority)
		case "8":
			listPlans(ctx, repo)
		case "9":
			fmt.Println("Goodbye!")
			os.Exit(0)
		default:
			fmt.Println("Invalid option")
		}
	}
}

func prompt(reader *bufio.Reader, label string) string {
	fmt.Print(label)
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func issueLicense(ctx context.Context, reader *bufio.Reader, repo *database.Repository, authority *license.Authority) {
	fmt.Println("\n--- Issue License ---")

	listPlans(ctx, repo)
	planID := prompt(reader, "Plan ID: ")
	email := prompt(reader, "Customer email: ")
	notes := prompt(reader, "Notes (optional): ")

	lic, err := authority.Issue(ctx, license.IssueRequest{
		PlanID:    planID,
		UserEmail: email,
		Notes:     notes,
	})
	if err != nil {
		fmt.Printf("Issue failed: %v\n", err)
		return
	}

	fmt.Println("\n========================================")
	fmt.Printf("  License Key: %s\n", lic.Key)
	fmt.Printf("  Plan:        %s\n", lic.PlanName)
	fmt.Printf("  Expires:     %s\n", lic.ExpiresAt.Format("2006-01-02 15:04:05"))
	fmt.Println("========================================")

	save := prompt(reader, "\nSave to file? (y/n): ")
	if strings.ToLower(save) == "y" {
		filename := fmt.Sprintf("license_%s.txt", time.Now().Format("20060102_150405"))
		content := fmt.Sprintf("License Key: %s\nPlan: %s\nCustomer: %s\nExpires: %s\n",
			lic.Key, lic.PlanName, lic.UserEmail, lic.ExpiresAt.Format("2006-01-02 15:04:05"))
		os.WriteFile(filename, []byte(content), 0644)
		fmt.Printf("Saved to: %s\n", filename)
	}
}

func listLicenses(ctx context.Context, reader *bufio.Reader, repo *database.Repository) {
	status := prompt(reader, "\nFilter by status (active/expired/suspended/cancelled, empty for all): ")

	licenses, total, err := repo.ListLicenses(ctx, status, 50, 0)
	if err != nil {
		fmt.Printf("List failed: %v\n", err)
		return
	}

	fmt.Printf("\n%d licenses (%d total)\n", len(licenses), total)
	fmt.Println("----------------------------------------------------------------------")
	for _, lic := range licenses {
		fmt.Printf("  %-40s %-10s expires %s  %s\n",
			lic.Key, lic.Status, lic.ExpiresAt.Format("2006-01-02"), lic.UserEmail)
	}
}

func showLicense(ctx context.Context, reader *bufio.Reader, repo *database.Repository, authority *license.Authority) {
	id := prompt(reader, "\nLicense ID or key: ")

	lic, err := repo.GetLicenseByID(ctx, id)
	if err == nil && lic == nil {
		lic, err = repo.GetLicenseByKey(ctx, license.NormalizeKey(id))
	}
	if err != nil {
		fmt.Printf("Lookup failed: %v\n", err)
		return
	}
	if lic == nil {
		fmt.Println("License not found")
		return
	}

	fmt.Println("\n========================================")
	fmt.Printf("  ID:             %s\n", lic.ID)
	fmt.Printf("  Key:            %s\n", lic.Key)
	fmt.Printf("  Customer:       %s\n", lic.UserEmail)
	fmt.Printf("  Plan:           %s (%d days, %d accounts)\n", lic.PlanName, lic.PlanDuration, lic.PlanMaxAccounts)
	fmt.Printf("  Status:         %s\n", lic.Status)
	fmt.Printf("  Issued:         %s\n", lic.IssuedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Expires:        %s\n", lic.ExpiresAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Verifications:  %d\n", lic.VerificationCount)
	if lic.LastVerified != nil {
		fmt.Printf("  Last verified:  %s\n", lic.LastVerified.Format("2006-01-02 15:04:05"))
	}
	fmt.Println("========================================")

	bindings, err := authority.Bindings(ctx, lic.ID)
	if err != nil {
		fmt.Printf("Bindings lookup failed: %v\n", err)
		return
	}
	fmt.Printf("\nBound accounts (%d):\n", len(bindings))
	for _, b := range bindings {
		fmt.Printf("  %s  bound %s  last seen %s\n",
			b.AccountID, b.FirstSeen.Format("2006-01-02"), b.LastSeen.Format("2006-01-02 15:04:05"))
	}
}

func transition(ctx context.Context, reader *bufio.Reader, verb string, fn func(context.Context, string) error) {
	id := prompt(reader, fmt.Sprintf("\nLicense ID to %s: ", verb))
	if err := fn(ctx, id); err != nil {
		fmt.Printf("Failed to %s: %v\n", verb, err)
		return
	}
	fmt.Printf("License %sed\n", strings.TrimSuffix(verb, "e"))
}

func extendLicense(ctx context.Context, reader *bufio.Reader, authority *license.Authority) {
	id := prompt(reader, "\nLicense ID to extend: ")
	lic, err := authority.Extend(ctx, id)
	if err != nil {
		fmt.Printf("Extend failed: %v\n", err)
		return
	}
	fmt.Printf("Extended, new expiry: %s\n", lic.ExpiresAt.Format("2006-01-02 15:04:05"))
}

func listPlans(ctx context.Context, repo *database.Repository) {
	plans, err := repo.ListPlans(ctx, false)
	if err != nil {
		fmt.Printf("Plan list failed: %v\n", err)
		return
	}

	fmt.Println("\nPlans:")
	for _, p := range plans {
		active := "active"
		if !p.IsActive {
			active = "inactive"
		}
		fmt.Printf("  %-36s %-20s %3d days  %2d accounts  %8.2f  %s\n",
			p.ID, p.Name, p.DurationDays, p.MaxAccounts, p.Price, active)
	}
}
