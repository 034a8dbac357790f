// bakkoctl performs admin operations directly against the BAK-Ko database.
//
// Usage:
//
//	bakkoctl create-user -username alice -password secret [-admin]
//	bakkoctl grant -to <userID> -amount 500 [-desc "..."]
//	bakkoctl freeze -user <userID> [-until <unix-ms>]
//	bakkoctl unfreeze -user <userID>
//	bakkoctl verify -user <userID> -status approved [-badge gold] [-expires <unix-ms>]
//	bakkoctl announce -as <adminUserID> -text "..."
//	bakkoctl delete-user -user <userID>
//	bakkoctl reports [-status pending]
//	bakkoctl resolve-report -report <reportID> -status resolved
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"bakko-backend/internal/config"
	"bakko-backend/internal/logging"
	"bakko-backend/internal/storage"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fatal("config error: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fatal("log init error: %v", err)
	}

	ctx := context.Background()
	store, err := storage.Open(ctx, cfg.DatabaseURL, logger, nil)
	if err != nil {
		fatal("open database: %v", err)
	}
	defer store.Close()

	nowMs := time.Now().UnixMilli()

	switch os.Args[1] {
	case "create-user":
		fs := flag.NewFlagSet("create-user", flag.ExitOnError)
		username := fs.String("username", "", "username (unique, case-insensitive)")
		password := fs.String("password", "", "password")
		email := fs.String("email", "", "email address")
		admin := fs.Bool("admin", false, "grant admin rights")
		_ = fs.Parse(os.Args[2:])

		user, err := store.CreateUser(ctx, storage.CreateUserParams{
			Username: *username,
			Password: *password,
			Email:    *email,
			IsAdmin:  *admin,
		}, nowMs)
		if err != nil {
			fatal("create user: %v", err)
		}
		fmt.Println(user.ID)

	case "grant":
		fs := flag.NewFlagSet("grant", flag.ExitOnError)
		to := fs.String("to", "", "recipient user ID")
		amount := fs.Int64("amount", 0, "amount to grant")
		desc := fs.String("desc", "Admin grant", "ledger description")
		_ = fs.Parse(os.Args[2:])

		tx, err := store.AdminGrantFunds(ctx, *to, *amount, *desc, nowMs)
		if err != nil {
			fatal("grant funds: %v", err)
		}
		fmt.Println(tx.ID)

	case "freeze":
		fs := flag.NewFlagSet("freeze", flag.ExitOnError)
		user := fs.String("user", "", "user ID")
		until := fs.Int64("until", 0, "optional freeze expiry (unix ms, 0 = indefinite)")
		_ = fs.Parse(os.Args[2:])

		var untilMs *int64
		if *until > 0 {
			untilMs = until
		}
		if err := store.AdminUpdateUserFreezeStatus(ctx, *user, true, untilMs, nowMs); err != nil {
			fatal("freeze: %v", err)
		}

	case "unfreeze":
		fs := flag.NewFlagSet("unfreeze", flag.ExitOnError)
		user := fs.String("user", "", "user ID")
		_ = fs.Parse(os.Args[2:])

		if err := store.AdminUpdateUserFreezeStatus(ctx, *user, false, nil, nowMs); err != nil {
			fatal("unfreeze: %v", err)
		}

	case "verify":
		fs := flag.NewFlagSet("verify", flag.ExitOnError)
		user := fs.String("user", "", "user ID")
		status := fs.String("status", "", "none|pending|approved")
		badge := fs.String("badge", "", "badge type (approved only)")
		expires := fs.Int64("expires", 0, "badge expiry (unix ms, 0 = permanent)")
		_ = fs.Parse(os.Args[2:])

		var upd storage.VerificationUpdate
		if *status != "" {
			upd.Status = status
		}
		if *badge != "" {
			upd.BadgeType = badge
		}
		if *expires > 0 {
			upd.BadgeExpiresAtMs = expires
		}
		u, err := store.AdminUpdateUserVerification(ctx, *user, upd, nowMs)
		if err != nil {
			fatal("verify: %v", err)
		}
		fmt.Println(u.VerificationStatus)

	case "announce":
		fs := flag.NewFlagSet("announce", flag.ExitOnError)
		as := fs.String("as", "", "admin user ID the announcement is posted as")
		text := fs.String("text", "", "announcement text")
		_ = fs.Parse(os.Args[2:])

		msg, err := store.AddBroadcastAnnouncement(ctx, *as, *text, nowMs)
		if err != nil {
			fatal("announce: %v", err)
		}
		fmt.Println(msg.ID)

	case "delete-user":
		fs := flag.NewFlagSet("delete-user", flag.ExitOnError)
		user := fs.String("user", "", "user ID")
		_ = fs.Parse(os.Args[2:])

		if err := store.DeleteUser(ctx, *user); err != nil {
			fatal("delete user: %v", err)
		}

	case "reports":
		fs := flag.NewFlagSet("reports", flag.ExitOnError)
		status := fs.String("status", "", "filter by status (empty = all)")
		_ = fs.Parse(os.Args[2:])

		reports, err := store.ListReports(ctx, *status)
		if err != nil {
			fatal("list reports: %v", err)
		}
		for _, r := range reports {
			fmt.Printf("%s\t%s\treported=%s\tby=%s\t%s\n", r.ID, r.Status, r.ReportedUserID, r.ReporterID, r.Reason)
		}

	case "resolve-report":
		fs := flag.NewFlagSet("resolve-report", flag.ExitOnError)
		report := fs.String("report", "", "report ID")
		status := fs.String("status", storage.ReportStatusResolved, "new status")
		_ = fs.Parse(os.Args[2:])

		if _, err := store.UpdateReportStatus(ctx, *report, *status, nowMs); err != nil {
			fatal("update report: %v", err)
		}

	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: bakkoctl <create-user|grant|freeze|unfreeze|verify|announce|delete-user|reports|resolve-report> [flags]")
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
