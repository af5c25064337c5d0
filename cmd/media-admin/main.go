package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/config"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/database"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/middleware"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/models"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/observability"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/permissions"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/usage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsageAndExit()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := observability.InitLogger(cfg.IsDev(), cfg.App.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// token needs no database
	if args[0] == "token" {
		if len(args) < 2 {
			printUsageAndExit()
		}
		issueToken(cfg, args[1:], logger)
		return
	}

	db, err := database.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()
	if err := database.NewMigrator(db, logger).RunMigrations(ctx); err != nil {
		logger.Fatal("failed to migrate", zap.Error(err))
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "migrate":
		fmt.Println("Database is up to date")
	case "user":
		userCommand(ctx, db, rest, logger)
	case "collection":
		collectionCommand(ctx, db, rest, logger)
	case "grant":
		grantCommand(ctx, db, rest, logger)
	case "reference":
		referenceCommand(ctx, db, rest, logger)
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsageAndExit()
	}
}

func printUsage() {
	fmt.Println("Usage: media-admin [-config path] <command>")
	fmt.Println("  migrate                                          - Apply pending migrations")
	fmt.Println("  user add <username> [--superuser] [--inactive]   - Create a user")
	fmt.Println("  user remove <user_id>                            - Delete a user, keeping their media")
	fmt.Println("  collection add <parent_id> <name>                - Create a child collection")
	fmt.Println("  collection list                                  - List collections")
	fmt.Println("  grant add <user_id> <collection_id> <action>     - Grant add, change, delete or choose")
	fmt.Println("  grant list                                       - List grants")
	fmt.Println("  grant holders <collection_id> <action>           - List users holding action on a collection")
	fmt.Println("  token <user_id> [ttl]                            - Issue a bearer token")
	fmt.Println("  reference add <media_id> <type> <id> <field> <label>")
	fmt.Println("                                                   - Record that content uses a media item")
	fmt.Println("  reference clear <type> <id>                      - Drop references held by content")
}

func printUsageAndExit() {
	printUsage()
	os.Exit(1)
}

func userCommand(ctx context.Context, db *database.DB, args []string, logger *zap.Logger) {
	if len(args) < 2 {
		printUsageAndExit()
	}
	switch args[0] {
	case "add":
		u := &models.User{
			ID:         uuid.NewString(),
			Username:   args[1],
			IsActive:   true,
			DateJoined: time.Now(),
		}
		for _, opt := range args[2:] {
			switch opt {
			case "--superuser":
				u.IsSuperuser = true
			case "--inactive":
				u.IsActive = false
			default:
				printUsageAndExit()
			}
		}
		if err := db.CreateUser(ctx, u); err != nil {
			logger.Fatal("failed to create user", zap.String("username", u.Username), zap.Error(err))
		}
		fmt.Printf("Created user %s (id %s, superuser=%t, active=%t)\n", u.Username, u.ID, u.IsSuperuser, u.IsActive)
	case "remove":
		if err := db.RemoveUser(ctx, args[1]); err != nil {
			logger.Fatal("failed to remove user", zap.String("user_id", args[1]), zap.Error(err))
		}
		fmt.Printf("Removed user %s\n", args[1])
	default:
		printUsageAndExit()
	}
}

func collectionCommand(ctx context.Context, db *database.DB, args []string, logger *zap.Logger) {
	if len(args) == 0 {
		printUsageAndExit()
	}
	switch args[0] {
	case "add":
		if len(args) != 3 {
			printUsageAndExit()
		}
		parent := mustInt(args[1])
		c, err := db.CreateCollection(ctx, parent, args[2])
		if err != nil {
			logger.Fatal("failed to create collection", zap.Int64("parent_id", parent), zap.Error(err))
		}
		fmt.Printf("Created collection %d %q at %s\n", c.ID, c.Name, c.Path)
	case "list":
		cols, err := db.ListCollections(ctx)
		if err != nil {
			logger.Fatal("failed to list collections", zap.Error(err))
		}
		for _, c := range cols {
			fmt.Printf("%s%d %s\n", strings.Repeat("  ", max(c.Depth-1, 0)), c.ID, c.Name)
		}
	default:
		printUsageAndExit()
	}
}

func grantCommand(ctx context.Context, db *database.DB, args []string, logger *zap.Logger) {
	if len(args) == 0 {
		printUsageAndExit()
	}
	switch args[0] {
	case "add":
		if len(args) != 4 {
			printUsageAndExit()
		}
		action := models.Action(args[3])
		if !action.Valid() {
			fmt.Printf("Unknown action: %s\n", action)
			os.Exit(1)
		}
		if err := db.AddGrant(ctx, args[1], mustInt(args[2]), action); err != nil {
			logger.Fatal("failed to add grant", zap.String("user_id", args[1]), zap.Error(err))
		}
		fmt.Printf("Granted %s on collection %s to %s\n", action, args[2], args[1])
		fmt.Println("Running servers pick this up on their next grant reload")
	case "holders":
		if len(args) != 3 {
			printUsageAndExit()
		}
		action := models.Action(args[2])
		if !action.Valid() {
			fmt.Printf("Unknown action: %s\n", action)
			os.Exit(1)
		}
		coll, err := db.GetCollection(ctx, mustInt(args[1]))
		if err != nil {
			logger.Fatal("failed to load collection", zap.String("collection_id", args[1]), zap.Error(err))
		}
		policy := permissions.NewCollectionOwnershipPolicy(db)
		if err := policy.Reload(ctx); err != nil {
			logger.Fatal("failed to load grants", zap.Error(err))
		}
		holders := policy.UsersWithPermission(action, coll.Path)
		sort.Strings(holders)
		for _, id := range holders {
			fmt.Println(id)
		}
		fmt.Printf("%d users may %s in %q (superusers not listed)\n", len(holders), action, coll.Name)
	case "list":
		grants, err := db.ListGrants(ctx)
		if err != nil {
			logger.Fatal("failed to list grants", zap.Error(err))
		}
		for _, g := range grants {
			fmt.Printf("%s %s collection %d (%s)\n", g.UserID, g.Action, g.CollectionID, g.CollectionPath)
		}
	default:
		printUsageAndExit()
	}
}

func referenceCommand(ctx context.Context, db *database.DB, args []string, logger *zap.Logger) {
	if len(args) == 0 {
		printUsageAndExit()
	}
	switch args[0] {
	case "add":
		if len(args) != 6 {
			printUsageAndExit()
		}
		ref := models.Reference{
			MediaID:    mustInt(args[1]),
			SourceType: args[2],
			SourceID:   args[3],
			Field:      args[4],
			Label:      args[5],
		}
		if err := db.AddReference(ctx, ref); err != nil {
			logger.Fatal("failed to add reference", zap.Int64("media_id", ref.MediaID), zap.Error(err))
		}
		fmt.Printf("Recorded %s %s using media %d\n", ref.SourceType, ref.SourceID, ref.MediaID)
	case "clear":
		if len(args) != 3 {
			printUsageAndExit()
		}
		if err := usage.Reindex(ctx, db, args[1], args[2], nil); err != nil {
			logger.Fatal("failed to clear references", zap.Error(err))
		}
		fmt.Printf("Cleared references held by %s %s\n", args[1], args[2])
	default:
		printUsageAndExit()
	}
}

func issueToken(cfg *config.Config, args []string, logger *zap.Logger) {
	if cfg.Auth.JWTSecret == "" {
		logger.Fatal("auth.jwt_secret is not configured")
	}
	ttl := 24 * time.Hour
	if len(args) > 1 {
		d, err := time.ParseDuration(args[1])
		if err != nil {
			logger.Fatal("invalid ttl", zap.String("ttl", args[1]), zap.Error(err))
		}
		ttl = d
	}
	token, err := middleware.IssueToken(cfg.Auth.JWTSecret, args[0], ttl)
	if err != nil {
		logger.Fatal("failed to sign token", zap.Error(err))
	}
	fmt.Println(token)
}

func mustInt(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fmt.Printf("Invalid number: %s\n", s)
		os.Exit(1)
	}
	return v
}
