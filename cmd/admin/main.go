package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"memorial/internal/auth"
	"memorial/internal/config"
	"memorial/internal/database"
	"memorial/internal/storage"
)

const usage = `usage:
  admin --username NAME [db flags]     create the operator account
  admin prune-images [--dry-run]       remove uploaded images no character uses`

func main() {
	if len(os.Args) > 1 && os.Args[1] == "prune-images" {
		runPruneImages(os.Args[2:])
		return
	}
	runCreateUser(os.Args[1:])
}

func runCreateUser(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	fs.Usage = func() { fmt.Fprintln(fs.Output(), usage); fs.PrintDefaults() }
	var (
		username = fs.String("username", "", "operator username (required)")
		dbHost   = fs.String("db-host", "", "database host (defaults to DATABASE_HOST)")
		dbPort   = fs.Int("db-port", 0, "database port (defaults to DATABASE_PORT)")
		dbName   = fs.String("db-name", "", "database name (defaults to POSTGRES_DB)")
		dbUser   = fs.String("db-user", "", "database user (defaults to POSTGRES_USER)")
		dbPass   = fs.String("db-password", "", "database password (defaults to POSTGRES_PASSWORD)")
		sslMode  = fs.String("db-sslmode", "", "database sslmode (defaults to DATABASE_SSLMODE)")
	)
	_ = fs.Parse(args)

	u := strings.TrimSpace(*username)
	if u == "" {
		fs.Usage()
		log.Fatal("missing required flag: --username")
	}

	dbCfg, err := loadDatabaseConfig(*dbHost, *dbPort, *dbName, *dbUser, *dbPass, *sslMode)
	if err != nil {
		log.Fatalf("load database config: %v", err)
	}

	db, err := database.InitDatabase(dbCfg)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("auto migrate: %v", err)
	}

	var existing database.User
	switch err := db.Where("username = ?", u).First(&existing).Error; {
	case err == nil:
		log.Fatalf("user %q already exists", u)
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		log.Fatalf("query user: %v", err)
	}

	password, err := auth.GenerateRandomPassword(24)
	if err != nil {
		log.Fatalf("generate password: %v", err)
	}
	hashed, err := auth.HashPassword(password)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	user := database.User{
		Username:           u,
		PasswordHash:       hashed,
		MustChangePassword: true,
	}
	if err := db.Create(&user).Error; err != nil {
		log.Fatalf("create user: %v", err)
	}

	fmt.Println("Created operator account (password change required on first login):")
	fmt.Printf("username: %s\n", u)
	fmt.Printf("password: %s\n", password)
	fmt.Println("This password is shown only once.")
}

func runPruneImages(args []string) {
	fs := flag.NewFlagSet("prune-images", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "list orphaned images without deleting them")
	grace := fs.Duration("grace", time.Hour, "skip objects newer than this")
	limit := fs.Int("limit", 1000, "maximum number of objects to inspect")
	_ = fs.Parse(args)

	cfg := config.MustLoad()
	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	store, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var rows []database.Character
	if err := db.WithContext(ctx).Select("image_key", "image_url").
		Where("image_key IS NOT NULL OR image_url IS NOT NULL").Find(&rows).Error; err != nil {
		log.Fatalf("load image references: %v", err)
	}
	keys := referencedKeys(rows, store.ObjectKeyFromURL)

	objects, err := store.ListObjects(ctx, storage.ImagePrefix, *limit)
	if err != nil {
		log.Fatalf("list images: %v", err)
	}

	orphans := orphanedImages(objects, keys, time.Now().Add(-*grace))
	for _, key := range orphans {
		if *dryRun {
			fmt.Printf("orphan: %s\n", key)
			continue
		}
		if err := store.DeleteObject(ctx, key); err != nil {
			log.Printf("delete %s: %v", key, err)
			continue
		}
		fmt.Printf("deleted: %s\n", key)
	}
	fmt.Printf("%d orphaned image(s) of %d inspected\n", len(orphans), len(objects))
}

// referencedKeys collects every object a character points at, through either
// the recorded key or the image URL.
func referencedKeys(rows []database.Character, resolve func(rawURL string) (string, bool)) []string {
	var keys []string
	for _, row := range rows {
		if row.ImageKey != nil && *row.ImageKey != "" {
			keys = append(keys, *row.ImageKey)
		}
		if row.ImageURL != nil {
			if key, ok := resolve(*row.ImageURL); ok {
				keys = append(keys, key)
			}
		}
	}
	return keys
}

// orphanedImages returns the keys of objects older than cutoff that no
// character references.
func orphanedImages(objects []storage.ObjectMeta, referenced []string, cutoff time.Time) []string {
	used := make(map[string]struct{}, len(referenced))
	for _, key := range referenced {
		used[key] = struct{}{}
	}
	var out []string
	for _, obj := range objects {
		if _, ok := used[obj.Key]; ok {
			continue
		}
		if obj.LastModified.After(cutoff) {
			continue
		}
		out = append(out, obj.Key)
	}
	return out
}

func loadDatabaseConfig(host string, port int, name, user, password, sslmode string) (config.DatabaseConfig, error) {
	if strings.TrimSpace(host) == "" {
		host = os.Getenv("DATABASE_HOST")
	}
	if port <= 0 {
		if env := strings.TrimSpace(os.Getenv("DATABASE_PORT")); env != "" {
			p, err := strconv.Atoi(env)
			if err != nil {
				return config.DatabaseConfig{}, fmt.Errorf("parse DATABASE_PORT: %w", err)
			}
			port = p
		}
	}
	if strings.TrimSpace(name) == "" {
		name = os.Getenv("POSTGRES_DB")
	}
	if strings.TrimSpace(user) == "" {
		user = os.Getenv("POSTGRES_USER")
	}
	if strings.TrimSpace(password) == "" {
		password = os.Getenv("POSTGRES_PASSWORD")
	}
	if strings.TrimSpace(sslmode) == "" {
		sslmode = os.Getenv("DATABASE_SSLMODE")
	}

	if strings.TrimSpace(host) == "" {
		host = "localhost"
	}
	if port <= 0 {
		port = 5432
	}
	if strings.TrimSpace(sslmode) == "" {
		sslmode = "disable"
	}
	if strings.TrimSpace(name) == "" {
		name = "memorial"
	}
	if strings.TrimSpace(user) == "" {
		return config.DatabaseConfig{}, errors.New("database user is required (POSTGRES_USER)")
	}
	if strings.TrimSpace(password) == "" {
		return config.DatabaseConfig{}, errors.New("database password is required (POSTGRES_PASSWORD)")
	}

	return config.DatabaseConfig{
		Host:     host,
		Port:     port,
		Name:     name,
		User:     user,
		Password: password,
		SSLMode:  sslmode,
	}, nil
}
