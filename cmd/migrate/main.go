package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}

	switch os.Args[1] {
	case "up":
		runSteps(os.Args[2:], 1)
	case "down":
		runSteps(os.Args[2:], -1)
	case "version":
		runVersion()
	case "force":
		runForce(os.Args[2:])
	case "create":
		runCreate(os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [args]\n\n", filepath.Base(os.Args[0]))
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  up [n]        Apply all pending migrations, or the next n")
	fmt.Fprintln(os.Stderr, "  down [n]      Roll back all migrations, or the last n")
	fmt.Fprintln(os.Stderr, "  version       Show the current migration version")
	fmt.Fprintln(os.Stderr, "  force <ver>   Force set the migration version (fixes dirty state)")
	fmt.Fprintln(os.Stderr, "  create <name> Create new migration files")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Environment:")
	fmt.Fprintln(os.Stderr, "  DATABASE_URL  PostgreSQL connection string")
}

// runSteps applies migrations in the given direction: all of them when no
// count is supplied, otherwise exactly n.
func runSteps(args []string, direction int) {
	m, err := newMigrator()
	if err != nil {
		exitWithError(err)
	}
	defer closeMigrator(m)

	if len(args) == 0 {
		if direction > 0 {
			err = m.Up()
		} else {
			err = m.Down()
		}
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			exitWithError(err)
		}
		return
	}

	steps, err := strconv.Atoi(args[0])
	if err != nil || steps <= 0 {
		exitWithError(fmt.Errorf("invalid steps: %s", args[0]))
	}
	if err := m.Steps(direction * steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		exitWithError(err)
	}
}

func runVersion() {
	m, err := newMigrator()
	if err != nil {
		exitWithError(err)
	}
	defer closeMigrator(m)

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		fmt.Println("no migrations applied")
		return
	}
	if err != nil {
		exitWithError(err)
	}
	if dirty {
		fmt.Printf("%d (dirty)\n", version)
		return
	}
	fmt.Println(version)
}

func runForce(args []string) {
	if len(args) == 0 {
		exitWithError(errors.New("version number is required"))
	}

	version, err := strconv.Atoi(args[0])
	if err != nil {
		exitWithError(fmt.Errorf("invalid version: %s", args[0]))
	}

	m, err := newMigrator()
	if err != nil {
		exitWithError(err)
	}
	defer closeMigrator(m)

	if err := m.Force(version); err != nil {
		exitWithError(err)
	}
	fmt.Printf("Forced version to %d\n", version)
}

func runCreate(args []string) {
	if len(args) == 0 {
		exitWithError(errors.New("migration name is required"))
	}

	name := sanitizeName(args[0])
	if name == "" {
		exitWithError(errors.New("migration name must include at least one alphanumeric character"))
	}

	dir, err := migrationsDir()
	if err != nil {
		exitWithError(err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		exitWithError(err)
	}

	base := fmt.Sprintf("%s_%s", time.Now().UTC().Format("20060102150405"), name)
	for _, suffix := range []string{".up.sql", ".down.sql"} {
		path := filepath.Join(dir, base+suffix)
		if err := writeMigrationFile(path); err != nil {
			exitWithError(err)
		}
		fmt.Printf("Created %s\n", path)
	}
}

func newMigrator() (*migrate.Migrate, error) {
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}

	dir, err := migrationsDir()
	if err != nil {
		return nil, err
	}

	return migrate.New("file://"+dir, databaseURL)
}

func migrationsDir() (string, error) {
	return filepath.Abs("migrations")
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9_]+`)

func sanitizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "-", "_")
	name = nonSlugChars.ReplaceAllString(name, "")
	return strings.Trim(name, "_")
}

func writeMigrationFile(path string) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = file.WriteString("-- write migration here\n")
	return err
}

func closeMigrator(m *migrate.Migrate) {
	sourceErr, dbErr := m.Close()
	if sourceErr != nil {
		fmt.Fprintf(os.Stderr, "source close error: %v\n", sourceErr)
	}
	if dbErr != nil {
		fmt.Fprintf(os.Stderr, "db close error: %v\n", dbErr)
	}
}

func exitWithError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
	usage()
	os.Exit(1)
}
