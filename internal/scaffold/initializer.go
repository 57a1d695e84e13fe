// Package scaffold writes a starter relay.yml.
package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/chanrelay/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// ConfigFile is the file Initialize creates.
const ConfigFile = config.DefaultPath

// Initialize writes relay.yml into dir. With force an existing file is replaced.
func Initialize(dir string, force bool) error {
	path := filepath.Join(dir, ConfigFile)

	if force {
		if _, err := os.Stat(path); err == nil {
			fmt.Printf("⚠️  Removing existing %s...\n", ConfigFile)
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("failed to remove %s: %w", ConfigFile, err)
			}
		}
	} else if err := CheckExisting(dir); err != nil {
		return err
	}

	content, err := templatesFS.ReadFile("templates/relay.yml.tmpl")
	if err != nil {
		return fmt.Errorf("failed to read %s template: %w", ConfigFile, err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", ConfigFile, err)
	}

	// The template must always load cleanly.
	if _, err := config.Load(path); err != nil {
		return fmt.Errorf("created %s is invalid: %w", ConfigFile, err)
	}
	return nil
}

// PrintSuccess prints the success message and next steps
func PrintSuccess() {
	fmt.Println("\n✅ Successfully initialized chanrelay!")
	fmt.Println("\nCreated:")
	fmt.Printf("  ✓ %s\n", ConfigFile)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Point redis.url at your Redis and store.dsn at your database")
	fmt.Println("  2. Start the daemon: relayd")
	fmt.Println("  3. Configure routing: chanrelay command --operator <id> --intent start")
}
