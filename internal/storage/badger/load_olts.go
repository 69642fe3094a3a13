package badger

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fibercore/internal/interfaces"
	"github.com/ternarybob/fibercore/internal/models"
)

// OltFile represents one OLT in TOML format
// Format:
// [olt-slug]
// name = "Central Office"
// host = "10.0.0.1"
// username = "admin"
// password = "${OLT_CENTRAL_PASSWORD}"
// brand = "olt-zte-c320"
// type = "gpon"
type OltFile struct {
	Name     string `toml:"name"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	Cipher   string `toml:"cipher"`
	Brand    string `toml:"brand"`
	Type     string `toml:"type"`
}

// LoadOltsFromFiles loads the OLT inventory from TOML files in the specified directory.
// Credentials support ${ENV_VAR} expansion so secrets stay out of the files.
func LoadOltsFromFiles(ctx context.Context, oltStorage interfaces.OltStorage, dirPath string, logger arbor.ILogger) error {
	logger.Debug().Str("dir", dirPath).Msg("Loading OLT inventory from files")

	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		logger.Debug().Str("dir", dirPath).Msg("Inventory directory does not exist, skipping")
		return nil
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		logger.Warn().Err(err).Str("dir", dirPath).Msg("Failed to read inventory directory")
		return nil // Non-fatal
	}

	validate := validator.New()
	loadedCount := 0
	skippedCount := 0
	errorCount := 0

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}

		filePath := filepath.Join(dirPath, entry.Name())
		content, err := os.ReadFile(filePath)
		if err != nil {
			logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to read inventory file")
			errorCount++
			continue
		}

		var olts map[string]OltFile
		if err := toml.Unmarshal(content, &olts); err != nil {
			logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to parse inventory file")
			errorCount++
			continue
		}

		for slug, file := range olts {
			olt := &models.Olt{
				Slug:     slug,
				Name:     file.Name,
				Host:     os.ExpandEnv(file.Host),
				Port:     file.Port,
				Username: os.ExpandEnv(file.Username),
				Password: os.ExpandEnv(file.Password),
				Cipher:   file.Cipher,
				Brand:    file.Brand,
				Type:     file.Type,
			}
			if olt.Name == "" {
				olt.Name = slug
			}

			if err := validate.Struct(olt); err != nil {
				logger.Warn().
					Err(err).
					Str("file", entry.Name()).
					Str("olt", slug).
					Msg("Skipping OLT: invalid inventory entry")
				skippedCount++
				continue
			}

			if err := oltStorage.SaveOlt(ctx, olt); err != nil {
				logger.Warn().Err(err).Str("olt", slug).Msg("Failed to save OLT")
				errorCount++
				continue
			}

			logger.Debug().Str("olt", slug).Str("brand", olt.Brand).Msg("Loaded OLT")
			loadedCount++
		}
	}

	logger.Info().
		Int("loaded", loadedCount).
		Int("skipped", skippedCount).
		Int("errors", errorCount).
		Msg("Finished loading OLT inventory from files")

	return nil
}
