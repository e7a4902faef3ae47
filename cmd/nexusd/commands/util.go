package commands

import (
	"fmt"

	"github.com/nexus-project/nexus/internal/logger"
	"github.com/nexus-project/nexus/pkg/config"
)

// InitLogger configures internal/logger from the loaded Config.
func InitLogger(cfg *config.Config) error {
	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}
