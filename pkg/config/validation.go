package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/marmos91/dittohttp/pkg/lock"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if !cfg.Adapters.HTTP.Enabled {
		return fmt.Errorf("adapters: at least one adapter must be enabled")
	}

	httpCfg := cfg.Adapters.HTTP

	if httpCfg.Threads < 1 {
		return fmt.Errorf("adapters.http.threads: must be at least 1, got %d", httpCfg.Threads)
	}
	if httpCfg.QueueSize < 1 {
		return fmt.Errorf("adapters.http.queue_size: must be at least 1, got %d", httpCfg.QueueSize)
	}
	if _, err := lock.ParsePolicy(httpCfg.Lock.Policy); err != nil {
		return fmt.Errorf("adapters.http.lock.policy: %w", err)
	}
	if httpCfg.Lock.BatchSize < 1 {
		return fmt.Errorf("adapters.http.lock.batch_size: must be at least 1, got %d", httpCfg.Lock.BatchSize)
	}

	if cfg.Server.Metrics.Enabled && cfg.Server.Metrics.Port == httpCfg.Port {
		return fmt.Errorf("server.metrics.port: %d is already used by the HTTP adapter", httpCfg.Port)
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		// Return the first validation error with context
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
