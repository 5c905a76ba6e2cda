package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/softwareproject/portal/internal/client"
	"github.com/softwareproject/portal/internal/common"
)

const (
	seedRetryAttempts = 3
	usersFileName     = "import/users.json"
)

// seedRetryDelay is a variable so tests can shorten it.
var seedRetryDelay = 2 * time.Second

// Signupper registers accounts on the remote API.
type Signupper interface {
	Signup(ctx context.Context, in client.SignupRequest) (*client.AuthResponse, error)
}

// usersFile is the JSON structure for the users seed file.
type usersFile struct {
	Users []client.SignupRequest `json:"users"`
}

// DevUsers registers the accounts listed in import/users.json through the
// signup endpoint. Non-fatal: if the API is unreachable after retries, logs a
// warning and returns.
func DevUsers(ctx context.Context, api Signupper, logger *common.Logger) {
	path := findUsersFile()
	if path == "" {
		logger.Warn().Msg("seed: import/users.json not found, skipping dev user seeding")
		return
	}

	users, err := loadUsersFile(path)
	if err != nil {
		logger.Error().Str("error", err.Error()).Str("path", path).Msg("seed: failed to load users file")
		return
	}

	if len(users) == 0 {
		logger.Warn().Msg("seed: users file is empty, skipping dev user seeding")
		return
	}

	seedWithRetry(ctx, api, users, logger)
}

// findUsersFile searches for import/users.json relative to the executable
// directory first, then falls back to the current working directory.
func findUsersFile() string {
	if exe, err := os.Executable(); err == nil {
		p := filepath.Join(filepath.Dir(exe), usersFileName)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat(usersFileName); err == nil {
		return usersFileName
	}

	return ""
}

// loadUsersFile reads and parses the users JSON file. A missing role
// defaults to user.
func loadUsersFile(path string) ([]client.SignupRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var f usersFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}

	for i := range f.Users {
		if f.Users[i].Role == "" {
			f.Users[i].Role = "user"
		}
	}
	return f.Users, nil
}

// seedWithRetry attempts to seed users with retries.
func seedWithRetry(ctx context.Context, api Signupper, users []client.SignupRequest, logger *common.Logger) bool {
	var err error
	for attempt := 1; attempt <= seedRetryAttempts; attempt++ {
		err = seedAll(ctx, api, users, logger)
		if err == nil {
			logger.Info().Int("users", len(users)).Msg("seed: dev users seeded successfully")
			return true
		}
		logger.Warn().
			Int("attempt", attempt).
			Int("max_attempts", seedRetryAttempts).
			Str("error", err.Error()).
			Msg("seed: failed to seed users, retrying")
		if attempt < seedRetryAttempts {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(seedRetryDelay):
			}
		}
	}

	logger.Warn().
		Int("attempts", seedRetryAttempts).
		Str("error", err.Error()).
		Msg("seed: failed to seed dev users after retries, continuing without seeding")
	return false
}

// seedAll signs up each user, returning on first error. An account that
// already exists (409) counts as seeded.
func seedAll(ctx context.Context, api Signupper, users []client.SignupRequest, logger *common.Logger) error {
	for _, u := range users {
		if _, err := api.Signup(ctx, u); err != nil {
			var apiErr *client.APIError
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
				logger.Debug().Str("email", u.Email).Msg("seed: user already exists")
				continue
			}
			return fmt.Errorf("signup %s: %w", u.Email, err)
		}
		logger.Debug().Str("email", u.Email).Msg("seed: registered user")
	}
	return nil
}
