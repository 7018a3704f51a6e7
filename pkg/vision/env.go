package vision

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvAPIKey is the environment variable holding the Anthropic API key.
const EnvAPIKey = "ANTHROPIC_API_KEY"

// LoadAPIKey resolves the API key from the environment, falling back to a
// .env file in dir (KEY=value lines, # comments skipped).
func LoadAPIKey(dir string) (string, error) {
	if key := os.Getenv(EnvAPIKey); key != "" {
		return key, nil
	}

	data, err := os.ReadFile(filepath.Join(dir, ".env"))
	if err != nil {
		return "", fmt.Errorf("%s not set in environment and no .env file in %s", EnvAPIKey, dir)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") || !strings.Contains(line, "=") {
			continue
		}
		k, v, _ := strings.Cut(line, "=")
		if strings.TrimSpace(k) == EnvAPIKey {
			if key := strings.TrimSpace(v); key != "" {
				return key, nil
			}
		}
	}
	return "", fmt.Errorf("%s not found in environment or .env file", EnvAPIKey)
}
