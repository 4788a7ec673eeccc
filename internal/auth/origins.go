package auth

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/wolftown-io/canis-server/internal/logging"
)

// GetAllowedOriginsFromEnv parses a comma-separated CORS origin list from
// the named environment variable, falling back to defaultEnvs for local
// development when it's unset.
func GetAllowedOriginsFromEnv(envVarName string, defaultEnvs []string) []string {
	originsStr := os.Getenv(envVarName)
	if originsStr == "" {
		logging.Warn(context.Background(), fmt.Sprintf("%s environment variable not set. Using default development origins:\n%s", envVarName, defaultEnvs))
		return defaultEnvs
	}
	return strings.Split(originsStr, ",")
}
