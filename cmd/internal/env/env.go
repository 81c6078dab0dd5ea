// Package env holds the one-liner the demo commands share
package env

import "os"

// Get reads an environment variable with a default
func Get(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
