package credentials

import "os"

const (
	// EnvUsername holds the remote username
	EnvUsername = "TASKSYNC_REMOTE_USERNAME"
	// EnvPassword holds the remote password
	EnvPassword = "TASKSYNC_REMOTE_PASSWORD"
)

// GetUsername retrieves the username from the environment
func GetUsername() string {
	return os.Getenv(EnvUsername)
}

// GetPassword retrieves the password from the environment
func GetPassword() string {
	return os.Getenv(EnvPassword)
}
