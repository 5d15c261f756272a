package credentials

import (
	"fmt"
	"net/url"

	"tasksync/internal/utils"
)

// Source indicates where credentials were found
type Source string

const (
	SourceKeyring Source = "keyring"
	SourceEnv     Source = "env"
	SourceURL     Source = "url"
	SourceNone    Source = "none"
)

// Credentials are the resolved login of the remote database
type Credentials struct {
	Username string
	Password string
	Host     string
	Source   Source
}

// Resolver looks up credentials in priority order: keyring, environment,
// then userinfo in the configured URL
type Resolver struct {
	keyringAvailable func() bool
	keyringGet       func(host, username string) (string, error)
}

// NewResolver creates a resolver backed by the OS keyring
func NewResolver() *Resolver {
	return &Resolver{
		keyringAvailable: IsAvailable,
		keyringGet:       Get,
	}
}

// Resolve finds credentials for the remote at rawURL. username is the
// configured remote username and may be empty.
func (r *Resolver) Resolve(username, rawURL string) (*Credentials, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid remote URL: %w", err)
	}

	creds := &Credentials{Username: username, Host: u.Host, Source: SourceNone}
	if creds.Username == "" {
		creds.Username = GetUsername()
	}
	if creds.Username == "" && u.User != nil {
		creds.Username = u.User.Username()
	}

	if creds.Username != "" && creds.Host != "" && r.keyringAvailable() {
		if password, err := r.keyringGet(creds.Host, creds.Username); err == nil {
			creds.Password = password
			creds.Source = SourceKeyring
			return creds, nil
		}
	}

	if password := GetPassword(); password != "" && creds.Username != "" {
		creds.Password = password
		creds.Source = SourceEnv
		return creds, nil
	}

	if u.User != nil {
		if password, ok := u.User.Password(); ok && password != "" {
			creds.Username = u.User.Username()
			creds.Password = password
			creds.Source = SourceURL
			return creds, nil
		}
	}

	if creds.Username == "" {
		// Anonymous access, e.g. a CouchDB in admin party mode
		return creds, nil
	}
	return nil, utils.ErrCredentialsNotFound(creds.Username)
}

// DSN returns rawURL with the credentials set as userinfo
func (c *Credentials) DSN(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid remote URL: %w", err)
	}
	if c.Username == "" {
		u.User = nil
	} else {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	return u.String(), nil
}
