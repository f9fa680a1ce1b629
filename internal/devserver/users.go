// Package devserver implements a small development backend speaking the AuthBridge
// wire protocol: login, token refresh, the initial auth check and a few protected
// resources. It is meant for local testing only.
package devserver

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// ErrInvalidCredentials is returned for an unknown user or a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// User is one entry of the users file.
type User struct {
	Name         string `yaml:"user"`
	PasswordHash string `yaml:"password-hash"`
	// Profile is returned to clients as user_data; "user" is always set to Name.
	Profile map[string]any `yaml:"profile,omitempty"`
}

type usersFile struct {
	Users []User `yaml:"users"`
}

// Directory holds the known users. It is safe for concurrent use and can be
// reloaded in place.
type Directory struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewDirectory returns a directory holding users.
func NewDirectory(users ...User) *Directory {
	d := &Directory{}
	d.replace(users)
	return d
}

// LoadDirectory reads a YAML users file.
func LoadDirectory(path string) (*Directory, error) {
	users, err := readUsers(path)
	if err != nil {
		return nil, err
	}
	return NewDirectory(users...), nil
}

// Reload re-reads path. The current users are kept when the file is invalid.
func (d *Directory) Reload(path string) error {
	users, err := readUsers(path)
	if err != nil {
		return err
	}
	d.replace(users)
	return nil
}

func readUsers(path string) ([]User, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("devserver: read users: %w", err)
	}
	var file usersFile
	if err = yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("devserver: parse users %s: %w", path, err)
	}
	for i, u := range file.Users {
		if strings.TrimSpace(u.Name) == "" {
			return nil, fmt.Errorf("devserver: users[%d]: missing user", i)
		}
		if _, err = bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			return nil, fmt.Errorf("devserver: user %s: %w", u.Name, err)
		}
	}
	return file.Users, nil
}

func (d *Directory) replace(users []User) {
	m := make(map[string]User, len(users))
	for _, u := range users {
		m[u.Name] = u
	}
	d.mu.Lock()
	d.users = m
	d.mu.Unlock()
}

// Len reports the number of users.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users)
}

// Authenticate checks password against the stored bcrypt hash.
func (d *Directory) Authenticate(name, password string) (User, error) {
	d.mu.RLock()
	u, ok := d.users[name]
	d.mu.RUnlock()
	if !ok {
		return User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

// Lookup returns the user called name.
func (d *Directory) Lookup(name string) (User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[name]
	return u, ok
}

// UserData is the profile document sent to clients.
func (u User) UserData() map[string]any {
	out := make(map[string]any, len(u.Profile)+1)
	for k, v := range u.Profile {
		out[k] = v
	}
	out["user"] = u.Name
	return out
}

// HashPassword returns a bcrypt hash suitable for the users file.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("devserver: hash password: %w", err)
	}
	return string(hash), nil
}
