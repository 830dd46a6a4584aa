package auth

import (
	"crypto/subtle"
	"errors"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Method names how a request was authenticated.
type Method string

const (
	MethodNone   Method = "none"
	MethodBasic  Method = "basic"
	MethodBearer Method = "bearer"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMissingCredentials = errors.New("missing credentials")
)

// Config protects the status API. Basic auth checks Username against the
// bcrypt PasswordHash; a bearer token must equal one of Tokens.
type Config struct {
	Enabled      bool     `toml:"enabled" mapstructure:"enabled"`
	Username     string   `toml:"username" mapstructure:"username"`
	PasswordHash string   `toml:"password_hash" mapstructure:"password_hash"`
	Tokens       []string `toml:"tokens" mapstructure:"tokens"`
}

// Validate reports configurations that could never authenticate anyone.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	hasBasic := c.Username != "" && c.PasswordHash != ""
	if !hasBasic && len(c.Tokens) == 0 {
		return errors.New("auth enabled but neither username/password_hash nor tokens are set")
	}
	if c.PasswordHash != "" {
		if _, err := bcrypt.Cost([]byte(c.PasswordHash)); err != nil {
			return errors.New("password_hash is not a bcrypt hash")
		}
	}
	for _, t := range c.Tokens {
		if strings.TrimSpace(t) == "" {
			return errors.New("empty token")
		}
	}
	return nil
}

// Result describes an authenticated caller.
type Result struct {
	Method  Method
	Subject string
}

// Authenticator checks credentials against a Config.
type Authenticator struct {
	cfg Config
}

func New(cfg Config) (*Authenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Authenticator{cfg: cfg}, nil
}

func (a *Authenticator) Enabled() bool { return a != nil && a.cfg.Enabled }

// Basic checks a username and password pair.
func (a *Authenticator) Basic(username, password string) (*Result, error) {
	if a.cfg.Username == "" || a.cfg.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.cfg.Username)) == 1
	// always run bcrypt so a wrong user costs the same as a wrong password
	pwErr := bcrypt.CompareHashAndPassword([]byte(a.cfg.PasswordHash), []byte(password))
	if !userOK || pwErr != nil {
		return nil, ErrInvalidCredentials
	}
	return &Result{Method: MethodBasic, Subject: username}, nil
}

// Bearer checks a static API token.
func (a *Authenticator) Bearer(token string) (*Result, error) {
	for i, t := range a.cfg.Tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(t)) == 1 {
			return &Result{Method: MethodBearer, Subject: "token-" + strconv.Itoa(i)}, nil
		}
	}
	return nil, ErrInvalidCredentials
}

// HashPassword returns the bcrypt hash to put in password_hash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("empty password")
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(b), err
}

