package auth

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/systmms/vaultlease/pkg/api"
)

// Token wraps an existing client token. No server round-trip happens at
// login; the authenticator enriches the auth block via lookup-self.
type Token struct {
	Value string
}

func (t Token) Name() string { return "token" }

func (t Token) Login(ctx context.Context, client api.Sender) (*api.Secret, error) {
	token := t.Value
	if token == "" {
		token = os.Getenv("VAULT_TOKEN")
	}
	if token == "" {
		return nil, fmt.Errorf("no token provided and VAULT_TOKEN is unset")
	}
	return &api.Secret{Auth: &api.AuthInfo{ClientToken: token}}, nil
}

// Userpass logs in with a username and password.
type Userpass struct {
	Username string
	Password string
	Mount    string // defaults to "userpass"
}

func (u Userpass) Name() string { return "userpass" }

func (u Userpass) Login(ctx context.Context, client api.Sender) (*api.Secret, error) {
	if u.Username == "" {
		return nil, fmt.Errorf("username is required")
	}
	password := u.Password
	if password == "" {
		password = os.Getenv("VAULT_USERPASS_PASSWORD")
	}
	if password == "" {
		return nil, fmt.Errorf("no password provided and VAULT_USERPASS_PASSWORD is unset")
	}

	path := fmt.Sprintf("auth/%s/login/%s", mountOrDefault(u.Mount, "userpass"), u.Username)
	return client.Send(ctx, http.MethodPost, path, map[string]interface{}{
		"password": password,
	})
}

// LDAP logs in against an LDAP auth mount.
type LDAP struct {
	Username string
	Password string
	Mount    string // defaults to "ldap"
}

func (l LDAP) Name() string { return "ldap" }

func (l LDAP) Login(ctx context.Context, client api.Sender) (*api.Secret, error) {
	if l.Username == "" {
		return nil, fmt.Errorf("username is required")
	}
	password := l.Password
	if password == "" {
		password = os.Getenv("VAULT_LDAP_PASSWORD")
	}
	if password == "" {
		return nil, fmt.Errorf("no password provided and VAULT_LDAP_PASSWORD is unset")
	}

	path := fmt.Sprintf("auth/%s/login/%s", mountOrDefault(l.Mount, "ldap"), l.Username)
	return client.Send(ctx, http.MethodPost, path, map[string]interface{}{
		"password": password,
	})
}

// AppRole logs in with a role id and secret id pair.
type AppRole struct {
	RoleID   string
	SecretID string
	Mount    string // defaults to "approle"
}

func (a AppRole) Name() string { return "approle" }

func (a AppRole) Login(ctx context.Context, client api.Sender) (*api.Secret, error) {
	roleID := a.RoleID
	if roleID == "" {
		roleID = os.Getenv("VAULT_APPROLE_ROLE_ID")
	}
	secretID := a.SecretID
	if secretID == "" {
		secretID = os.Getenv("VAULT_APPROLE_SECRET_ID")
	}
	if roleID == "" {
		return nil, fmt.Errorf("role id is required")
	}

	body := map[string]interface{}{"role_id": roleID}
	if secretID != "" {
		body["secret_id"] = secretID
	}

	path := fmt.Sprintf("auth/%s/login", mountOrDefault(a.Mount, "approle"))
	return client.Send(ctx, http.MethodPost, path, body)
}

const defaultServiceAccountTokenPath = "/var/run/secrets/kubernetes.io/serviceaccount/token"

// Kubernetes logs in with the pod's projected service account token.
type Kubernetes struct {
	Role      string
	TokenPath string // defaults to the in-cluster projected token path
	Mount     string // defaults to "kubernetes"
}

func (k Kubernetes) Name() string { return "kubernetes" }

func (k Kubernetes) Login(ctx context.Context, client api.Sender) (*api.Secret, error) {
	if k.Role == "" {
		return nil, fmt.Errorf("role is required")
	}

	tokenPath := k.TokenPath
	if tokenPath == "" {
		tokenPath = os.Getenv("VAULT_K8S_TOKEN_PATH")
	}
	if tokenPath == "" {
		tokenPath = defaultServiceAccountTokenPath
	}

	jwt, err := os.ReadFile(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("read service account token: %w", err)
	}

	path := fmt.Sprintf("auth/%s/login", mountOrDefault(k.Mount, "kubernetes"))
	return client.Send(ctx, http.MethodPost, path, map[string]interface{}{
		"role": k.Role,
		"jwt":  string(jwt),
	})
}

func mountOrDefault(mount, fallback string) string {
	if mount == "" {
		return fallback
	}
	return mount
}
