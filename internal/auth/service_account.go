package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dl-alexandre/mrisync/internal/utils"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// DriveScope grants full access to files the service account can see
const DriveScope = drive.DriveScope

// ServiceAccountKey represents the JSON structure of a service account key file
type ServiceAccountKey struct {
	Type                    string `json:"type"`
	ProjectID               string `json:"project_id"`
	PrivateKeyID            string `json:"private_key_id"`
	PrivateKey              string `json:"private_key"`
	ClientEmail             string `json:"client_email"`
	ClientID                string `json:"client_id"`
	AuthURI                 string `json:"auth_uri"`
	TokenURI                string `json:"token_uri"`
	AuthProviderX509CertURL string `json:"auth_provider_x509_cert_url"`
	ClientX509CertURL       string `json:"client_x509_cert_url"`
}

// Credentials is a loaded service account ready to authorize requests
type Credentials struct {
	ClientEmail      string
	ImpersonatedUser string
	Scopes           []string
	TokenSource      oauth2.TokenSource
}

func credentialError(message string, err error) error {
	b := utils.NewCLIError(utils.ErrCodeAuthClientInvalid, message)
	if err != nil {
		b.WithContext("cause", err.Error())
	}
	return utils.WrapAppError(b.Build(), err)
}

// ReadServiceAccountKey reads and checks a service account JSON key
func ReadServiceAccountKey(keyFilePath string) (*ServiceAccountKey, []byte, error) {
	if keyFilePath == "" {
		return nil, nil, credentialError("service account key file required", nil)
	}
	keyData, err := os.ReadFile(keyFilePath)
	if err != nil {
		return nil, nil, credentialError(fmt.Sprintf("service account key file not readable: %s", keyFilePath), err)
	}

	var saKey ServiceAccountKey
	if err := json.Unmarshal(keyData, &saKey); err != nil {
		return nil, nil, credentialError("failed to parse service account key", err)
	}
	if saKey.Type != "service_account" {
		return nil, nil, credentialError(fmt.Sprintf("invalid service account key type: %q", saKey.Type), nil)
	}
	if saKey.ClientEmail == "" {
		return nil, nil, credentialError("missing client_email in service account key", nil)
	}
	if saKey.PrivateKey == "" {
		return nil, nil, credentialError("missing private_key in service account key", nil)
	}
	return &saKey, keyData, nil
}

// LoadServiceAccount builds JWT credentials from keyFilePath. When
// impersonateUser is set, tokens are issued for that user through
// domain-wide delegation.
func LoadServiceAccount(ctx context.Context, keyFilePath string, scopes []string, impersonateUser string) (*Credentials, error) {
	if len(scopes) == 0 {
		return nil, credentialError("at least one scope required", nil)
	}
	if impersonateUser != "" && !strings.Contains(impersonateUser, "@") {
		return nil, credentialError("impersonate user must be an email address", nil)
	}

	saKey, keyData, err := ReadServiceAccountKey(keyFilePath)
	if err != nil {
		return nil, err
	}

	creds, err := google.CredentialsFromJSONWithParams(ctx, keyData, google.CredentialsParams{
		Scopes:  scopes,
		Subject: impersonateUser,
	})
	if err != nil {
		return nil, credentialError("failed to load service account credentials", err)
	}

	return &Credentials{
		ClientEmail:      saKey.ClientEmail,
		ImpersonatedUser: impersonateUser,
		Scopes:           scopes,
		TokenSource:      creds.TokenSource,
	}, nil
}

// Verify fetches a token so bad keys fail before any sync work starts
func (c *Credentials) Verify() error {
	if _, err := c.TokenSource.Token(); err != nil {
		return credentialError(fmt.Sprintf("cannot obtain a token for %s", c.ClientEmail), err)
	}
	return nil
}

// HTTPClient returns a client authorizing every request with c. base is
// the underlying transport (http.DefaultTransport when nil).
func (c *Credentials) HTTPClient(base http.RoundTripper, timeout time.Duration) *http.Client {
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Transport: &oauth2.Transport{Source: c.TokenSource, Base: base},
		Timeout:   timeout,
	}
}

// GetDriveService creates a Drive API service authorized by creds
func GetDriveService(ctx context.Context, creds *Credentials, base http.RoundTripper, timeout time.Duration) (*drive.Service, error) {
	return drive.NewService(ctx, option.WithHTTPClient(creds.HTTPClient(base, timeout)))
}
