package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/systmms/vaultlease/pkg/api"
)

const (
	stsRequestBody   = "Action=GetCallerIdentity&Version=2011-06-15"
	defaultAWSRegion = "us-east-1"
)

// AWSIAM logs in by presenting a SigV4-signed sts:GetCallerIdentity request
// that the server replays against AWS to verify the caller's identity.
type AWSIAM struct {
	Role    string
	Region  string
	Profile string

	// ServerID is sent as the X-Vault-AWS-IAM-Server-ID header when the
	// auth mount requires one.
	ServerID string

	// SkipPreflight disables the local sts:GetCallerIdentity check that
	// catches missing or expired AWS credentials before login.
	SkipPreflight bool

	Mount string // defaults to "aws"
}

func (a AWSIAM) Name() string { return "aws-iam" }

func (a AWSIAM) Login(ctx context.Context, client api.Sender) (*api.Secret, error) {
	if a.Role == "" {
		return nil, fmt.Errorf("role is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if a.Region != "" {
		opts = append(opts, awsconfig.WithRegion(a.Region))
	}
	if a.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(a.Profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	region := cfg.Region
	if region == "" {
		region = defaultAWSRegion
	}

	if !a.SkipPreflight {
		if _, err := sts.NewFromConfig(cfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{}); err != nil {
			return nil, fmt.Errorf("AWS credential check failed: %w", err)
		}
	}

	method, url, headers, err := a.signedIdentityRequest(ctx, cfg, region)
	if err != nil {
		return nil, err
	}

	headerJSON, err := json.Marshal(headers)
	if err != nil {
		return nil, fmt.Errorf("encode signed headers: %w", err)
	}

	path := fmt.Sprintf("auth/%s/login", mountOrDefault(a.Mount, "aws"))
	return client.Send(ctx, http.MethodPost, path, map[string]interface{}{
		"role":                    a.Role,
		"iam_http_request_method": method,
		"iam_request_url":         base64.StdEncoding.EncodeToString([]byte(url)),
		"iam_request_body":        base64.StdEncoding.EncodeToString([]byte(stsRequestBody)),
		"iam_request_headers":     base64.StdEncoding.EncodeToString(headerJSON),
	})
}

// signedIdentityRequest builds and SigV4-signs the GetCallerIdentity request
// without sending it; the server does the actual call.
func (a AWSIAM) signedIdentityRequest(ctx context.Context, cfg aws.Config, region string) (method, url string, headers http.Header, err error) {
	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return "", "", nil, fmt.Errorf("retrieve AWS credentials: %w", err)
	}

	url = fmt.Sprintf("https://sts.%s.amazonaws.com/", region)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(stsRequestBody))
	if err != nil {
		return "", "", nil, fmt.Errorf("build identity request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	if a.ServerID != "" {
		req.Header.Set("X-Vault-AWS-IAM-Server-ID", a.ServerID)
	}

	sum := sha256.Sum256([]byte(stsRequestBody))
	signer := v4.NewSigner()
	if err := signer.SignHTTP(ctx, creds, req, hex.EncodeToString(sum[:]), "sts", region, time.Now()); err != nil {
		return "", "", nil, fmt.Errorf("sign identity request: %w", err)
	}

	return http.MethodPost, url, req.Header, nil
}
