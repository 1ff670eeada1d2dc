package database

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/rds/auth"
	"github.com/jackc/pgx/v5"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	buildAuthToken = func(ctx context.Context, endpoint, region, user string, creds aws.CredentialsProvider) (string, error) {
		return auth.BuildAuthToken(ctx, endpoint, region, user, creds)
	}
)

// iamBeforeConnect returns a hook that mints a fresh RDS IAM token for every
// physical connection; tokens expire after 15 minutes.
func iamBeforeConnect(ctx context.Context, cfg Config) (func(context.Context, *pgx.ConnConfig) error, error) {
	if cfg.Region == "" {
		return nil, errors.New("iam auth requires an AWS region")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AWSAccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AWSAccessKeyID,
			cfg.AWSSecretAccessKey,
			"",
		)))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	return func(ctx context.Context, cc *pgx.ConnConfig) error {
		token, err := buildAuthToken(ctx, endpoint, cfg.Region, cfg.User, awsCfg.Credentials)
		if err != nil {
			return fmt.Errorf("build rds auth token: %w", err)
		}
		cc.Password = token
		return nil
	}, nil
}
