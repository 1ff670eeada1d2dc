package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/jackc/pgx/v5"
	"github.com/quyen-luc/prices-app/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockOpener(t *testing.T, setup func(sqlmock.Sqlmock)) (Opener, *int) {
	t.Helper()
	calls := 0
	return func(ctx context.Context) (*sql.DB, error) {
		calls++
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		mock.MatchExpectationsInOrder(false)
		setup(mock)
		mock.ExpectClose()
		return db, nil
	}, &calls
}

func TestDSN(t *testing.T) {
	dsn := DSN(Config{
		Host:           "db.example.com",
		Port:           5432,
		User:           "sync",
		Password:       "never-in-dsn",
		Database:       "prices",
		SSLMode:        "require",
		ConnectTimeout: 5 * time.Second,
	})
	assert.Equal(t, "postgres://sync@db.example.com:5432/prices?connect_timeout=5&sslmode=require", dsn)
	assert.NotContains(t, dsn, "never-in-dsn")
}

func TestPing_BeforeConnect(t *testing.T) {
	d := New(func(ctx context.Context) (*sql.DB, error) { return nil, errors.New("unused") })
	require.ErrorIs(t, d.Ping(context.Background()), common.ErrRemoteNotConnected)
}

func TestReconnect_SwapsPoolAndPings(t *testing.T) {
	opener, calls := mockOpener(t, func(m sqlmock.Sqlmock) {
		m.ExpectPing()
		m.ExpectQuery(`SELECT 1`).WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	})
	d := New(opener)
	ctx := context.Background()

	require.NoError(t, d.Reconnect(ctx))
	require.NoError(t, d.Ping(ctx))
	first := d.DB()

	require.NoError(t, d.Reconnect(ctx))
	assert.NotSame(t, first, d.DB(), "pool replaced")
	assert.Equal(t, 2, *calls)

	require.NoError(t, d.Close())
	assert.Nil(t, d.DB())
	require.NoError(t, d.Close(), "closing twice is fine")
}

func TestReconnect_FailedPingKeepsOldPool(t *testing.T) {
	fail := false
	d := New(func(ctx context.Context) (*sql.DB, error) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		if fail {
			mock.ExpectPing().WillReturnError(errors.New("connection refused"))
		} else {
			mock.ExpectPing()
		}
		return db, nil
	})
	ctx := context.Background()

	require.NoError(t, d.Reconnect(ctx))
	good := d.DB()

	fail = true
	err := d.Reconnect(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Same(t, good, d.DB())
}

func TestPing_QueryError(t *testing.T) {
	opener, _ := mockOpener(t, func(m sqlmock.Sqlmock) {
		m.ExpectPing()
		m.ExpectQuery(`SELECT 1`).WillReturnError(errors.New("server closed the connection"))
	})
	d := New(opener)
	require.NoError(t, d.Reconnect(context.Background()))

	err := d.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server closed the connection")
}

func TestNewOpener_UnknownAuthMode(t *testing.T) {
	_, err := NewOpener(context.Background(), Config{Host: "h", Port: 5432, AuthMode: "kerberos"})
	require.Error(t, err)
}

func TestIAMBeforeConnect_SetsTokenAsPassword(t *testing.T) {
	origLoad, origBuild := loadDefaultAWSConfig, buildAuthToken
	defer func() { loadDefaultAWSConfig, buildAuthToken = origLoad, origBuild }()

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*config.LoadOptions) error) (aws.Config, error) {
		var lo config.LoadOptions
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		assert.Equal(t, "eu-west-1", lo.Region)
		assert.NotNil(t, lo.Credentials, "static credentials configured")
		return aws.Config{Region: lo.Region, Credentials: lo.Credentials}, nil
	}
	var gotEndpoint, gotUser string
	buildAuthToken = func(ctx context.Context, endpoint, region, user string, creds aws.CredentialsProvider) (string, error) {
		gotEndpoint, gotUser = endpoint, user
		return "signed-token", nil
	}

	hook, err := iamBeforeConnect(context.Background(), Config{
		Host: "prices.abc.eu-west-1.rds.amazonaws.com", Port: 5432, User: "sync",
		Region: "eu-west-1", AWSAccessKeyID: "AKIA", AWSSecretAccessKey: "secret",
	})
	require.NoError(t, err)

	cc := &pgx.ConnConfig{}
	require.NoError(t, hook(context.Background(), cc))
	assert.Equal(t, "signed-token", cc.Password)
	assert.Equal(t, "prices.abc.eu-west-1.rds.amazonaws.com:5432", gotEndpoint)
	assert.Equal(t, "sync", gotUser)
}

func TestIAMBeforeConnect_Errors(t *testing.T) {
	origLoad, origBuild := loadDefaultAWSConfig, buildAuthToken
	defer func() { loadDefaultAWSConfig, buildAuthToken = origLoad, origBuild }()

	_, err := iamBeforeConnect(context.Background(), Config{Host: "h", Port: 5432})
	require.Error(t, err, "region required")

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*config.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no credentials")
	}
	_, err = iamBeforeConnect(context.Background(), Config{Host: "h", Port: 5432, Region: "us-east-1"})
	require.Error(t, err)

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*config.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, nil
	}
	buildAuthToken = func(ctx context.Context, endpoint, region, user string, creds aws.CredentialsProvider) (string, error) {
		return "", errors.New("signing failed")
	}
	hook, err := iamBeforeConnect(context.Background(), Config{Host: "h", Port: 5432, Region: "us-east-1"})
	require.NoError(t, err)
	require.Error(t, hook(context.Background(), &pgx.ConnConfig{}))
}
