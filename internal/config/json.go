package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/quyen-luc/prices-app/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Zero values
// mean "not set" and leave the current Config value untouched.
type JsonConfig struct {
	LocalDBPath  string `json:"local_db_path"`
	IdentityFile string `json:"identity_file"`
	HealthAddr   string `json:"health_addr"`

	Remote struct {
		Host           string         `json:"host"`
		Port           int            `json:"port"`
		User           string         `json:"user"`
		Database       string         `json:"database"`
		SSLMode        string         `json:"sslmode"`
		Password       string         `json:"password"`
		AuthMode       string         `json:"auth_mode"`
		Region         string         `json:"region"`
		AWSAccessKeyID string         `json:"aws_access_key_id"`
		AWSSecretKey   string         `json:"aws_secret_access_key"`
		ConnectTimeout timex.Duration `json:"connect_timeout"`
		MaxOpenConns   int            `json:"max_open_conns"`
	} `json:"remote"`

	Sync struct {
		BatchSize        int            `json:"batch_size"`
		TombstoneChunk   int            `json:"tombstone_chunk"`
		SafetyWindow     timex.Duration `json:"safety_window"`
		AutoSyncInterval timex.Duration `json:"auto_sync_interval"`
	} `json:"sync"`

	Monitor struct {
		ProbeHost          string         `json:"probe_host"`
		ProbeInterval      timex.Duration `json:"probe_interval"`
		PingTimeout        timex.Duration `json:"ping_timeout"`
		ReconnectAttempts  int            `json:"reconnect_attempts"`
		ReconnectBaseDelay timex.Duration `json:"reconnect_base_delay"`
	} `json:"monitor"`

	Log struct {
		Level      string `json:"level"`
		File       string `json:"file"`
		MaxSizeMB  int    `json:"max_size_mb"`
		MaxBackups int    `json:"max_backups"`
		MaxAgeDays int    `json:"max_age_days"`
	} `json:"log"`
}

// loadJSON overlays cfg with the values set in the JSON file at path.
func loadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	jc.apply(cfg)
	return nil
}

func (jc *JsonConfig) apply(cfg *Config) {
	setString(&cfg.LocalDBPath, jc.LocalDBPath)
	setString(&cfg.IdentityFile, jc.IdentityFile)
	setString(&cfg.HealthAddr, jc.HealthAddr)

	r := &cfg.Remote
	setString(&r.Host, jc.Remote.Host)
	setInt(&r.Port, jc.Remote.Port)
	setString(&r.User, jc.Remote.User)
	setString(&r.Database, jc.Remote.Database)
	setString(&r.SSLMode, jc.Remote.SSLMode)
	setString(&r.Password, jc.Remote.Password)
	setString(&r.AuthMode, jc.Remote.AuthMode)
	setString(&r.Region, jc.Remote.Region)
	setString(&r.AWSAccessKeyID, jc.Remote.AWSAccessKeyID)
	setString(&r.AWSSecretAccessKey, jc.Remote.AWSSecretKey)
	setDuration(&r.ConnectTimeout, jc.Remote.ConnectTimeout)
	setInt(&r.MaxOpenConns, jc.Remote.MaxOpenConns)

	s := &cfg.Sync
	setInt(&s.BatchSize, jc.Sync.BatchSize)
	setInt(&s.TombstoneChunk, jc.Sync.TombstoneChunk)
	setDuration(&s.SafetyWindow, jc.Sync.SafetyWindow)
	setDuration(&s.AutoSyncInterval, jc.Sync.AutoSyncInterval)

	m := &cfg.Monitor
	setString(&m.ProbeHost, jc.Monitor.ProbeHost)
	setDuration(&m.ProbeInterval, jc.Monitor.ProbeInterval)
	setDuration(&m.PingTimeout, jc.Monitor.PingTimeout)
	setInt(&m.ReconnectAttempts, jc.Monitor.ReconnectAttempts)
	setDuration(&m.ReconnectBaseDelay, jc.Monitor.ReconnectBaseDelay)

	l := &cfg.Log
	setString(&l.Level, jc.Log.Level)
	setString(&l.File, jc.Log.File)
	setInt(&l.MaxSizeMB, jc.Log.MaxSizeMB)
	setInt(&l.MaxBackups, jc.Log.MaxBackups)
	setInt(&l.MaxAgeDays, jc.Log.MaxAgeDays)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
