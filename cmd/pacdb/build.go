package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/epithet-ssh/pacdb/pkg/config"
	"github.com/epithet-ssh/pacdb/pkg/fetch"
	"github.com/epithet-ssh/pacdb/pkg/mirror"
	"github.com/epithet-ssh/pacdb/pkg/repo"
)

// archiverShutdownTimeout bounds flushing pending snapshots on exit.
const archiverShutdownTimeout = 30 * time.Second

// app is the set of configured repositories and what they share.
type app struct {
	repos    *repo.Set
	archiver *repo.S3Archiver
}

func (a *app) close(logger *slog.Logger) {
	if a.archiver == nil {
		return
	}
	if err := a.archiver.Shutdown(archiverShutdownTimeout); err != nil {
		logger.Warn("snapshot archiver did not drain", "error", err)
	}
}

// mergeTLS lets command line TLS flags override the config file.
func mergeTLS(cfg config.TLS, flags fetch.TLSConfig) fetch.TLSConfig {
	out := cfg.FetchTLS()
	if flags.Insecure {
		out.Insecure = true
	}
	if flags.CACertFile != "" {
		out.CACertFile = flags.CACertFile
	}
	return out
}

// buildApp creates a repository per configured repo without loading them.
func buildApp(ctx context.Context, cfg *config.Config, tlsFlags fetch.TLSConfig, logger *slog.Logger) (*app, error) {
	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg == nil {
			c, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
			}
			awsCfg = &c
		}
		return *awsCfg, nil
	}

	timeout, err := cfg.TLS.TimeoutDuration()
	if err != nil {
		return nil, err
	}
	tlsCfg := mergeTLS(cfg.TLS, tlsFlags)

	a := &app{}
	var archiver repo.Archiver
	if cfg.Archive != nil {
		ac, err := loadAWS()
		if err != nil {
			return nil, err
		}
		compression, err := cfg.Archive.CompressionKind()
		if err != nil {
			return nil, err
		}
		a.archiver = repo.NewS3Archiver(repo.S3ArchiverConfig{
			Client:      s3.NewFromConfig(ac),
			Bucket:      cfg.Archive.Bucket,
			KeyPrefix:   cfg.Archive.Prefix,
			Compression: compression,
			Logger:      logger,
		})
		archiver = a.archiver
		logger.Info("snapshot archival enabled", "bucket", cfg.Archive.Bucket, "prefix", cfg.Archive.Prefix)
	}

	observer := repo.NewSlogObserver(logger)

	var repos []*repo.Repository
	for _, rc := range cfg.Repos {
		mirrors, err := rc.MirrorList()
		if err != nil {
			return nil, fmt.Errorf("repository %s: %w", rc.Name, err)
		}
		cooldown, err := rc.CooldownDuration()
		if err != nil {
			return nil, fmt.Errorf("repository %s: %w", rc.Name, err)
		}

		opts := fetch.Options{TLS: tlsCfg, Timeout: timeout}
		if rc.CredentialsSecret != "" {
			ac, err := loadAWS()
			if err != nil {
				return nil, err
			}
			creds, err := fetch.LoadCredentials(ctx, secretsmanager.NewFromConfig(ac), rc.CredentialsSecret)
			if err != nil {
				return nil, fmt.Errorf("repository %s: %w", rc.Name, err)
			}
			opts.Credentials = creds
		}

		repoLogger := logger.With("repo", rc.Name)
		src, err := fetch.NewMirrored(ctx, mirrors, opts,
			mirror.WithCooldown(cooldown),
			mirror.WithLogger(repoLogger),
		)
		if err != nil {
			return nil, fmt.Errorf("repository %s: %w", rc.Name, err)
		}

		r, err := repo.New(repo.Options{
			Name:          rc.Name,
			Source:        src,
			BaseURL:       rc.BaseURL,
			FilesMetadata: rc.Files,
			Observer:      observer,
			Archiver:      archiver,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		repos = append(repos, r)
	}

	set, err := repo.NewSet(repos...)
	if err != nil {
		return nil, err
	}
	a.repos = set
	return a, nil
}
