package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/NikKowPHP/meetup/internal/config"
	"github.com/NikKowPHP/meetup/internal/db"
	"github.com/NikKowPHP/meetup/internal/logger"
	gormrepository "github.com/NikKowPHP/meetup/internal/repository/gorm"
)

var (
	cfgPath string
	envOnly bool
)

var rootCmd = &cobra.Command{
	Use:   "meetupctl",
	Short: "Operate the local events ingestor",
	Long: `meetupctl runs single pipeline passes and manages source switches
against the same database the ingestor service uses.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath(), "Path to the config file")
	rootCmd.PersistentFlags().BoolVar(&envOnly, "env-only", false, "Read configuration from MEETUP_* variables only")
	rootCmd.AddCommand(runCmd, sourcesCmd, switchCmd)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func defaultConfigPath() string {
	if p := strings.TrimSpace(os.Getenv("MEETUP_CONFIG")); p != "" {
		return p
	}
	return "config/config.yaml"
}

type app struct {
	cfg    config.Config
	logger *zap.Logger
	db     *db.DB
	store  *gormrepository.Store
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Log, "meetupctl")
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	conn, err := db.Open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(conn); err != nil {
		_ = db.Close(conn)
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &app{cfg: cfg, logger: log, db: conn, store: gormrepository.New(conn.Gorm)}, nil
}

func (a *app) Close() {
	if a == nil {
		return
	}
	_ = db.Close(a.db)
	_ = a.logger.Sync()
}
