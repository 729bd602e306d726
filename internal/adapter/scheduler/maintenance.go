package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"litedb/internal/platform/sqlite"
	"litedb/pkg/retry"
)

// Store - операции базы, которые выполняют задачи обслуживания.
type Store interface {
	Vacuum(ctx context.Context) error
	Optimize(ctx context.Context) error
	Backup(ctx context.Context, dst string) error
}

// MaintenanceConfig описывает задачи обслуживания. Пустое расписание отключает задачу.
type MaintenanceConfig struct {
	// VacuumSchedule - расписание VACUUM + PRAGMA optimize
	VacuumSchedule string
	// BackupSchedule - расписание резервных копий
	BackupSchedule string
	// BackupDir - каталог резервных копий
	BackupDir string
	// KeepBackups - сколько последних копий хранить (0 - все)
	KeepBackups int
	// Timeout - ограничение времени одной задачи
	Timeout time.Duration
	// Retry - повторы при занятой базе
	Retry retry.Config
	// Now - источник времени для имён копий
	Now func() time.Time
}

const backupPrefix = "litedb-"
const backupSuffix = ".db"

// RegisterMaintenance регистрирует задачи обслуживания store в планировщике.
func RegisterMaintenance(s *Scheduler, store Store, cfg MaintenanceConfig) ([]JobID, error) {
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	var ids []JobID

	if cfg.VacuumSchedule != "" {
		id, err := s.AddJob(cfg.VacuumSchedule, VacuumJob(store, cfg.Retry),
			JobOptions{Name: "vacuum", Timeout: cfg.Timeout})
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if cfg.BackupSchedule != "" {
		if cfg.BackupDir == "" {
			return nil, errors.New("backup schedule requires a backup directory")
		}
		id, err := s.AddJob(cfg.BackupSchedule, BackupJob(store, cfg),
			JobOptions{Name: "backup", Timeout: cfg.Timeout})
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// VacuumJob возвращает задачу VACUUM с последующим PRAGMA optimize.
func VacuumJob(store Store, cfg retry.Config) JobFunc {
	return func(ctx context.Context) error {
		if err := sqlite.RetryBusy(ctx, cfg, store.Vacuum); err != nil {
			return fmt.Errorf("vacuum: %w", err)
		}
		if err := sqlite.RetryBusy(ctx, cfg, store.Optimize); err != nil {
			return fmt.Errorf("optimize: %w", err)
		}
		return nil
	}
}

// BackupJob возвращает задачу резервного копирования в cfg.BackupDir
// с именами вида litedb-20060102T150405Z.db и удалением лишних копий.
func BackupJob(store Store, cfg MaintenanceConfig) JobFunc {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return func(ctx context.Context) error {
		dst := filepath.Join(cfg.BackupDir, BackupName(now()))
		err := sqlite.RetryBusy(ctx, cfg.Retry, func(ctx context.Context) error {
			return store.Backup(ctx, dst)
		})
		if err != nil {
			return fmt.Errorf("backup to %s: %w", dst, err)
		}
		if cfg.KeepBackups > 0 {
			return PruneBackups(cfg.BackupDir, cfg.KeepBackups)
		}
		return nil
	}
}

// BackupName возвращает имя файла копии для момента t.
func BackupName(t time.Time) string {
	return backupPrefix + t.UTC().Format("20060102T150405Z") + backupSuffix
}

// PruneBackups удаляет самые старые копии в dir, оставляя keep последних.
// Файлы с чужими именами не трогаются.
func PruneBackups(dir string, keep int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}

	var backups []string
	for _, e := range entries {
		name := e.Name()
		if e.Type().IsRegular() && strings.HasPrefix(name, backupPrefix) && strings.HasSuffix(name, backupSuffix) {
			backups = append(backups, name)
		}
	}
	if len(backups) <= keep {
		return nil
	}

	// метка времени в имени сортируется лексикографически
	slices.Sort(backups)
	var errs []error
	for _, name := range backups[:len(backups)-keep] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
