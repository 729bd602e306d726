// Package scheduler runs periodic database maintenance on top of
// github.com/robfig/cron/v3.
//
// Jobs are plain functions of a context. The scheduler adds overlap control
// (skip, delay or allow), per-job timeouts, panic recovery, slog logging and
// optional start/finish hooks. Its lifetime is bound to the parent context
// passed to New; Stop and StopContext wait for running jobs.
//
// RegisterMaintenance wires the standard jobs for a database handle:
//
//	s := scheduler.New(ctx, scheduler.Config{Logger: logger})
//	_, err := scheduler.RegisterMaintenance(s, db, scheduler.MaintenanceConfig{
//		VacuumSchedule: "0 3 * * *",
//		BackupSchedule: "@daily",
//		BackupDir:      "/var/backups/litedb",
//		KeepBackups:    7,
//	})
//	s.Start()
//	defer s.Stop()
//
// Busy database errors are retried with pkg/retry before a job is reported as failed.
package scheduler
