// forumctl 是迁移运维入口：逐课程搬数据、校验、翻开关、删源库、核对计数。
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"coursetalk/internal/config"
	"coursetalk/internal/db"
	"coursetalk/internal/migration"
	"coursetalk/internal/routing"
	"coursetalk/internal/services"
	"coursetalk/internal/store/document"
	"coursetalk/internal/store/relational"
)

type app struct {
	log        zerolog.Logger
	engine     *migration.Engine
	reconciler *services.Reconciler
}

func newApp(ctx context.Context) (*app, error) {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	gdb, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open relational database: %w", err)
	}
	sdb, err := document.Connect(ctx, cfg.DocumentURL, cfg.DocumentNamespace, cfg.DocumentDatabase, cfg.DocumentUser, cfg.DocumentPass)
	if err != nil {
		return nil, fmt.Errorf("connect document database: %w", err)
	}

	docBackend := document.New(sdb)
	relBackend := relational.New(gdb)
	resolver, err := routing.NewResolver(gdb, docBackend, relBackend)
	if err != nil {
		return nil, err
	}
	engine := migration.NewEngine(
		docBackend, relBackend,
		migration.NewCheckpointStore(gdb),
		resolver, log,
		cfg.MigrationPageSize, cfg.MigrationMaxRetries,
	)
	return &app{
		log:        log,
		engine:     engine,
		reconciler: services.NewReconciler(relBackend, log),
	}, nil
}

func printJSON(v any) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}

func main() {
	var (
		dryRun     bool
		noToggle   bool
		resetStuck bool
	)

	root := &cobra.Command{
		Use:           "forumctl",
		Short:         "讨论区内容引擎的迁移运维工具",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate [course_id...|all]",
		Short: "把课程数据从文档库迁到关系库",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			opts := migration.Options{DryRun: dryRun, NoToggle: noToggle, ResetStuck: resetStuck}
			if len(args) == 1 && args[0] == "all" {
				reports, err := a.engine.MigrateAll(ctx, opts)
				printJSON(reports)
				return err
			}
			for _, courseID := range args {
				report, err := a.engine.MigrateCourse(ctx, courseID, opts)
				printJSON(report)
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
	migrateCmd.Flags().BoolVar(&dryRun, "dry-run", false, "只读试跑，不写目标库、不翻开关")
	migrateCmd.Flags().BoolVar(&noToggle, "no-toggle", false, "校验通过后停在 Verified，不切换路由")
	migrateCmd.Flags().BoolVar(&resetStuck, "reset-stuck", false, "接管卡在 InProgress 的迁移重跑")

	deleteCmd := &cobra.Command{
		Use:   "delete-source [course_id...]",
		Short: "删除已切换课程在文档库里的数据",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			for _, courseID := range args {
				stats, err := a.engine.DeleteSource(ctx, courseID, dryRun)
				if err != nil {
					return err
				}
				printJSON(stats)
			}
			return nil
		},
	}
	deleteCmd.Flags().BoolVar(&dryRun, "dry-run", false, "只统计将删除的数据量，不实际删除")

	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "核对关系库里的冗余计数，只报告不修复",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			drift, err := a.reconciler.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("drift: %d\n", drift)
			return nil
		},
	}

	root.AddCommand(migrateCmd, deleteCmd, reconcileCmd)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
