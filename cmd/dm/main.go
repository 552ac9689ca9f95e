// Command dm is the data-mover CLI: thin cobra wrappers over the
// engine's scan/backup/archive workflows (spec §6).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quorumfs/dm/dmlog"
	"github.com/quorumfs/dm/engine"
	"github.com/quorumfs/dm/iopx"
)

var (
	queueDepth        int
	workItemsPerBatch int
)

var rootCommand = &cobra.Command{
	Use:   "dm",
	Short: "Move, scan, and archive data between storage backends",
}

func init() {
	rootCommand.PersistentFlags().IntVar(&queueDepth, "queue-depth", 1024, "engine worker-pool queue depth")
	rootCommand.PersistentFlags().IntVar(&workItemsPerBatch, "batch-size", 64, "work items a backup/archive collect file is split across (paths per batch = ceil(paths / value))")

	rootCommand.AddCommand(backupCommand)
	rootCommand.AddCommand(archiveCommand)
	rootCommand.AddCommand(scanCommand)
}

func newEngine() *engine.Engine {
	return engine.New(queueDepth, workItemsPerBatch)
}

func locationFor(cfg engine.StoreConfig) iopx.Location {
	return iopx.Location{Product: cfg.Product, Store: cfg.Store}
}

var backupCommand = &cobra.Command{
	Use:   "backup <src-product> <src-store> <dest-product> <dest-store> <input-list> <failed-list>",
	Short: "Copy the paths named in input-list from the source store to the destination store",
	Args:  cobra.ExactArgs(6),
	RunE: func(cmd *cobra.Command, args []string) error {
		e := newEngine()
		defer e.Stop()
		job := &engine.BackupJob{
			SrcCfg:         engine.StoreConfig{Product: args[0], Store: args[1]},
			DstCfg:         engine.StoreConfig{Product: args[2], Store: args[3]},
			CollectFile:    args[4],
			FailedListPath: args[5],
		}
		if err := e.RunBackup(job); err != nil {
			return fmt.Errorf("backup: %w", err)
		}
		return nil
	},
}

var archiveCommand = &cobra.Command{
	Use:   "stub <src-product> <src-store> <dest-product> <dest-store> <input-list> <failed-list>",
	Short: "Archive (stub) the paths named in input-list in place",
	Args:  cobra.ExactArgs(6),
	RunE: func(cmd *cobra.Command, args []string) error {
		e := newEngine()
		defer e.Stop()
		job := &engine.ArchiveJob{
			SrcCfg:         engine.StoreConfig{Product: args[0], Store: args[1]},
			CollectFile:    args[4],
			FailedListPath: args[5],
		}
		if err := e.RunArchive(job); err != nil {
			return fmt.Errorf("stub: %w", err)
		}
		return nil
	},
}

var scanCommand = &cobra.Command{
	Use:   "scan <full|incr> <src-product> <src-store> <output-list>",
	Short: "Enumerate changed paths in a store into a collect file",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := engine.ScanMode(args[0])
		if mode != engine.ScanFull && mode != engine.ScanIncremental {
			return fmt.Errorf("scan: mode must be %q or %q, got %q", engine.ScanFull, engine.ScanIncremental, args[0])
		}
		e := newEngine()
		defer e.Stop()
		cfg := engine.StoreConfig{Product: args[1], Store: args[2]}
		collectPath, err := e.Scan(cfg, locationFor(cfg), mode)
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		return os.WriteFile(args[3], []byte(collectPath+"\n"), 0o644)
	},
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		dmlog.Errorf(dmlog.Str("cmd/dm"), "%v", err)
		os.Exit(1)
	}
}
