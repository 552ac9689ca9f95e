// Package main (built with -buildmode=c-shared or c-archive) exposes
// the engine's four operations through a thin C-style ABI, per spec
// §1/§6: "dm_scan", "dm_backup", "dm_archive", "dm_restore", each
// returning an int status and taking C strings. This is the only
// package in the module where "C" is imported.
package main

import "C"

import (
	"os"
	"sync"

	"github.com/quorumfs/dm/dmlog"
	"github.com/quorumfs/dm/engine"
	"github.com/quorumfs/dm/iopx"
)

var (
	engOnce sync.Once
	eng     *engine.Engine
)

func sharedEngine() *engine.Engine {
	engOnce.Do(func() {
		eng = engine.New(1024, 64)
	})
	return eng
}

func storeConfig(product, store string) engine.StoreConfig {
	return engine.StoreConfig{Product: product, Store: store}
}

//export dm_scan
func dm_scan(mode, product, store, outputList *C.char) C.int {
	defer recoverToStatus()
	e := sharedEngine()
	cfg := storeConfig(C.GoString(product), C.GoString(store))
	collectPath, err := e.Scan(cfg, iopx.Location{Product: cfg.Product, Store: cfg.Store}, engine.ScanMode(C.GoString(mode)))
	if err != nil {
		dmlog.Errorf(dmlog.Str("cabi"), "dm_scan failed: %v", err)
		return 1
	}
	_ = writeOutputPath(C.GoString(outputList), collectPath)
	return 0
}

//export dm_backup
func dm_backup(srcProduct, srcStore, dstProduct, dstStore, inputList, failedList *C.char) C.int {
	defer recoverToStatus()
	e := sharedEngine()
	job := &engine.BackupJob{
		SrcCfg:         storeConfig(C.GoString(srcProduct), C.GoString(srcStore)),
		DstCfg:         storeConfig(C.GoString(dstProduct), C.GoString(dstStore)),
		CollectFile:    C.GoString(inputList),
		FailedListPath: C.GoString(failedList),
	}
	if err := e.RunBackup(job); err != nil {
		dmlog.Errorf(dmlog.Str("cabi"), "dm_backup failed: %v", err)
		return 1
	}
	return 0
}

//export dm_archive
func dm_archive(srcProduct, srcStore, _dstProduct, _dstStore, inputList, failedList *C.char) C.int {
	defer recoverToStatus()
	e := sharedEngine()
	job := &engine.ArchiveJob{
		SrcCfg:         storeConfig(C.GoString(srcProduct), C.GoString(srcStore)),
		CollectFile:    C.GoString(inputList),
		FailedListPath: C.GoString(failedList),
	}
	if err := e.RunArchive(job); err != nil {
		dmlog.Errorf(dmlog.Str("cabi"), "dm_archive failed: %v", err)
		return 1
	}
	return 0
}

//export dm_restore
func dm_restore(srcProduct, srcStore, dstProduct, dstStore, srcPath, dstPath *C.char) C.int {
	defer recoverToStatus()
	e := sharedEngine()
	result := make(chan error, 1)
	e.RunRestore(&engine.RestoreJob{
		SrcCfg:     storeConfig(C.GoString(srcProduct), C.GoString(srcStore)),
		DstCfg:     storeConfig(C.GoString(dstProduct), C.GoString(dstStore)),
		SrcPath:    C.GoString(srcPath),
		DstPath:    C.GoString(dstPath),
		OnComplete: func(err error) { result <- err },
	})
	if err := <-result; err != nil {
		dmlog.Errorf(dmlog.Str("cabi"), "dm_restore failed: %v", err)
		return 1
	}
	return 0
}

func recoverToStatus() {
	if r := recover(); r != nil {
		dmlog.Errorf(dmlog.Str("cabi"), "panic recovered: %v", r)
	}
}

func writeOutputPath(outputList, collectPath string) error {
	return os.WriteFile(outputList, []byte(collectPath+"\n"), 0o644)
}

func main() {}
