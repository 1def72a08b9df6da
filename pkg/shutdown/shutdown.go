// Package shutdown handles fatal-error exits: it writes a crash dump next
// to the database so operators can see why the process died.
package shutdown

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ghhufue/chatrelay/pkg/logger"
)

// Abort logs the fatal error, writes a crash dump, and exits. The optional
// delay gives log sinks time to flush.
func Abort(contextMsg string, err error, dbPath string, delaySeconds ...int) {
	delay := 2
	if len(delaySeconds) > 0 && delaySeconds[0] >= 0 {
		delay = delaySeconds[0]
	}
	logger.Error("startup_fatal", "msg", contextMsg, "error", err)
	dumpPath, derr := writeCrashDump(dbPath, contextMsg, err)
	if derr != nil {
		logger.Error("crash_dump_failed", "error", derr)
		fmt.Fprintf(os.Stderr, "FAILED TO WRITE CRASH DUMP: %v\n", derr)
	} else {
		logger.Error("startup_fatal_crashdump", "path", dumpPath)
		fmt.Fprintf(os.Stderr, "CRASH DUMP WRITTEN: %s\n", dumpPath)
	}
	time.Sleep(time.Duration(delay) * time.Second)
	os.Exit(2)
}

// writeCrashDump writes reason, error, and all goroutine stacks to
// <dbPath>/state/crash, falling back to ./crash when no db path is known.
func writeCrashDump(dbPath, reason string, err error) (string, error) {
	crashDir := "./crash"
	if dbPath != "" {
		crashDir = filepath.Join(dbPath, "state", "crash")
	}
	if e := os.MkdirAll(crashDir, 0o700); e != nil {
		return "", fmt.Errorf("failed to create crash dir: %w", e)
	}
	dumpPath := filepath.Join(crashDir, fmt.Sprintf("crash-%d.log", time.Now().UnixNano()))

	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)

	f, ferr := os.OpenFile(dumpPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if ferr != nil {
		return "", fmt.Errorf("failed to create crash file: %w", ferr)
	}
	defer f.Close()
	fmt.Fprintf(f, "time: %s\nreason: %s\nerror: %v\n\n", time.Now().UTC().Format(time.RFC3339), reason, err)
	if _, werr := f.Write(buf[:n]); werr != nil {
		return "", fmt.Errorf("failed to write crash dump: %w", werr)
	}
	return dumpPath, nil
}
