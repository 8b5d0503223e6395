package main

import (
	"context"
	"os"
	"path/filepath"

	"bankfeed/internal/browser"
)

// browserDriver builds the headless Chrome driver used by bank connectors.
// Downloads land in a per-process temp directory that is cleaned as files
// are consumed.
func browserDriver(ctx context.Context) (*browser.ChromeDriver, error) {
	workDir := os.Getenv("BANKFEED_DOWNLOAD_DIR")
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "bankfeed-downloads")
	}
	return browser.NewChromeDriver(ctx, workDir)
}
