// Package preflight runs the boot-time diagnostics the backend would
// otherwise discover mid-request: database reachability, the Gemini key,
// the OCR toolchain, and the app module itself. Every check is advisory.
// The backend starts with degraded features rather than refusing to run,
// and the agent mirrors that.
package preflight

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/jagdalepatil2002/tax-analyzer-agent/internal/logger"
	"github.com/jagdalepatil2002/tax-analyzer-agent/internal/metrics"
)

const (
	appModuleFile = "tax_analyzer_backend.py"
	dbPingTimeout = 5 * time.Second
)

// listLanguages asks the OCR binary for its installed language packs.
// Swapped out in tests.
var listLanguages = func(ctx context.Context) ([]byte, error) {
	return exec.CommandContext(ctx, "tesseract", "--list-langs").CombinedOutput()
}

type Result struct {
	Check  string
	OK     bool
	Detail string
}

type Checker struct {
	DatabaseURL  string
	GeminiAPIKey string
	AppDir       string
}

// Run executes all checks concurrently and reports each outcome. Callers
// log and record the results and move on; nothing here aborts startup.
func (c *Checker) Run(ctx context.Context) []Result {
	results := make([]Result, 4)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { results[0] = c.checkDatabase(ctx); return nil })
	g.Go(func() error { results[1] = c.checkGemini(); return nil })
	g.Go(func() error { results[2] = c.checkOCR(ctx); return nil })
	g.Go(func() error { results[3] = c.checkAppModule(); return nil })

	g.Wait()

	for _, res := range results {
		if res.OK {
			metrics.PreflightChecksTotal.WithLabelValues(res.Check, "ok").Inc()
			logger.Debug("preflight check passed", "check", res.Check)
		} else {
			metrics.PreflightChecksTotal.WithLabelValues(res.Check, "warn").Inc()
			logger.Warn("preflight check failed", "check", res.Check, "detail", res.Detail)
		}
	}

	return results
}

func (c *Checker) checkDatabase(ctx context.Context) Result {
	res := Result{Check: "database"}

	if c.DatabaseURL == "" {
		res.Detail = "DATABASE_URL not set. Database features will be disabled."
		return res
	}

	db, err := sql.Open("postgres", c.DatabaseURL)
	if err != nil {
		res.Detail = fmt.Sprintf("invalid DATABASE_URL: %v. Database features will be disabled.", err)
		return res
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, dbPingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		res.Detail = fmt.Sprintf("database connection failed: %v. Database features will be disabled.", err)
		return res
	}

	res.OK = true
	return res
}

func (c *Checker) checkGemini() Result {
	res := Result{Check: "gemini"}

	if c.GeminiAPIKey == "" {
		res.Detail = "GEMINI_API_KEY not configured. Document analysis will fail."
		return res
	}

	res.OK = true
	return res
}

func (c *Checker) checkOCR(ctx context.Context) Result {
	res := Result{Check: "ocr"}

	out, err := listLanguages(ctx)
	if err != nil {
		res.Detail = fmt.Sprintf("tesseract not available: %v", err)
		return res
	}

	if !hasLanguage(out, "eng") {
		res.Detail = "tesseract is installed but the eng language pack is missing"
		return res
	}

	res.OK = true
	return res
}

func (c *Checker) checkAppModule() Result {
	res := Result{Check: "app_module"}

	path := filepath.Join(c.AppDir, appModuleFile)
	if _, err := os.Stat(path); err != nil {
		res.Detail = fmt.Sprintf("%s not found in %s", appModuleFile, c.AppDir)
		return res
	}

	res.OK = true
	return res
}

func hasLanguage(listing []byte, lang string) bool {
	for _, line := range strings.Split(string(listing), "\n") {
		if strings.TrimSpace(line) == lang {
			return true
		}
	}
	return false
}
