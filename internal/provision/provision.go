// Package provision prepares the host before the application server
// starts: system packages for OCR and the app's Python requirements.
package provision

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/jagdalepatil2002/tax-analyzer-agent/internal/logger"
	"github.com/jagdalepatil2002/tax-analyzer-agent/internal/metrics"
)

// ocrPackages is the fixed set the backend needs before it can serve:
// the OCR engine and its English language data.
var ocrPackages = []string{"tesseract-ocr", "tesseract-ocr-eng"}

// runCommand executes an external command, relaying output to the agent's
// own streams. Swapped out in tests.
var runCommand = func(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

type Installer struct {
	AptGet string
	Pip    string
	AppDir string
}

func NewInstaller(aptGet, pip, appDir string) *Installer {
	return &Installer{
		AptGet: aptGet,
		Pip:    pip,
		AppDir: appDir,
	}
}

// InstallSystemPackages refreshes the package index, then installs the OCR
// packages. Either command failing aborts startup: the backend cannot
// serve on a host without its OCR toolchain.
func (i *Installer) InstallSystemPackages(ctx context.Context) error {
	logger.Info("updating package index")
	if err := runCommand(ctx, i.AptGet, "update"); err != nil {
		metrics.InstallCommandsTotal.WithLabelValues("apt_update", "error").Inc()
		return fmt.Errorf("apt-get update failed: %w", err)
	}
	metrics.InstallCommandsTotal.WithLabelValues("apt_update", "success").Inc()

	logger.Info("installing ocr packages", "packages", ocrPackages)
	args := append([]string{"install", "-y"}, ocrPackages...)
	if err := runCommand(ctx, i.AptGet, args...); err != nil {
		metrics.InstallCommandsTotal.WithLabelValues("apt_install", "error").Inc()
		return fmt.Errorf("apt-get install failed: %w", err)
	}
	metrics.InstallCommandsTotal.WithLabelValues("apt_install", "success").Inc()

	return nil
}

// InstallPythonRequirements runs pip against the app's requirements.txt.
// Bundles without one have nothing to install.
func (i *Installer) InstallPythonRequirements(ctx context.Context) error {
	reqPath := filepath.Join(i.AppDir, "requirements.txt")
	if _, err := os.Stat(reqPath); err != nil {
		if os.IsNotExist(err) {
			logger.Info("no requirements.txt found, skipping pip install", "dir", i.AppDir)
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", reqPath, err)
	}

	logger.Info("installing python requirements", "file", reqPath)
	if err := runCommand(ctx, i.Pip, "install", "-r", reqPath); err != nil {
		metrics.InstallCommandsTotal.WithLabelValues("pip_install", "error").Inc()
		return fmt.Errorf("pip install failed: %w", err)
	}
	metrics.InstallCommandsTotal.WithLabelValues("pip_install", "success").Inc()

	return nil
}
