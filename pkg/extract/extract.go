// pkg/extract/extract.go - unpacking the self-extracting installer into a
// portable tree without running the actual installation.

package extract

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/windowsadmins/vboxportable/pkg/command"
	"github.com/windowsadmins/vboxportable/pkg/logging"
)

var commandMsi = filepath.Join(os.Getenv("WINDIR"), "system32", "msiexec.exe")

// Extractor turns a downloaded installer into a flat portable install tree.
type Extractor struct {
	runner command.Runner
}

// NewExtractor returns an Extractor that shells out through r.
func NewExtractor(r command.Runner) *Extractor {
	return &Extractor{runner: r}
}

// Unpack extracts installerPath into installRoot. The self-extractor is
// asked to unpack its payload, the contained MSI is administrative-installed
// into a staging area, and the resulting install image is moved into place.
// Nothing is registered with the OS here.
func (e *Extractor) Unpack(installerPath, installRoot string) error {
	if _, err := os.Stat(installerPath); err != nil {
		return &command.PreconditionError{Path: installerPath}
	}

	tmp, err := os.MkdirTemp("", "vboxportable-extract-")
	if err != nil {
		return fmt.Errorf("failed to create extraction directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	logging.Info("Extracting installer payload", "installer", installerPath, "dir", tmp)
	res := e.runner.Run(installerPath, "-extract", "-silent", "-path", tmp)
	if res.ExitCode != 0 {
		return fmt.Errorf("installer extraction exited %d: %s",
			res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	msi, err := findMsi(tmp)
	if err != nil {
		return err
	}

	staging := filepath.Join(tmp, "image")
	logging.Info("Performing administrative MSI extraction", "msi", msi)
	res = e.runner.Run(commandMsi, "/a", msi, "/qn", "TARGETDIR="+staging)
	if res.ExitCode != 0 {
		return fmt.Errorf("msiexec administrative install exited %d: %s",
			res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	image := filepath.Join(staging, "PFiles", "Oracle", "VirtualBox")
	if _, err := os.Stat(image); err != nil {
		return fmt.Errorf("install image not found under %s: %w", staging, err)
	}

	if err := os.MkdirAll(filepath.Dir(installRoot), 0755); err != nil {
		return fmt.Errorf("failed to create parent of install root: %w", err)
	}
	if err := moveTree(image, installRoot); err != nil {
		return err
	}

	logging.Info("Unpacked portable install tree", "install_root", installRoot)
	return nil
}

// findMsi locates the 64-bit MSI inside the extracted payload.
func findMsi(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.msi"))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("no MSI found in extracted payload %s", dir)
	}
	for _, m := range matches {
		if strings.Contains(strings.ToLower(filepath.Base(m)), "amd64") {
			return m, nil
		}
	}
	return matches[0], nil
}

// moveTree renames src to dst, falling back to a copy when the rename
// crosses volumes.
func moveTree(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyDirectory(src, dst); err != nil {
		return err
	}
	return os.RemoveAll(src)
}

func copyDirectory(src, dst string) error {
	logging.Debug("Copying directory", "src", src, "dst", dst)

	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat source directory: %w", err)
	}
	if err := os.MkdirAll(dst, srcInfo.Mode()); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("failed to read source directory: %w", err)
	}

	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		if entry.IsDir() {
			if err := copyDirectory(srcPath, dstPath); err != nil {
				return fmt.Errorf("failed to copy subdirectory %s: %w", entry.Name(), err)
			}
		} else {
			if err := copyFile(srcPath, dstPath); err != nil {
				return fmt.Errorf("failed to copy file %s: %w", entry.Name(), err)
			}
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
