// pkg/download/download.go - installer acquisition from the vendor download page.

package download

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	goversion "github.com/hashicorp/go-version"

	"github.com/windowsadmins/vboxportable/pkg/config"
	"github.com/windowsadmins/vboxportable/pkg/logging"
	"github.com/windowsadmins/vboxportable/pkg/retry"
)

// installerLinkPattern matches the Windows hosts installer link on the
// vendor download page. The page layout is not ours to control; when this
// breaks, it breaks here.
var installerLinkPattern = regexp.MustCompile(
	`https://download\.virtualbox\.org/virtualbox/(\d+\.\d+\.\d+)/VirtualBox-[\d.]+-\d+-Win\.exe`)

// cachedInstallerPattern extracts the version from a previously downloaded
// installer file name.
var cachedInstallerPattern = regexp.MustCompile(`^VirtualBox-(\d+\.\d+\.\d+)-\d+-Win\.exe$`)

// Release identifies one downloadable installer.
type Release struct {
	URL     string
	Version *goversion.Version
}

// ResolveLatest fetches the vendor download page and extracts the Windows
// installer link and its version.
func ResolveLatest(cfg *config.Configuration) (*Release, error) {
	client := &http.Client{Timeout: time.Duration(cfg.DownloadTimeoutSeconds) * time.Second}

	logging.Info("Resolving latest installer", "page", cfg.DownloadPageURL)
	resp, err := client.Get(cfg.DownloadPageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch download page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected HTTP status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read download page: %w", err)
	}

	release, err := ParsePage(string(body))
	if err != nil {
		return nil, err
	}
	logging.Info("Resolved latest installer", "url", release.URL, "version", release.Version.String())
	return release, nil
}

// ParsePage extracts the Windows installer link from the download page body.
func ParsePage(body string) (*Release, error) {
	m := installerLinkPattern.FindStringSubmatch(body)
	if m == nil {
		return nil, fmt.Errorf("no Windows installer link found on download page")
	}
	ver, err := goversion.NewVersion(m[1])
	if err != nil {
		return nil, fmt.Errorf("failed to parse installer version %q: %w", m[1], err)
	}
	return &Release{URL: m[0], Version: ver}, nil
}

// FetchInstaller ensures the latest installer is present in the cache and
// returns its local path. An already cached installer of the same or newer
// version is reused without downloading.
func FetchInstaller(cfg *config.Configuration) (string, error) {
	release, err := ResolveLatest(cfg)
	if err != nil {
		return "", err
	}

	if cachedPath, cachedVer := cachedInstaller(cfg.CachePath); cachedVer != nil {
		if cachedVer.GreaterThanOrEqual(release.Version) {
			logging.Info("Cached installer is current, skipping download",
				"file", cachedPath, "version", cachedVer.String())
			return cachedPath, nil
		}
		logging.Info("Cached installer is outdated",
			"cached_version", cachedVer.String(), "latest_version", release.Version.String())
	}

	dest := filepath.Join(cfg.CachePath, filepath.Base(release.URL))
	if err := DownloadFile(release.URL, dest, cfg); err != nil {
		return "", err
	}
	if err := verifyDownload(release, dest, cfg); err != nil {
		os.Remove(dest)
		return "", err
	}
	return dest, nil
}

// cachedInstaller scans the cache directory for the newest installer already
// downloaded.
func cachedInstaller(cachePath string) (string, *goversion.Version) {
	entries, err := os.ReadDir(cachePath)
	if err != nil {
		return "", nil
	}

	var bestPath string
	var bestVer *goversion.Version
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := cachedInstallerPattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		ver, err := goversion.NewVersion(m[1])
		if err != nil {
			continue
		}
		if bestVer == nil || ver.GreaterThan(bestVer) {
			bestVer = ver
			bestPath = filepath.Join(cachePath, entry.Name())
		}
	}
	return bestPath, bestVer
}

var downloadRetry = retry.RetryConfig{MaxRetries: 3, InitialInterval: time.Second, Multiplier: 2.0}

// DownloadFile downloads url to dest with retries. The payload lands under a
// temporary name and is renamed into place only on success, so a failed
// download never leaves a file behind that looks like a cached installer.
func DownloadFile(url, dest string, cfg *config.Configuration) error {
	if url == "" {
		return fmt.Errorf("invalid parameters: url cannot be empty")
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create directory structure: %v", err)
	}

	tmp := dest + ".partial"
	err := retry.Retry(downloadRetry, func() error {
		logging.Info("Starting download", "url", url, "destination", dest)

		out, err := os.Create(tmp)
		if err != nil {
			return fmt.Errorf("failed to open destination file: %v", err)
		}
		defer out.Close()

		client := &http.Client{Timeout: time.Duration(cfg.DownloadTimeoutSeconds) * time.Second}
		resp, err := client.Get(url)
		if err != nil {
			return fmt.Errorf("failed to perform HTTP request: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected HTTP status code: %d", resp.StatusCode)
		}

		if _, err = io.Copy(out, resp.Body); err != nil {
			return fmt.Errorf("failed to write downloaded data: %v", err)
		}
		return nil
	})
	if err != nil {
		os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move download into place: %v", err)
	}
	logging.Info("Download completed successfully", "file", dest)
	return nil
}

const checksumFile = "SHA256SUMS"

// verifyDownload checks the freshly downloaded installer against the checksum
// list the vendor publishes next to it. An unavailable list is only a warning;
// a present list with a mismatching sum rejects the download.
func verifyDownload(release *Release, dest string, cfg *config.Configuration) error {
	sum, err := fetchChecksum(release, cfg)
	if err != nil {
		logging.Warn("Checksum list unavailable, skipping verification", "error", err)
		return nil
	}
	if !Verify(dest, sum) {
		return fmt.Errorf("installer %s does not match its published checksum", filepath.Base(dest))
	}
	logging.Info("Installer checksum verified", "file", dest)
	return nil
}

// fetchChecksum downloads the checksum list published alongside the installer
// and returns the SHA-256 sum recorded for it.
func fetchChecksum(release *Release, cfg *config.Configuration) (string, error) {
	sumsURL := release.URL[:strings.LastIndex(release.URL, "/")+1] + checksumFile

	client := &http.Client{Timeout: time.Duration(cfg.DownloadTimeoutSeconds) * time.Second}
	resp, err := client.Get(sumsURL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch checksum list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected HTTP status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read checksum list: %w", err)
	}
	return findChecksum(string(body), filepath.Base(release.URL))
}

// findChecksum extracts the sum for name from a "<hash> *<file>" listing.
func findChecksum(listing, name string) (string, error) {
	for _, line := range strings.Split(listing, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		if strings.TrimPrefix(fields[1], "*") == name {
			return fields[0], nil
		}
	}
	return "", fmt.Errorf("no entry for %s in %s", name, checksumFile)
}

// Verify checks if the given file matches the expected hash.
func Verify(file string, expectedHash string) bool {
	actualHash := calculateHash(file)
	return actualHash != "" && strings.EqualFold(actualHash, expectedHash)
}

func calculateHash(path string) string {
	file, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return ""
	}
	return hex.EncodeToString(hasher.Sum(nil))
}
