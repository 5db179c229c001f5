package download

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windowsadmins/vboxportable/pkg/config"
	"github.com/windowsadmins/vboxportable/pkg/retry"
)

const samplePage = `<html><body>
<a href="https://download.virtualbox.org/virtualbox/7.0.18/VirtualBox-7.0.18-162988-Win.exe">Windows hosts</a>
<a href="https://download.virtualbox.org/virtualbox/7.0.18/VirtualBox-7.0.18-162988-OSX.dmg">macOS hosts</a>
</body></html>`

func testConfig(t *testing.T) *config.Configuration {
	t.Helper()
	return &config.Configuration{
		CachePath:              t.TempDir(),
		DownloadTimeoutSeconds: 5,
	}
}

func TestParsePageExtractsWindowsInstaller(t *testing.T) {
	release, err := ParsePage(samplePage)
	require.NoError(t, err)

	assert.Equal(t,
		"https://download.virtualbox.org/virtualbox/7.0.18/VirtualBox-7.0.18-162988-Win.exe",
		release.URL)
	assert.Equal(t, "7.0.18", release.Version.String())
}

func TestParsePageWithoutInstallerLinkFails(t *testing.T) {
	_, err := ParsePage("<html><body>nothing to see</body></html>")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no Windows installer link")
}

func TestResolveLatestFetchesDownloadPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, samplePage)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.DownloadPageURL = srv.URL

	release, err := ResolveLatest(cfg)
	require.NoError(t, err)
	assert.Equal(t, "7.0.18", release.Version.String())
}

func TestResolveLatestRejectsNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.DownloadPageURL = srv.URL

	_, err := ResolveLatest(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestFetchInstallerReusesCurrentCachedInstaller(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		fmt.Fprint(w, samplePage)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.DownloadPageURL = srv.URL

	cached := filepath.Join(cfg.CachePath, "VirtualBox-7.0.18-162988-Win.exe")
	require.NoError(t, os.WriteFile(cached, []byte("installer"), 0644))

	path, err := FetchInstaller(cfg)
	require.NoError(t, err)
	assert.Equal(t, cached, path)
	assert.Equal(t, 1, requests, "only the page lookup may hit the network")
}

func TestCachedInstallerPicksNewestVersion(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"VirtualBox-7.0.10-158379-Win.exe",
		"VirtualBox-7.0.18-162988-Win.exe",
		"not-an-installer.txt",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}

	path, ver := cachedInstaller(dir)
	require.NotNil(t, ver)
	assert.Equal(t, "7.0.18", ver.String())
	assert.Equal(t, filepath.Join(dir, "VirtualBox-7.0.18-162988-Win.exe"), path)
}

func TestCachedInstallerEmptyCache(t *testing.T) {
	path, ver := cachedInstaller(t.TempDir())
	assert.Empty(t, path)
	assert.Nil(t, ver)
}

func TestDownloadFileWritesDestination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "payload-bytes")
	}))
	defer srv.Close()

	cfg := testConfig(t)
	dest := filepath.Join(cfg.CachePath, "nested", "installer.exe")

	require.NoError(t, DownloadFile(srv.URL, dest, cfg))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "payload-bytes", string(data))
}

func TestFailedDownloadLeavesNoCachedInstaller(t *testing.T) {
	orig := downloadRetry
	downloadRetry = retry.RetryConfig{MaxRetries: 2, InitialInterval: time.Millisecond, Multiplier: 1.0}
	defer func() { downloadRetry = orig }()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	dest := filepath.Join(cfg.CachePath, "VirtualBox-7.0.18-162988-Win.exe")

	require.Error(t, DownloadFile(srv.URL, dest, cfg))

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "no destination file may remain after a failed download")

	entries, err := os.ReadDir(cfg.CachePath)
	require.NoError(t, err)
	assert.Empty(t, entries, "no partial file may remain in the cache")

	// The next fetch must not mistake the failure for a current installer.
	path, ver := cachedInstaller(cfg.CachePath)
	assert.Empty(t, path)
	assert.Nil(t, ver)
}

func TestDownloadFileRejectsEmptyURL(t *testing.T) {
	cfg := testConfig(t)
	err := DownloadFile("", filepath.Join(cfg.CachePath, "x.exe"), cfg)
	require.Error(t, err)
}

// sha256("hello")
const helloSum = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func TestFindChecksum(t *testing.T) {
	listing := helloSum + " *VirtualBox-7.0.18-162988-Win.exe\n" +
		"deadbeef *VirtualBox-7.0.18-162988-OSX.dmg\n"

	sum, err := findChecksum(listing, "VirtualBox-7.0.18-162988-Win.exe")
	require.NoError(t, err)
	assert.Equal(t, helloSum, sum)

	_, err = findChecksum(listing, "VirtualBox-9.9.9-1-Win.exe")
	require.Error(t, err)
}

func TestVerifyDownloadRejectsChecksumMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, checksumFile) {
			fmt.Fprint(w, "deadbeef *VirtualBox-7.0.18-162988-Win.exe\n")
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	dest := filepath.Join(cfg.CachePath, "VirtualBox-7.0.18-162988-Win.exe")
	require.NoError(t, os.WriteFile(dest, []byte("hello"), 0644))

	release := &Release{URL: srv.URL + "/virtualbox/7.0.18/VirtualBox-7.0.18-162988-Win.exe"}
	err := verifyDownload(release, dest, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum")
}

func TestVerifyDownloadAcceptsMatchingChecksum(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, helloSum+" *VirtualBox-7.0.18-162988-Win.exe\n")
	}))
	defer srv.Close()

	cfg := testConfig(t)
	dest := filepath.Join(cfg.CachePath, "VirtualBox-7.0.18-162988-Win.exe")
	require.NoError(t, os.WriteFile(dest, []byte("hello"), 0644))

	release := &Release{URL: srv.URL + "/virtualbox/7.0.18/VirtualBox-7.0.18-162988-Win.exe"}
	require.NoError(t, verifyDownload(release, dest, cfg))
}

func TestVerifyDownloadSkipsWhenChecksumListUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	cfg := testConfig(t)
	dest := filepath.Join(cfg.CachePath, "VirtualBox-7.0.18-162988-Win.exe")
	require.NoError(t, os.WriteFile(dest, []byte("hello"), 0644))

	release := &Release{URL: srv.URL + "/virtualbox/7.0.18/VirtualBox-7.0.18-162988-Win.exe"}
	require.NoError(t, verifyDownload(release, dest, cfg),
		"a missing checksum list must not reject the download")
}

func TestVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "installer.exe")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	assert.True(t, Verify(path, helloSum))
	assert.True(t, Verify(path, strings.ToUpper(helloSum)),
		"hash comparison is case-insensitive")
	assert.False(t, Verify(path, "deadbeef"))
	assert.False(t, Verify(filepath.Join(t.TempDir(), "missing"), helloSum))
}
