//go:build integration

package integration

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/meigma/ustar"
	"github.com/meigma/ustar/internal/testutil"
	"github.com/meigma/ustar/oci"
)

// --- Registry Container Setup ---

var (
	registryOnce sync.Once
	registryAddr string
	registryErr  error
)

// getRegistry returns the shared registry address, starting the container if needed.
// The container is shared across all tests.
func getRegistry(tb testing.TB) string {
	tb.Helper()

	if os.Getenv("SKIP_DOCKER_TESTS") == "1" {
		tb.Skip("SKIP_DOCKER_TESTS is set")
	}

	registryOnce.Do(func() {
		registryAddr, registryErr = startRegistryContainer(context.Background())
	})
	if registryErr != nil {
		tb.Fatalf("start registry container: %v", registryErr)
	}
	return registryAddr
}

// startRegistryContainer starts a registry:2 container and returns the host:port address.
func startRegistryContainer(ctx context.Context) (string, error) {
	req := testcontainers.ContainerRequest{
		Image:        "registry:2",
		ExposedPorts: []string{"5000/tcp"},
		WaitingFor:   wait.ForHTTP("/v2/").WithPort("5000/tcp").WithStatusCodeMatcher(isOKStatus),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("start registry container: %w", err)
	}

	// Cleanup is handled by the testcontainers reaper.

	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve registry host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5000/tcp")
	if err != nil {
		return "", fmt.Errorf("resolve registry port: %w", err)
	}
	return fmt.Sprintf("%s:%s", host, port.Port()), nil
}

func isOKStatus(status int) bool {
	return status >= 200 && status < 300
}

// --- Test Client Factory ---

// newTestClient creates a client configured for the local test registry.
func newTestClient(opts ...oci.Option) *oci.Client {
	return oci.New(append([]oci.Option{oci.WithPlainHTTP(true), oci.WithAnonymous()}, opts...)...)
}

// testRef generates a unique reference for a test to avoid collisions.
func testRef(registryAddr, testName, tag string) string {
	return fmt.Sprintf("%s/test/%s:%s", registryAddr, testName, tag)
}

// pushImage pushes layers to ref through the client's repository.
func pushImage(t *testing.T, c *oci.Client, ref, tag string, layers ...testutil.Layer) {
	t.Helper()
	repo, err := c.Repository(ref)
	require.NoError(t, err)
	testutil.PushImage(t, repo, tag, layers...)
}

// --- Standard Test Fixtures ---

// nestedLayer is a layer with nested directories, an old-style regular file
// and a symlink whose target lives in another directory.
func nestedLayer() []byte {
	return testutil.NewBuilder().
		Dir("etc/").
		File("etc/hostname", []byte("integration\n")).
		Dir("usr/").
		Dir("usr/lib/").
		LegacyFile("usr/lib/os-release", []byte("ID=ustar\nVERSION_ID=1\n")).
		Symlink("etc/os-release", "../usr/lib/os-release").
		File("usr/lib/empty", nil).
		Bytes()
}

// --- Assertion Helpers ---

// readAll reads a whole regular file through ReadFile.
func readAll(tb testing.TB, a *ustar.Archive, path string) []byte {
	tb.Helper()
	var out []byte
	buf := make([]byte, 7)
	var offset int64
	for {
		n, remaining, err := a.ReadFile(path, offset, buf)
		require.NoError(tb, err, "ReadFile(%q, %d)", path, offset)
		out = append(out, buf[:n]...)
		offset += int64(n)
		if remaining == 0 {
			break
		}
	}
	return out
}

// walk returns every path reachable through the archive's fs.FS view.
func walk(tb testing.TB, a *ustar.Archive) []string {
	tb.Helper()
	var paths []string
	err := fs.WalkDir(a.FS(), ".", func(path string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		paths = append(paths, path)
		return nil
	})
	require.NoError(tb, err)
	sort.Strings(paths)
	return paths
}
