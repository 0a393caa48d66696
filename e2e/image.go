//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/docker/docker/api/types/build"
	"github.com/testcontainers/testcontainers-go"
)

// findRoot walks up from the working directory to the module root
func findRoot() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for dir := wd; ; {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no go.mod above %s", wd)
		}
		dir = parent
	}
}

// BuildRouterImage builds the debug stage of the Dockerfile as ImageName.
// Setting TRUSTBGP_E2E_SKIP_BUILD reuses an image that is already present.
func BuildRouterImage(ctx context.Context) error {
	if os.Getenv("TRUSTBGP_E2E_SKIP_BUILD") != "" {
		return nil
	}
	rootDir, err := findRoot()
	if err != nil {
		return err
	}
	// the builder container is never started, only its image is kept
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			FromDockerfile: testcontainers.FromDockerfile{
				Context:    rootDir,
				Dockerfile: "Dockerfile",
				KeepImage:  true,
				Repo:       ImageRepo,
				Tag:        "latest",
				BuildOptionsModifier: func(opts *build.ImageBuildOptions) {
					opts.Target = "debug"
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("building %s: %w", ImageName, err)
	}
	return c.Terminate(ctx)
}
