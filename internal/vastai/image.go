package vastai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// ResolveImageDigest pins an image reference like "repo/name:tag" to its
// immutable "repo/name@sha256:..." form by asking the registry, so freshly
// created instances never run a stale cached tag. On any failure the
// original reference is returned unchanged; pinning is an optimization, not
// a requirement.
func ResolveImageDigest(ctx context.Context, client *http.Client, image string) string {
	repo, tag, ok := strings.Cut(image, ":")
	if !ok || strings.Contains(tag, "/") {
		return image
	}
	// Docker Hub implicit library namespace.
	if !strings.Contains(repo, "/") {
		repo = "library/" + repo
	}

	token, err := registryToken(ctx, client, repo)
	if err != nil {
		return image
	}

	url := fmt.Sprintf("https://registry-1.docker.io/v2/%s/manifests/%s", repo, tag)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return image
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", strings.Join([]string{
		"application/vnd.docker.distribution.manifest.v2+json",
		"application/vnd.oci.image.index.v1+json",
		"application/vnd.docker.distribution.manifest.list.v2+json",
	}, ", "))

	resp, err := client.Do(req)
	if err != nil {
		return image
	}
	resp.Body.Close()
	digest := resp.Header.Get("Docker-Content-Digest")
	if resp.StatusCode != http.StatusOK || digest == "" {
		return image
	}

	name, _, _ := strings.Cut(image, ":")
	return name + "@" + digest
}

func registryToken(ctx context.Context, client *http.Client, repo string) (string, error) {
	url := fmt.Sprintf("https://auth.docker.io/token?service=registry.docker.io&scope=repository:%s:pull", repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token: status %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}
