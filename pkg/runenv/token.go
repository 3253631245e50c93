package runenv

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"

	"github.com/pkg/errors"
)

// GhCLIToken asks a locally installed gh CLI for an auth token. Fallback
// credential source for the management API commands when GITHUB_TOKEN is not
// set.
func GhCLIToken(ctx context.Context, workingDirectory string) (string, error) {
	path, err := exec.LookPath("gh")
	if err != nil {
		return "", errors.Wrap(err, "locate gh")
	}

	cmd := exec.CommandContext(ctx, path, "auth", "token")
	cmd.Dir = workingDirectory

	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", errors.Wrap(err, "gh auth token")
	}

	var token string
	scanner := bufio.NewScanner(&out)
	if scanner.Scan() {
		token = scanner.Text()
	}
	return token, nil
}
