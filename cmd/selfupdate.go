package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/Masterminds/semver/v3"
	"github.com/creativeprojects/go-selfupdate"
	"github.com/spf13/cobra"
)

const releaseRepository = "giantswarm/mcp-aras"

func newSelfUpdateCmd() *cobra.Command {
	var checkOnly bool

	cmd := &cobra.Command{
		Use:          "self-update",
		Short:        "Update mcp-aras to the latest release",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return selfUpdate(cmd.Context(), cmd.OutOrStdout(), version, checkOnly)
		},
	}
	cmd.Flags().BoolVar(&checkOnly, "check", false, "Only report whether a newer release exists")
	return cmd
}

// currentVersion rejects development builds, which cannot be compared with
// release tags.
func currentVersion(v string) (string, error) {
	parsed, err := semver.NewVersion(v)
	if err != nil {
		return "", fmt.Errorf("cannot self-update build version %q: not a release version", v)
	}
	return parsed.String(), nil
}

func selfUpdate(ctx context.Context, out io.Writer, current string, checkOnly bool) error {
	current, err := currentVersion(current)
	if err != nil {
		return err
	}

	latest, found, err := selfupdate.DetectLatest(ctx, selfupdate.ParseSlug(releaseRepository))
	if err != nil {
		return fmt.Errorf("error occurred while detecting version: %w", err)
	}
	if !found {
		return fmt.Errorf("no release found for %s", releaseRepository)
	}

	if latest.LessOrEqual(current) {
		_, _ = fmt.Fprintf(out, "Current version (%s) is the latest\n", current)
		return nil
	}
	if checkOnly {
		_, _ = fmt.Fprintf(out, "Version %s is available (current %s): %s\n", latest.Version(), current, latest.URL)
		return nil
	}

	exe, err := selfupdate.ExecutablePath()
	if err != nil {
		return fmt.Errorf("could not locate executable path: %w", err)
	}
	if err := selfupdate.UpdateTo(ctx, latest.AssetURL, latest.AssetName, exe); err != nil {
		return fmt.Errorf("error occurred while updating binary: %w", err)
	}

	_, _ = fmt.Fprintf(out, "Successfully updated to version %s\n", latest.Version())
	return nil
}
