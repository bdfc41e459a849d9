package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var matchCmd = &cobra.Command{
	Use:   "match <selfie>",
	Short: "Find corpus photos that contain the face in a selfie",
	Long: `Upload a selfie to the selfies/ namespace and compare it against every
photo in the corpus. Matching photo URLs are printed one per line.

Interrupting a run prints the matches found so far.`,
	Args: cobra.ExactArgs(1),
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)
	matchCmd.Flags().Int("threshold", 0, "Similarity threshold 0-100 (default from config)")
}

func runMatch(cmd *cobra.Command, args []string) error {
	threshold, _ := cmd.Flags().GetInt("threshold")

	selfie, err := fileItem(args[0])
	if err != nil {
		return fmt.Errorf("prepare selfie: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if threshold == 0 {
		threshold = a.cfg.Faces.Threshold
	}

	res, err := a.svc.SubmitSelfie(ctx, selfie, threshold)
	if err != nil && !res.Partial {
		return err
	}

	out := cmd.OutOrStdout()
	for _, m := range res.Matches {
		fmt.Fprintln(out, m.Ref.URL)
	}
	fmt.Fprintf(os.Stderr, "%d match(es) among %d photo(s) at threshold %d", len(res.Matches), res.Candidates, res.Threshold)
	if res.NoFace > 0 {
		fmt.Fprintf(os.Stderr, ", %d without a face", res.NoFace)
	}
	if len(res.Skipped) > 0 {
		fmt.Fprintf(os.Stderr, ", %d skipped", len(res.Skipped))
	}
	fmt.Fprintln(os.Stderr)

	if res.Partial {
		return errors.New("match run interrupted, results are partial")
	}
	return nil
}
