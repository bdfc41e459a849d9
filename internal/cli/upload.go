package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/withObsrvr/photo-matcher/internal/pipeline"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <dir|file> [dir|file...]",
	Short: "Upload photos to the event corpus",
	Long: `Upload photos to the uploads/ namespace of the photo bucket.

Directories are scanned for .jpg, .jpeg and .png files (non-recursive
unless -r is given). Files named explicitly are always submitted; their
content type is sniffed and unsupported files are reported as rejected.

Example:
  photo-matcher upload ./event-2024
  photo-matcher upload -r ./event-2024 ./extra/cake.jpg`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	uploadCmd.Flags().BoolP("recursive", "r", false, "Search directories recursively")
}

func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

// collectFiles expands directories into the image files they contain.
func collectFiles(args []string, recursive bool) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}

		if recursive {
			err := filepath.WalkDir(arg, func(path string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !d.IsDir() && isImageFile(d.Name()) {
					paths = append(paths, path)
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("cannot walk %s: %w", arg, err)
			}
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", arg, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() && isImageFile(entry.Name()) {
				paths = append(paths, filepath.Join(arg, entry.Name()))
			}
		}
	}
	return paths, nil
}

// fileItem stats and sniffs path without keeping it open.
func fileItem(path string) (*pipeline.UploadItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	ct, err := pipeline.DetectContentType(f)
	if err != nil {
		return nil, err
	}

	return &pipeline.UploadItem{
		Name:        filepath.Base(path),
		ContentType: ct,
		Size:        info.Size(),
		Source:      pipeline.FileSource(path),
	}, nil
}

func runUpload(cmd *cobra.Command, args []string) error {
	recursive, _ := cmd.Flags().GetBool("recursive")

	paths, err := collectFiles(args, recursive)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No image files found.")
		return nil
	}

	batch := pipeline.NewBatch()
	for _, p := range paths {
		it, err := fileItem(p)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", p, err)
		}
		batch.Add(it)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bar := progressbar.NewOptions(len(batch.Items),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Uploading"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	a, err := newApp(ctx, func(pipeline.ItemResult) { bar.Add(1) })
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.svc.SubmitCorpus(ctx, batch.Items)
	bar.Finish()
	if err != nil && len(report.Results) == 0 {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nBatch %s: %d uploaded, %d failed\n", report.BatchID, report.Succeeded(), report.Failed())
	for _, res := range report.Results {
		if res.Err != nil {
			fmt.Fprintf(out, "  ✗ %s: %v\n", res.Name, res.Err)
		}
	}

	if err != nil {
		return err
	}
	if report.Failed() > 0 {
		return fmt.Errorf("%d of %d uploads failed", report.Failed(), len(report.Results))
	}
	return nil
}
