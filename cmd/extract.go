package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mspro-labs/koredoko/internal/ai"
	"mspro-labs/koredoko/internal/apperr"
	"mspro-labs/koredoko/internal/db"
	"mspro-labs/koredoko/internal/extractor"
	"mspro-labs/koredoko/internal/models"
)

var (
	extractWithMap bool
	extractJSON    bool
)

// fileResult is one image's outcome for CLI output.
type fileResult struct {
	File      string                `json:"file"`
	StoreInfo []models.StoreRecord  `json:"store_info,omitempty"`
	MapURLs   []models.MapURLResult `json:"map_urls,omitempty"`
	Error     string                `json:"error,omitempty"`
}

var extractCmd = &cobra.Command{
	Use:   "extract <image>...",
	Short: "Extract store information from local image files",
	Long: `Sends each image through the same pipeline the web UI uses and prints
the store records found. With --map a Google Maps URL is generated for
every record that has no error.

Examples:
  koredoko extract screenshot.png
  koredoko extract --map shots/*.jpg
  koredoko extract --json story.webp`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExtract(cmd.Context(), cmd.OutOrStdout(), args)
	},
}

func init() {
	extractCmd.Flags().BoolVar(&extractWithMap, "map", false, "also generate a Google Maps URL per record")
	extractCmd.Flags().BoolVar(&extractJSON, "json", false, "print results as JSON")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(ctx context.Context, out io.Writer, paths []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var bar *progressbar.ProgressBar
	if len(paths) > 1 {
		bar = newProgressBar(len(paths), "Analyzing images")
	}

	results := make([]fileResult, 0, len(paths))
	failed := 0
	for _, path := range paths {
		if bar != nil {
			bar.Describe(color.BlueString("Analyzing %s", filepath.Base(path)))
		}
		res := extractFile(ctx, a, path)
		if res.Error != "" {
			failed++
		}
		results = append(results, res)
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}

	if extractJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		printResults(out, results)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d image(s) failed", failed, len(paths))
	}
	return nil
}

func extractFile(ctx context.Context, a *app, path string) fileResult {
	res := fileResult{File: path}

	data, err := os.ReadFile(path)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	upload := extractor.Upload{
		Filename: filepath.Base(path),
		Image:    ai.Image{MIMEType: detectMIMEType(path, data), Data: data},
	}
	recs, err := a.service.Extract(ctx, upload)
	if err != nil {
		a.logger.Debug("extraction failed", zap.String("file", path), zap.Error(err))
		res.Error = apperr.Message(err, "failed to analyze image")
		return res
	}
	res.StoreInfo = recs

	if h := a.history(); h != nil {
		if err := h.RecordExtraction(ctx, db.Extraction{
			Filename:  upload.Filename,
			Filepath:  path,
			MIMEType:  upload.MIMEType,
			Degraded:  extractor.IsDegraded(recs),
			StoreInfo: recs,
		}); err != nil {
			a.logger.Warn("failed to record extraction history", zap.Error(err))
		}
	}

	if !extractWithMap {
		return res
	}
	for _, rec := range recs {
		if rec.Failed() {
			res.MapURLs = append(res.MapURLs, models.MapURLResult{Error: rec.Error})
			continue
		}
		mu, err := a.service.GenerateMapURL(ctx, rec)
		if err != nil {
			mu = models.MapURLResult{Error: apperr.Message(err, extractor.MapURLFailed)}
		}
		res.MapURLs = append(res.MapURLs, mu)
	}
	return res
}

// detectMIMEType prefers the file extension and falls back to sniffing.
func detectMIMEType(path string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return http.DetectContentType(data)
}

func printResults(out io.Writer, results []fileResult) {
	header := color.New(color.FgCyan, color.Bold)
	label := color.New(color.Faint)
	bad := color.New(color.FgRed)
	link := color.New(color.FgGreen)

	for i, res := range results {
		if i > 0 {
			fmt.Fprintln(out)
		}
		header.Fprintf(out, "📷 %s\n", res.File)
		if res.Error != "" {
			bad.Fprintf(out, "  ✗ %s\n", res.Error)
			continue
		}
		if len(res.StoreInfo) == 0 {
			fmt.Fprintln(out, "  No store information found.")
			continue
		}
		for j, rec := range res.StoreInfo {
			fmt.Fprintf(out, "  [%d]\n", j+1)
			if rec.Failed() {
				bad.Fprintf(out, "    ✗ %s\n", rec.Error)
				if rec.RawResponse != "" {
					label.Fprintf(out, "    raw: %s\n", rec.RawResponse)
				}
			} else {
				printField(out, label, "store", rec.StoreName)
				printField(out, label, "address", rec.Address)
				printField(out, label, "phone", rec.Phone)
				printField(out, label, "hours", rec.Hours)
			}
			if j < len(res.MapURLs) {
				mu := res.MapURLs[j]
				switch {
				case mu.MapURL != "":
					link.Fprintf(out, "    🗺  %s\n", mu.MapURL)
				case mu.Error != "" && !rec.Failed():
					bad.Fprintf(out, "    ✗ map: %s\n", mu.Error)
				}
			}
		}
	}
}

func printField(out io.Writer, label *color.Color, name, value string) {
	if value == "" {
		value = "-"
	}
	label.Fprintf(out, "    %-8s", name)
	fmt.Fprintln(out, value)
}

func newProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowCount(),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}
