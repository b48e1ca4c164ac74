package display

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/fetchkit/fetchkit/internal/util"
)

// OutputFormat selects how a Reporter renders progress.
type OutputFormat string

const (
	OutputFormatTerminal OutputFormat = "terminal"
	OutputFormatJSON     OutputFormat = "json"
	OutputFormatQuiet    OutputFormat = "quiet"
)

// Reporter drives a Tracker's updates to a terminal progress bar, line-
// delimited JSON, or a single completion line, depending on format.
type Reporter struct {
	format      OutputFormat
	output      io.Writer
	tracker     *Tracker
	progressBar *progressbar.ProgressBar
	lastUpdate  time.Time
	updateMu    sync.Mutex
	done        chan struct{}
	wg          sync.WaitGroup
}

// ReporterConfig configures a Reporter.
type ReporterConfig struct {
	Format      OutputFormat
	Output      io.Writer
	RefreshRate time.Duration
	ShowETA     bool
	ShowSpeed   bool
}

// NewReporter creates a Reporter bound to tracker.
func NewReporter(tracker *Tracker, config ReporterConfig) *Reporter {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.RefreshRate == 0 {
		config.RefreshRate = 100 * time.Millisecond
	}

	r := &Reporter{
		format:  config.Format,
		output:  config.Output,
		tracker: tracker,
		done:    make(chan struct{}),
	}

	if config.Format == OutputFormatTerminal {
		r.progressBar = progressbar.NewOptions64(
			100,
			progressbar.OptionSetWriter(config.Output),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(15),
			progressbar.OptionSetDescription("[cyan]Downloading...[reset]"),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetPredictTime(config.ShowETA),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("files"),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprint(config.Output, "\n")
			}),
		)
	}

	return r
}

// Start begins reporting progress in the background.
func (r *Reporter) Start() {
	updates := r.tracker.Subscribe()

	r.wg.Add(1)
	go r.processUpdates(updates)

	if r.format == OutputFormatTerminal {
		r.wg.Add(1)
		go r.refreshTerminal()
	}
}

// Stop stops reporting, emitting a final snapshot first.
func (r *Reporter) Stop() {
	close(r.done)
	r.wg.Wait()

	r.reportProgress(r.tracker.GetSnapshot())

	if r.format == OutputFormatTerminal && r.progressBar != nil {
		r.progressBar.Finish()
	}
}

func (r *Reporter) processUpdates(updates <-chan Update) {
	defer r.wg.Done()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}

			switch update.Type {
			case UpdateTypeError:
				r.reportError(update.Error)
			case UpdateTypeState:
				r.reportStateChange()
			default:
				if r.format != OutputFormatTerminal {
					r.updateMu.Lock()
					if time.Since(r.lastUpdate) > 100*time.Millisecond {
						r.reportProgress(r.tracker.GetSnapshot())
						r.lastUpdate = time.Now()
					}
					r.updateMu.Unlock()
				}
			}

		case <-r.done:
			return
		}
	}
}

func (r *Reporter) refreshTerminal() {
	defer r.wg.Done()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.updateProgressBar(r.tracker.GetSnapshot())
		case <-r.done:
			return
		}
	}
}

func (r *Reporter) reportProgress(snapshot ProgressSnapshot) {
	switch r.format {
	case OutputFormatTerminal:
		r.updateProgressBar(snapshot)
	case OutputFormatJSON:
		r.reportJSON(snapshot)
	case OutputFormatQuiet:
		if snapshot.State == StateCompleted {
			r.reportQuiet(snapshot)
		}
	}
}

func (r *Reporter) updateProgressBar(snapshot ProgressSnapshot) {
	if r.progressBar == nil {
		return
	}

	r.progressBar.Describe(r.formatDescription(snapshot))

	if snapshot.TotalBytes > 0 {
		r.progressBar.ChangeMax64(snapshot.TotalBytes)
		r.progressBar.Set64(snapshot.ProcessedBytes)
	} else if snapshot.TotalFiles > 0 {
		r.progressBar.ChangeMax64(snapshot.TotalFiles)
		r.progressBar.Set64(snapshot.ProcessedFiles)
	}
}

func (r *Reporter) formatDescription(snapshot ProgressSnapshot) string {
	var parts []string

	switch snapshot.State {
	case StateRunning:
		parts = append(parts, "[cyan]Downloading[reset]")
	case StatePaused:
		parts = append(parts, "[yellow]Paused[reset]")
	case StateCompleted:
		parts = append(parts, "[green]Completed[reset]")
	case StateError:
		parts = append(parts, "[red]Error[reset]")
	}

	parts = append(parts, fmt.Sprintf("%d/%d resources",
		snapshot.ProcessedFiles, snapshot.TotalFiles))

	if snapshot.TotalBytes > 0 {
		parts = append(parts, fmt.Sprintf("%s/%s",
			util.FormatBytes(snapshot.ProcessedBytes),
			util.FormatBytes(snapshot.TotalBytes)))
	}

	if speed := snapshot.BytesPerSecond(); speed > 0 {
		parts = append(parts, fmt.Sprintf("%s/s", util.FormatBytes(int64(speed))))
	}

	if eta := snapshot.ETA(); eta > 0 {
		parts = append(parts, fmt.Sprintf("ETA: %s", formatDuration(eta)))
	}

	if snapshot.ErrorCount > 0 {
		parts = append(parts, fmt.Sprintf("[red]%d errors[reset]", snapshot.ErrorCount))
	}

	return strings.Join(parts, " | ")
}

func (r *Reporter) reportJSON(snapshot ProgressSnapshot) {
	output := map[string]interface{}{
		"timestamp":       time.Now().Unix(),
		"state":           snapshot.State.String(),
		"total_files":     snapshot.TotalFiles,
		"processed_files": snapshot.ProcessedFiles,
		"total_bytes":     snapshot.TotalBytes,
		"processed_bytes": snapshot.ProcessedBytes,
		"percent":         snapshot.PercentComplete(),
		"speed_bps":       snapshot.BytesPerSecond(),
		"eta_seconds":     snapshot.ETA().Seconds(),
		"elapsed_seconds": snapshot.ElapsedTime.Seconds(),
		"error_count":     snapshot.ErrorCount,
	}

	if snapshot.CurrentFile != "" {
		output["current_file"] = snapshot.CurrentFile
	}

	data, _ := json.Marshal(output)
	fmt.Fprintln(r.output, string(data))
}

func (r *Reporter) reportQuiet(snapshot ProgressSnapshot) {
	fmt.Fprintf(r.output, "Completed: %d resources, %s in %s\n",
		snapshot.ProcessedFiles,
		util.FormatBytes(snapshot.ProcessedBytes),
		formatDuration(snapshot.ElapsedTime))

	if snapshot.ErrorCount > 0 {
		fmt.Fprintf(r.output, "Errors: %d\n", snapshot.ErrorCount)
	}
}

func (r *Reporter) reportError(err error) {
	switch r.format {
	case OutputFormatTerminal:
		fmt.Fprintf(r.output, "\n[red]Error:[reset] %v\n", err)
	case OutputFormatJSON:
		data, _ := json.Marshal(map[string]interface{}{
			"timestamp": time.Now().Unix(),
			"type":      "error",
			"error":     err.Error(),
		})
		fmt.Fprintln(r.output, string(data))
	case OutputFormatQuiet:
	}
}

func (r *Reporter) reportStateChange() {
	snapshot := r.tracker.GetSnapshot()

	switch r.format {
	case OutputFormatTerminal:
	case OutputFormatJSON:
		data, _ := json.Marshal(map[string]interface{}{
			"timestamp": time.Now().Unix(),
			"type":      "state_change",
			"state":     snapshot.State.String(),
		})
		fmt.Fprintln(r.output, string(data))
	case OutputFormatQuiet:
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", hours, minutes)
}
