package downloader

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
)

// Mega fulfills MEGA.nz share links by delegating to the megadl helper
// binary. Progress is scraped from the helper's textual output.
type Mega struct {
	helperPath string
}

// NewMega locates the helper. With an empty path the binary is looked
// up in PATH; an explicit path that does not exist leaves the backend
// unavailable rather than failing at startup.
func NewMega(helperPath string) *Mega {
	if helperPath == "" {
		helperPath, _ = exec.LookPath("megadl")
	} else if _, err := os.Stat(helperPath); err != nil {
		helperPath = ""
	}
	return &Mega{helperPath: helperPath}
}

func (m *Mega) Name() string { return "MEGA.nz" }

func (m *Mega) Patterns() []string {
	return []string{`mega\.nz/file/`, `mega\.nz/folder/`, `mega\.nz/#`, `mega\.co\.nz/`}
}

func (m *Mega) Matches(rawURL string) bool {
	for _, re := range megaPatterns {
		if re.MatchString(rawURL) {
			return true
		}
	}
	return false
}

func (m *Mega) Available() bool { return m.helperPath != "" }

func (m *Mega) Download(ctx context.Context, source, dest string, report ProgressFunc) error {
	if !m.Available() {
		return ErrHelperUnavailable
	}

	cmd := exec.CommandContext(ctx, m.helperPath, "--no-ask-password", "--path", dest, source)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("helper stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("helper stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start helper: %w", err)
	}

	var (
		mu    sync.Mutex
		total int64
		tail  []string
	)

	// megadl rewrites its progress line with carriage returns, so the
	// scanner splits on both \r and \n.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(io.MultiReader(stdout, stderr))
		scanner.Split(scanCRLines)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			upd, ok := parseProgressLine(line)
			if !ok {
				mu.Lock()
				tail = append(tail, line)
				if len(tail) > 4 {
					tail = tail[len(tail)-4:]
				}
				mu.Unlock()
				continue
			}
			mu.Lock()
			if upd.total > 0 {
				total = upd.total
			}
			downloaded := upd.downloaded
			if downloaded == 0 && total > 0 {
				downloaded = int64(upd.percent / 100 * float64(total))
			}
			known := total
			mu.Unlock()
			if report != nil {
				report(downloaded, known)
			}
		}
	}()

	werr := cmd.Wait()
	wg.Wait()

	if ctx.Err() != nil {
		os.Remove(dest)
		return ctx.Err()
	}

	mu.Lock()
	output := strings.Join(tail, " | ")
	finalTotal := total
	mu.Unlock()

	if werr != nil {
		code := -1
		if exitErr, ok := werr.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
		if looksLikeBadLink(output) {
			return fmt.Errorf("%w: %s", ErrInvalidLink, output)
		}
		return &HelperError{ExitCode: code, Output: output}
	}

	if report != nil && finalTotal > 0 {
		report(finalTotal, finalTotal)
	}
	return nil
}

type progressUpdate struct {
	percent    float64
	downloaded int64
	total      int64
}

var (
	// e.g. "ubuntu.iso: 42.17% - 431.64 MiB of 1023.00 MiB (3.21 MiB/s)"
	bytesProgressRe = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)%\s*-\s*([0-9.]+\s*[KMGTP]?i?B)\s+of\s+([0-9.]+\s*[KMGTP]?i?B)`)
	pctProgressRe   = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)%`)
)

// parseProgressLine extracts a progress sample from one line of helper
// output. Lines without a percentage are not progress lines.
func parseProgressLine(line string) (progressUpdate, bool) {
	if m := bytesProgressRe.FindStringSubmatch(line); m != nil {
		pct, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return progressUpdate{}, false
		}
		downloaded, derr := humanize.ParseBytes(m[2])
		total, terr := humanize.ParseBytes(m[3])
		if derr != nil || terr != nil {
			return progressUpdate{percent: pct}, true
		}
		return progressUpdate{percent: pct, downloaded: int64(downloaded), total: int64(total)}, true
	}
	if m := pctProgressRe.FindStringSubmatch(line); m != nil {
		pct, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return progressUpdate{}, false
		}
		return progressUpdate{percent: pct}, true
	}
	return progressUpdate{}, false
}

func looksLikeBadLink(output string) bool {
	lower := strings.ToLower(output)
	for _, marker := range []string{"invalid link", "malformed", "not found", "does not exist", "invalid key"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func scanCRLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
