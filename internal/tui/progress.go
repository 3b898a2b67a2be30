// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/term"

	"github.com/avfield/kittifetch/pkg/kittiraw"
)

// LiveRenderer renders a cross-platform, adaptive, colorful progress table.
// - Uses ANSI when available; plain text fallback otherwise.
// - Adapts to terminal width/height.
// - Shows run header + totals + catalog entry rows with progress bars.
type LiveRenderer struct {
	job kittiraw.Job
	cfg kittiraw.Settings

	mu         sync.Mutex
	start      time.Time
	events     chan kittiraw.ProgressEvent
	done       chan struct{}
	stopped    bool
	hideCur    bool
	supports   bool // ANSI + interactive
	noColor    bool
	lastRedraw time.Time

	// run shape
	maxEntries  int
	catalogSize int
	processed   int
	skipped     int
	downloaded  int
	summary     string

	// per-entry state, in catalog order
	order   []*entryState
	entries map[string]*entryState

	// overall rolling speed (EMA smoothed)
	lastTotalBytes int64
	lastTick       time.Time
	smoothedSpeed  float64 // EMA smoothed overall speed
}

type entryState struct {
	name   string
	kind   kittiraw.Kind
	total  int64
	bytes  int64
	status string // "waiting","downloading","extracting","done","skip","error"
	err    string

	// rolling speed (EMA smoothed)
	lastBytes     int64
	lastTime      time.Time
	smoothedSpeed float64

	// metrics
	started time.Time
}

// EMA smoothing factor (0.1 = very smooth, 0.5 = responsive)
const speedSmoothingFactor = 0.3

func smoothSpeed(current, previous float64) float64 {
	if previous == 0 {
		return current
	}
	// Exponential moving average
	return speedSmoothingFactor*current + (1-speedSmoothingFactor)*previous
}

// NewLiveRenderer creates a new live TUI renderer. The catalog slice the
// run will walk is known up front, so every row starts out as waiting.
func NewLiveRenderer(job kittiraw.Job, cfg kittiraw.Settings) *LiveRenderer {
	lr := newRenderer(job, cfg)

	// Detect interactive + ANSI support
	lr.supports = isInteractive() && ansiOkay()
	if lr.supports && !lr.noColor {
		// Hide cursor
		fmt.Fprint(os.Stdout, "\x1b[?25l")
		lr.hideCur = true
	}
	go lr.loop()
	return lr
}

// newRenderer builds the seeded table without touching the terminal.
func newRenderer(job kittiraw.Job, cfg kittiraw.Settings) *LiveRenderer {
	lr := &LiveRenderer{
		job:         job,
		cfg:         cfg,
		start:       time.Now(),
		events:      make(chan kittiraw.ProgressEvent, 2048),
		done:        make(chan struct{}),
		entries:     map[string]*entryState{},
		noColor:     os.Getenv("NO_COLOR") != "",
		catalogSize: len(kittiraw.Catalog()),
	}

	lr.maxEntries = job.MaxEntries
	if lr.maxEntries <= 0 {
		lr.maxEntries = kittiraw.DefaultMaxEntries
	}
	lr.seed()
	return lr
}

// seed fills the table with the entries the run is going to visit.
func (lr *LiveRenderer) seed() {
	catalog := kittiraw.Catalog()
	var want map[string]bool
	if len(lr.job.Dates) > 0 {
		want = make(map[string]bool, len(lr.job.Dates))
		for _, d := range lr.job.Dates {
			want[d] = true
		}
	}
	for _, e := range catalog {
		if want != nil && !want[e.Date()] {
			continue
		}
		if len(lr.order) >= lr.maxEntries {
			break
		}
		es := &entryState{name: e.Name, kind: e.Kind, status: "waiting"}
		lr.order = append(lr.order, es)
		lr.entries[e.Name] = es
	}
}

// Close stops the renderer and restores the terminal.
func (lr *LiveRenderer) Close() {
	lr.mu.Lock()
	if lr.stopped {
		lr.mu.Unlock()
		return
	}
	lr.stopped = true
	close(lr.done)
	lr.mu.Unlock()
	// Wait a tick
	time.Sleep(60 * time.Millisecond)
	if lr.hideCur {
		fmt.Fprint(os.Stdout, "\x1b[?25h") // show cursor
	}
	// Final newline to separate from prompt
	fmt.Fprintln(os.Stdout)
}

// Handler returns a ProgressFunc that feeds events to the renderer.
func (lr *LiveRenderer) Handler() kittiraw.ProgressFunc {
	return func(ev kittiraw.ProgressEvent) {
		select {
		case lr.events <- ev:
		default:
			// Drop events if UI is congested; we keep rendering smoothly.
		}
	}
}

func (lr *LiveRenderer) loop() {
	ticker := time.NewTicker(150 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-lr.done:
			lr.render(true)
			return
		case ev := <-lr.events:
			lr.apply(ev)
		case <-ticker.C:
			lr.render(false)
		}
	}
}

func (lr *LiveRenderer) apply(ev kittiraw.ProgressEvent) {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	switch ev.Event {
	case "run_start":
		if ev.Max > 0 {
			lr.maxEntries = ev.Max
		}
	case "entry_skip":
		es := lr.ensure(ev.Entry, ev.Kind)
		es.status = "skip"
		lr.processed = ev.Processed
		lr.skipped++
	case "entry_start":
		es := lr.ensure(ev.Entry, ev.Kind)
		es.status = "downloading"
		if es.started.IsZero() {
			es.started = time.Now()
		}
	case "entry_progress":
		es := lr.ensure(ev.Entry, "")
		if ev.Total > 0 {
			es.total = ev.Total
		}
		if ev.Downloaded > 0 {
			es.bytes = ev.Downloaded
		}
		if es.lastTime.IsZero() {
			es.lastTime = time.Now()
			es.lastBytes = es.bytes
		}
	case "entry_extract":
		es := lr.ensure(ev.Entry, ev.Kind)
		es.status = "extracting"
	case "entry_done":
		es := lr.ensure(ev.Entry, ev.Kind)
		es.status = "done"
		if es.total > 0 {
			es.bytes = es.total
		}
		lr.processed = ev.Processed
		lr.downloaded++
	case "retry":
		// Could record attempts if you want a column
	case "error":
		if ev.Entry != "" {
			es := lr.ensure(ev.Entry, "")
			es.status = "error"
			es.err = ev.Message
		}
	case "done":
		lr.processed = ev.Processed
		lr.summary = ev.Message
	}
}

func (lr *LiveRenderer) ensure(name string, kind kittiraw.Kind) *entryState {
	if es, ok := lr.entries[name]; ok {
		if es.kind == "" {
			es.kind = kind
		}
		return es
	}
	es := &entryState{name: name, kind: kind, status: "waiting"}
	lr.entries[name] = es
	lr.order = append(lr.order, es)
	return es
}

// cfgLine summarizes the run configuration against the full catalog.
func (lr *LiveRenderer) cfgLine() string {
	transport := lr.cfg.Transport
	if transport == "" {
		transport = kittiraw.TransportHTTPS
	}
	return fmt.Sprintf("Transport: %s   Retries: %d   Entries: %d of %d catalogued",
		transport, lr.cfg.Retries, len(lr.order), lr.catalogSize)
}

func (lr *LiveRenderer) render(final bool) {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	// compute size
	w, h := termSize()
	minW := 70
	if w < minW {
		w = minW
	}
	if h < 12 {
		h = 12
	}

	// aggregate downloaded bytes across all entries
	var aggBytes int64
	activeIdx := -1
	for i, es := range lr.order {
		aggBytes += es.bytes
		if activeIdx < 0 && (es.status == "downloading" || es.status == "extracting") {
			activeIdx = i
		}
	}

	// overall speed (EMA smoothed)
	now := time.Now()
	if !lr.lastTick.IsZero() && now.After(lr.lastTick) {
		deltaB := aggBytes - lr.lastTotalBytes
		deltaT := now.Sub(lr.lastTick).Seconds()
		if deltaT > 0.05 { // Only update if enough time passed (50ms min)
			instantSpeed := float64(deltaB) / deltaT
			if instantSpeed >= 0 { // Ignore negative deltas (can happen with rounding)
				lr.smoothedSpeed = smoothSpeed(instantSpeed, lr.smoothedSpeed)
			}
			lr.lastTick = now
			lr.lastTotalBytes = aggBytes
		}
	} else if lr.lastTick.IsZero() {
		lr.lastTick = now
		lr.lastTotalBytes = aggBytes
	}
	speed := lr.smoothedSpeed

	// Clear + render (ANSI) or plain
	if lr.supports {
		// Clear screen and go home
		fmt.Fprint(os.Stdout, "\x1b[H\x1b[2J")
	}

	// Header
	root := lr.job.Root
	if root == "" {
		root = kittiraw.DefaultRoot()
	}
	dates := "all"
	if len(lr.job.Dates) > 0 {
		dates = strings.Join(lr.job.Dates, ",")
	}
	runline := fmt.Sprintf("Root: %s   Dates: %s", root, dates)
	fmt.Fprintln(os.Stdout, colorize(bold(runline), "fg=cyan", lr))
	fmt.Fprintln(os.Stdout, dim(lr.cfgLine()))

	// Totals line with entry-count bar
	prog := float64(0)
	if n := len(lr.order); n > 0 {
		prog = float64(lr.processed) / float64(n)
		if prog > 1 {
			prog = 1
		}
	}
	bar := renderBar(int(float64(w)*0.4), prog) // 40% of width
	speedStr := humanBytes(int64(speed)) + "/s"
	fmt.Fprintf(os.Stdout, "%s  %s  %d/%d entries  %s  %s  elapsed %s\n",
		colorize(bar, "fg=green", lr),
		percent(prog),
		lr.processed, len(lr.order),
		humanBytes(aggBytes),
		speedStr,
		fmtDuration(time.Since(lr.start)),
	)

	// Table header
	fmt.Fprintln(os.Stdout)
	cols := []string{"Status", "Entry", "Progress", "Speed", "ETA"}
	fmt.Fprintln(os.Stdout, headerRow(cols, w))

	// Determine rows to show
	maxRows := h - 8 // header+totals+footer allowance
	if maxRows < 3 {
		maxRows = 3
	}

	// The loop is sequential, so keep catalog order and scroll the
	// window so the active entry stays visible.
	startRow := 0
	if activeIdx >= 0 && activeIdx > maxRows-4 {
		startRow = activeIdx - (maxRows - 4)
	}
	if final && lr.summary != "" {
		// On the final frame show the tail of the table instead.
		if len(lr.order) > maxRows {
			startRow = len(lr.order) - maxRows
		}
	}

	shown := 0
	for _, es := range lr.order[startRow:] {
		if shown >= maxRows {
			break
		}
		fmt.Fprintln(os.Stdout, renderEntryRow(es, w, lr))
		shown++
	}

	if lr.summary != "" {
		fmt.Fprintln(os.Stdout)
		fmt.Fprintln(os.Stdout, colorize(lr.summary, "fg=green", lr))
	}

	// Footer hint
	if lr.supports && !final {
		fmt.Fprintln(os.Stdout, dim(fmt.Sprintf("Press Ctrl+C to cancel • %s %s",
			runtime.GOOS, runtime.GOARCH)))
	}
}

func renderEntryRow(es *entryState, w int, lr *LiveRenderer) string {
	// column widths (adaptive)
	statusW := 13
	speedW := 10
	etaW := 9
	// remaining for entry name + progress
	remain := w - (statusW + speedW + etaW + 8) // gutters
	if remain < 20 {
		remain = 20
	}
	// split for name/progress
	nameW := int(float64(remain) * 0.50)
	if nameW < 18 {
		nameW = 18
	}
	progressW := remain - nameW

	// status
	var st, col string
	switch es.status {
	case "downloading":
		st, col = "▶", "fg=yellow"
	case "extracting":
		st, col = "◈", "fg=cyan"
	case "done":
		st, col = "✓", "fg=green"
	case "skip":
		st, col = "•", "fg=blue"
	case "error":
		st, col = "×", "fg=red"
	default:
		st, col = "…", "fg=magenta"
	}
	status := pad(colorize(st+" "+es.status, col, lr), statusW)

	// entry name
	name := ellipsizeMiddle(es.name, nameW)

	// progress
	var p float64
	if es.total > 0 {
		p = float64(es.bytes) / float64(es.total)
		if p < 0 {
			p = 0
		}
		if p > 1 {
			p = 1
		}
	} else if es.status == "done" || es.status == "skip" {
		p = 1
	}
	bar := renderBar(progressW-18, p) // leave room for numbers
	progTxt := fmt.Sprintf(" %s/%s %s", humanBytes(es.bytes), humanBytes(es.total), percent(p))
	if es.status == "skip" {
		progTxt = " marker present"
	}
	progress := bar + progTxt
	if utf8.RuneCountInString(progress) > progressW {
		// simple cut if needed
		runes := []rune(progress)
		progress = string(runes[:progressW])
	}

	// speed (per-entry, EMA smoothed)
	now := time.Now()
	if !es.lastTime.IsZero() {
		dt := now.Sub(es.lastTime).Seconds()
		if dt > 0.05 { // Only update if enough time passed (50ms min)
			delta := es.bytes - es.lastBytes
			instantSpeed := float64(delta) / dt
			if instantSpeed >= 0 {
				es.smoothedSpeed = smoothSpeed(instantSpeed, es.smoothedSpeed)
			}
			es.lastTime = now
			es.lastBytes = es.bytes
		}
	} else {
		es.lastTime = now
		es.lastBytes = es.bytes
	}
	speed := es.smoothedSpeed
	speedTxt := pad(humanBytes(int64(speed))+"/s", speedW)

	// eta (use smoothed speed for stable ETA)
	eta := "—"
	if speed > 0 && es.total > 0 && es.bytes < es.total && es.status == "downloading" {
		rem := float64(es.total-es.bytes) / speed
		eta = fmtDuration(time.Duration(rem) * time.Second)
	}
	etaTxt := pad(eta, etaW)

	return fmt.Sprintf("%s  %s  %s  %s  %s", status, pad(name, nameW), progress, speedTxt, etaTxt)
}

func headerRow(cols []string, w int) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = bold(c)
	}
	s := strings.Join(parts, "  ")
	if utf8.RuneCountInString(s) > w {
		runes := []rune(s)
		return string(runes[:w])
	}
	return s
}

func ellipsizeMiddle(s string, w int) string {
	if w <= 3 || utf8.RuneCountInString(s) <= w {
		return pad(s, w)
	}
	runes := []rune(s)
	half := (w - 3) / 2
	if 2*half+3 > len(runes) {
		return pad(s, w)
	}
	return pad(string(runes[:half])+"..."+string(runes[len(runes)-half:]), w)
}

func pad(s string, w int) string {
	r := utf8.RuneCountInString(s)
	if r >= w {
		return s
	}
	return s + strings.Repeat(" ", w-r)
}

func renderBar(width int, p float64) string {
	if width < 3 {
		width = 3
	}
	filled := int(p * float64(width))
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func percent(p float64) string {
	return fmt.Sprintf("%3.0f%%", p*100)
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for n/div >= unit && exp < 6 {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func fmtDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func termSize() (int, int) {
	w, h, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 || h <= 0 {
		return 100, 30
	}
	return w, h
}

func isInteractive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func ansiOkay() bool {
	if runtime.GOOS == "windows" {
		// On modern Windows 10+ terminals this is typically fine.
		// Fall back to plain output when TERM=dumb or NO_COLOR set.
	}
	termEnv := strings.ToLower(os.Getenv("TERM"))
	if termEnv == "dumb" {
		return false
	}
	return true
}

func colorize(s, style string, lr *LiveRenderer) string {
	if lr.noColor || !lr.supports {
		return s
	}
	switch style {
	case "fg=green":
		return "\x1b[32m" + s + "\x1b[0m"
	case "fg=yellow":
		return "\x1b[33m" + s + "\x1b[0m"
	case "fg=red":
		return "\x1b[31m" + s + "\x1b[0m"
	case "fg=blue":
		return "\x1b[34m" + s + "\x1b[0m"
	case "fg=magenta":
		return "\x1b[35m" + s + "\x1b[0m"
	case "fg=cyan":
		return "\x1b[36m" + s + "\x1b[0m"
	default:
		return s
	}
}

func bold(s string) string { return "\x1b[1m" + s + "\x1b[0m" }
func dim(s string) string  { return "\x1b[2m" + s + "\x1b[0m" }
