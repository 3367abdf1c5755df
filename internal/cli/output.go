package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/liangyou/devkit/internal/version"
	"github.com/liangyou/devkit/pkg/models"
)

// Result 是 --json 模式下的统一输出结构。
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Code    int    `json:"code,omitempty"`
}

const (
	exitOK      = 0
	exitGeneric = 1
	exitUsage   = 2
)

var kindCodes = map[models.ErrorKind]int{
	models.ErrNotInstalled:        10,
	models.ErrAlreadyInstalling:   11,
	models.ErrIsCurrent:           12,
	models.ErrNoSuchCandidate:     13,
	models.ErrNoVersionsAvailable: 14,
	models.ErrNetworkUnavailable:  15,
	models.ErrCorruptArchive:      16,
	models.ErrInstallIncomplete:   17,
	models.ErrRegistryLocked:      18,
	models.ErrNoneInstalled:       19,
	models.ErrNotFound:            20,
	models.ErrNoSession:           21,
	models.ErrAlreadyInstalled:    22,
}

// ExitCode 把错误映射为进程退出码。
func ExitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ue usageError
	if errors.As(err, &ue) {
		return exitUsage
	}
	if code, ok := kindCodes[models.KindOf(err)]; ok {
		return code
	}
	return exitGeneric
}

// usageError 标记参数或标志错误。
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

// ReportError 输出错误：--json 时写 JSON 结果到 out，否则写 "Error: ..." 到 errOut。
func (a *App) ReportError(err error) {
	if err == nil {
		return
	}
	if a.jsonMode {
		a.writeJSON(Result{Success: false, Error: err.Error(), Kind: string(models.KindOf(err)), Code: ExitCode(err)})
		return
	}
	fmt.Fprintf(a.errOut, "Error: %v\n", err)
	var ue usageError
	if errors.As(err, &ue) {
		fmt.Fprintln(a.errOut, "Run 'devkit --help' for usage.")
	}
}

// print 在 JSON 模式下输出 data，否则调用 textFn。
func (a *App) print(data any, textFn func()) {
	if a.jsonMode {
		a.writeJSON(Result{Success: true, Data: data})
		return
	}
	textFn()
}

// notice 输出给人看的提示；JSON 模式下不输出。
func (a *App) notice(format string, args ...any) {
	if a.jsonMode {
		return
	}
	fmt.Fprintf(a.errOut, format+"\n", args...)
}

func (a *App) writeJSON(r Result) {
	out, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		fmt.Fprintf(a.errOut, "Error: encode result: %v\n", err)
		return
	}
	fmt.Fprintln(a.out, string(out))
}

// styles 只作用于 list 输出的标记，非终端输出时 lipgloss 不输出转义序列。
type styles struct {
	current lipgloss.Style
	local   lipgloss.Style
	dim     lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		current: r.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		local:   r.NewStyle().Foreground(lipgloss.Color("12")),
		dim:     r.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

func (a *App) renderListing(item version.Listing) string {
	line := version.FormatListing(item)
	switch {
	case item.Current:
		return a.styles.current.Render(line)
	case item.Local:
		return a.styles.local.Render(line)
	case !item.Installed:
		return a.styles.dim.Render(line)
	default:
		return line
	}
}

// Progress 返回在终端上刷新下载进度的回调；f 不是终端时返回 nil。
func Progress(f *os.File) version.ProgressFunc {
	if f == nil || !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	return newProgressLine(f, 100*time.Millisecond)
}

func newProgressLine(w io.Writer, interval time.Duration) version.ProgressFunc {
	var (
		mu   sync.Mutex
		last time.Time
	)
	return func(downloaded, total int64) {
		mu.Lock()
		defer mu.Unlock()
		done := total > 0 && downloaded >= total
		if !done && time.Since(last) < interval {
			return
		}
		last = time.Now()
		if total > 0 {
			fmt.Fprintf(w, "\rDownloading... %3d%% (%s/%s)", downloaded*100/total, humanBytes(downloaded), humanBytes(total))
		} else {
			fmt.Fprintf(w, "\rDownloading... %s", humanBytes(downloaded))
		}
		if done {
			fmt.Fprintln(w)
		}
	}
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
