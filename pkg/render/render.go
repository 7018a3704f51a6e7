// Package render wraps the OpenSCAD CLI behind a small adapter: raster
// previews for the convergence loop, geometry exports, and a fast dry-compile
// validate used by the commit gate. All invocations go through a CommandRunner
// so tests can substitute a fake subprocess.
package render

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"chisel/pkg/design"
)

// CommandRunner abstracts subprocess execution for testability.
type CommandRunner interface {
	// Run executes a command and returns its combined stdout+stderr. On
	// failure the output captured so far is still returned for diagnostics.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecCommandRunner implements CommandRunner using os/exec.
type ExecCommandRunner struct{}

// Run executes a command and returns its combined output.
func (r *ExecCommandRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}

// Overrides maps OpenSCAD variables (e.g. "$fn", "num_steps") to values
// applied with -D flags before rendering.
type Overrides map[string]float64

// Quality presets. Preview trades fidelity for speed in the web preview; Eval
// is what the convergence loop feeds the vision model; PNG and Export are full
// fidelity for deliverables.
//
//nolint:gochecknoglobals // fixed preset tables, treated as read-only
var (
	PresetPreview = Overrides{"num_steps": 30, "$fn": 36}
	PresetEval    = Overrides{"num_steps": 50, "$fn": 60}
	PresetPNG     = Overrides{"num_steps": 100, "$fn": 60}
	PresetExport  = Overrides{"num_steps": 100, "$fn": 90}
)

// args renders the overrides as -D flags in deterministic key order.
func (o Overrides) args() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		out = append(out, "-D", k+"="+strconv.FormatFloat(o[k], 'f', -1, 64))
	}
	return out
}

// Merge overlays other on top of o, returning a new map. Nil receivers and
// arguments are fine.
func (o Overrides) Merge(other Overrides) Overrides {
	merged := make(Overrides, len(o)+len(other))
	for k, v := range o {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}

// View is a named standard camera placement.
type View struct {
	Translate [3]float64
	Rotate    [3]float64
	Distance  float64
}

// cameraArg formats the view for --camera=tx,ty,tz,rx,ry,rz,dist.
func (v View) cameraArg() string {
	parts := []float64{
		v.Translate[0], v.Translate[1], v.Translate[2],
		v.Rotate[0], v.Rotate[1], v.Rotate[2],
		v.Distance,
	}
	strs := make([]string, len(parts))
	for i, p := range parts {
		strs[i] = strconv.FormatFloat(p, 'f', -1, 64)
	}
	return strings.Join(strs, ",")
}

// NamedViews maps standard view names to camera placements. Isometric uses
// the conventional (55,0,25) rotation.
//
//nolint:gochecknoglobals // fixed view table, treated as read-only
var NamedViews = map[string]View{
	"front":     {Rotate: [3]float64{0, 0, 0}, Distance: 140},
	"back":      {Rotate: [3]float64{0, 0, 180}, Distance: 140},
	"left":      {Rotate: [3]float64{0, 0, 90}, Distance: 140},
	"right":     {Rotate: [3]float64{0, 0, -90}, Distance: 140},
	"top":       {Rotate: [3]float64{90, 0, 0}, Distance: 140},
	"bottom":    {Rotate: [3]float64{-90, 0, 0}, Distance: 140},
	"isometric": {Rotate: [3]float64{55, 0, 25}, Distance: 140},
}

// DefaultViews are rendered when a multi-view caller names none.
//
//nolint:gochecknoglobals // fixed view list, treated as read-only
var DefaultViews = []string{"isometric", "front", "top"}

// ViewNames returns the valid view names, sorted.
func ViewNames() []string {
	names := make([]string, 0, len(NamedViews))
	for name := range NamedViews {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Defaults for render invocations.
const (
	DefaultTimeout     = 600 * time.Second
	DefaultWidth       = 1024
	DefaultHeight      = 768
	DefaultColorScheme = "Cornfield"

	validateTimeout = 30 * time.Second
)

// Environment variables honored by New.
const (
	EnvBinary  = "OPENSCAD_BINARY"
	EnvTimeout = "OPENSCAD_TIMEOUT"
)

// exportFormats is the allow-list of export extensions the CLI supports.
//
//nolint:gochecknoglobals // fixed format table, treated as read-only
var exportFormats = map[string]bool{
	".stl": true,
	".3mf": true,
	".dxf": true,
	".svg": true,
	".off": true,
	".amf": true,
	".csg": true,
}

// Renderer shells out to the OpenSCAD CLI.
type Renderer struct {
	Binary  string        // resolved executable path
	Timeout time.Duration // budget for full renders and exports
	Runner  CommandRunner
}

// New locates the OpenSCAD binary ($OPENSCAD_BINARY, then PATH) and returns a
// Renderer. $OPENSCAD_TIMEOUT (seconds) overrides the default render budget.
func New() (*Renderer, error) {
	binary := os.Getenv(EnvBinary)
	if binary == "" {
		found, err := exec.LookPath("openscad")
		if err != nil {
			return nil, fmt.Errorf("openscad not found on PATH; install it or set %s", EnvBinary)
		}
		binary = found
	}

	timeout := DefaultTimeout
	if raw := os.Getenv(EnvTimeout); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("invalid %s value %q: want seconds", EnvTimeout, raw)
		}
		timeout = time.Duration(secs) * time.Second
	}

	return &Renderer{Binary: binary, Timeout: timeout, Runner: &ExecCommandRunner{}}, nil
}

// RenderOptions control a PNG render.
type RenderOptions struct {
	Width       int
	Height      int
	Overrides   Overrides
	Camera      *View  // nil = autocenter/viewall framing only
	ColorScheme string // empty = Cornfield
}

// normalize fills zero fields with defaults.
func (o RenderOptions) normalize() RenderOptions {
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.ColorScheme == "" {
		o.ColorScheme = DefaultColorScheme
	}
	return o
}

// RenderPNG renders scadPath to a PNG at outPath. Returns *design.RenderError
// on any failure, including an empty output file.
func (r *Renderer) RenderPNG(ctx context.Context, scadPath, outPath string, opts RenderOptions) error {
	if _, err := os.Stat(scadPath); err != nil {
		return &design.RenderError{Path: scadPath, Diagnostics: "file not found"}
	}
	opts = opts.normalize()

	args := opts.Overrides.args()
	args = append(args,
		"--autocenter",
		"--viewall",
		"--imgsize="+strconv.Itoa(opts.Width)+","+strconv.Itoa(opts.Height),
		"--colorscheme="+opts.ColorScheme,
	)
	if opts.Camera != nil {
		args = append(args, "--camera="+opts.Camera.cameraArg())
	}
	args = append(args, "-o", outPath, scadPath)

	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	out, err := r.Runner.Run(ctx, r.Binary, args...)
	if err != nil {
		return &design.RenderError{Path: scadPath, Diagnostics: diagnostics(out, err)}
	}

	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		return &design.RenderError{Path: scadPath, Diagnostics: "render produced no image: " + string(out)}
	}
	return nil
}

// RenderImage renders scadPath to PNG bytes via a temporary file.
func (r *Renderer) RenderImage(ctx context.Context, scadPath string, opts RenderOptions) ([]byte, error) {
	tmp, err := os.CreateTemp("", "chisel_preview_*.png")
	if err != nil {
		return nil, fmt.Errorf("create preview temp: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := r.RenderPNG(ctx, scadPath, tmpPath, opts); err != nil {
		return nil, err
	}
	png, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("read preview: %w", err)
	}
	return png, nil
}

// ViewImage pairs a named view with its render outcome. PNG is nil when Err
// is set.
type ViewImage struct {
	Name string
	PNG  []byte
	Err  error
}

// MultiView renders the named standard views of scadPath. Unknown view names
// fail the whole call; individual render failures are reported per entry so
// callers can use the successful subset.
func (r *Renderer) MultiView(ctx context.Context, scadPath string, names []string, opts RenderOptions) ([]ViewImage, error) {
	if len(names) == 0 {
		names = DefaultViews
	}
	for _, name := range names {
		if _, ok := NamedViews[name]; !ok {
			return nil, fmt.Errorf("unknown view %q: valid views are %s", name, strings.Join(ViewNames(), ", "))
		}
	}

	images := make([]ViewImage, 0, len(names))
	for _, name := range names {
		view := NamedViews[name]
		viewOpts := opts
		viewOpts.Camera = &view
		png, err := r.RenderImage(ctx, scadPath, viewOpts)
		images = append(images, ViewImage{Name: name, PNG: png, Err: err})
	}
	return images, nil
}

// Export renders scadPath to a geometry file at outPath. The format is
// inferred from outPath's extension and checked against the CLI's allow-list.
func (r *Renderer) Export(ctx context.Context, scadPath, outPath string, overrides Overrides) error {
	ext := strings.ToLower(filepath.Ext(outPath))
	if !exportFormats[ext] {
		return fmt.Errorf("unsupported export format %q: supported are %s", ext, supportedFormats())
	}
	if _, err := os.Stat(scadPath); err != nil {
		return &design.RenderError{Path: scadPath, Diagnostics: "file not found"}
	}

	args := overrides.args()
	args = append(args, "-o", outPath, scadPath)

	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	out, err := r.Runner.Run(ctx, r.Binary, args...)
	if err != nil {
		return &design.RenderError{Path: scadPath, Diagnostics: diagnostics(out, err)}
	}
	if _, err := os.Stat(outPath); err != nil {
		return &design.RenderError{Path: scadPath, Diagnostics: "export produced no file: " + string(out)}
	}
	return nil
}

// Validate dry-compiles scadPath using the echo export format, which parses
// and evaluates the source without producing geometry. It returns the WARNING
// lines as diagnostics on success, and *design.ValidateError when the compile
// fails or emits ERROR lines.
func (r *Renderer) Validate(ctx context.Context, scadPath string) (string, error) {
	if _, err := os.Stat(scadPath); err != nil {
		return "", &design.ValidateError{Path: scadPath, Diagnostics: "file not found"}
	}

	tmp, err := os.CreateTemp("", "chisel_validate_*.echo")
	if err != nil {
		return "", fmt.Errorf("create validate temp: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	out, runErr := r.Runner.Run(ctx, r.Binary, "-o", tmpPath, "--export-format", "echo", scadPath)

	// OpenSCAD sometimes writes diagnostics into the echo output instead of
	// stderr, so scan both.
	combined := string(out)
	if echoed, err := os.ReadFile(tmpPath); err == nil {
		combined += string(echoed)
	}

	warnings, errLines := scanDiagnostics(combined)
	if runErr != nil || len(errLines) > 0 {
		diag := strings.Join(errLines, "\n")
		if diag == "" {
			diag = diagnostics(out, runErr)
		}
		return strings.Join(warnings, "\n"), &design.ValidateError{Path: scadPath, Diagnostics: diag}
	}
	return strings.Join(warnings, "\n"), nil
}

// Version reports the installed OpenSCAD version string.
func (r *Renderer) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	out, err := r.Runner.Run(ctx, r.Binary, "--version")
	if err != nil {
		return "", fmt.Errorf("openscad version: %w", err)
	}
	return strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0]), nil
}

// scanDiagnostics splits compiler output into WARNING and ERROR lines,
// case-insensitively.
func scanDiagnostics(output string) (warnings, errors []string) {
	for _, line := range strings.Split(output, "\n") {
		upper := strings.ToUpper(line)
		switch {
		case strings.Contains(upper, "ERROR"):
			errors = append(errors, strings.TrimSpace(line))
		case strings.Contains(upper, "WARNING"):
			warnings = append(warnings, strings.TrimSpace(line))
		}
	}
	return warnings, errors
}

// diagnostics flattens runner output and error into one string.
func diagnostics(out []byte, err error) string {
	text := strings.TrimSpace(string(out))
	if err == nil {
		return text
	}
	if text == "" {
		return err.Error()
	}
	return err.Error() + "\n" + text
}

// supportedFormats lists the export allow-list, sorted.
func supportedFormats() string {
	formats := make([]string, 0, len(exportFormats))
	for ext := range exportFormats {
		formats = append(formats, ext)
	}
	sort.Strings(formats)
	return strings.Join(formats, ", ")
}
