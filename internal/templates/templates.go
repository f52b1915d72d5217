// Package templates renders alert emails from named templates.
//
// A template named "x" is the file x.txt.tmpl, whose first "Subject:" line
// becomes the subject. An optional x.html.tmpl provides the HTML body.
// Built-in templates are embedded; files in an override directory replace
// built-ins with the same name.
package templates

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
)

const (
	textSuffix = ".txt.tmpl"
	htmlSuffix = ".html.tmpl"

	// DefaultSubject is used when a template has no Subject line.
	DefaultSubject = "Driver Alert Notification"

	// TimestampLayout formats the timestamp variables.
	TimestampLayout = "2006-01-02 15:04:05"

	maxValueLen = 1000
)

// ErrUnknownTemplate is returned by Render for names with no text template.
var ErrUnknownTemplate = errors.New("template not found")

//go:embed files/*.tmpl
var builtin embed.FS

// Content is a rendered email.
type Content struct {
	Subject  string
	Body     string
	HTMLBody string
}

// Engine holds the parsed templates. It is safe for concurrent use.
type Engine struct {
	text map[string]*template.Template
	html map[string]*htmltemplate.Template
	now  func() time.Time
}

type options struct {
	dir string
	now func() time.Time
}

// Option configures an Engine.
type Option func(*options)

// WithDir adds an override directory.
func WithDir(dir string) Option {
	return func(o *options) { o.dir = dir }
}

// WithClock replaces the time source for the timestamp default.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New parses the built-in templates and, if set, the override directory.
func New(opts ...Option) (*Engine, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{
		text: make(map[string]*template.Template),
		html: make(map[string]*htmltemplate.Template),
		now:  o.now,
	}

	sub, err := fs.Sub(builtin, "files")
	if err != nil {
		return nil, err
	}
	if err := e.load(sub); err != nil {
		return nil, fmt.Errorf("failed to load built-in templates: %w", err)
	}

	if o.dir != "" {
		if err := e.load(os.DirFS(o.dir)); err != nil {
			return nil, fmt.Errorf("failed to load templates from %s: %w", o.dir, err)
		}
		slog.Info("loaded template overrides", "dir", o.dir)
	}
	return e, nil
}

func (e *Engine) load(fsys fs.FS) error {
	paths, err := fs.Glob(fsys, "*.tmpl")
	if err != nil {
		return err
	}
	for _, path := range paths {
		raw, err := fs.ReadFile(fsys, path)
		if err != nil {
			return err
		}
		switch {
		case strings.HasSuffix(path, htmlSuffix):
			name := strings.TrimSuffix(path, htmlSuffix)
			t, err := htmltemplate.New(name).Option("missingkey=zero").Funcs(sprig.HtmlFuncMap()).Parse(string(raw))
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			e.html[name] = t
		case strings.HasSuffix(path, textSuffix):
			name := strings.TrimSuffix(path, textSuffix)
			t, err := template.New(name).Option("missingkey=zero").Funcs(sprig.TxtFuncMap()).Parse(string(raw))
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			e.text[name] = t
		}
	}
	return nil
}

// Names returns the renderable template names, sorted.
func (e *Engine) Names() []string {
	return slices.Sorted(maps.Keys(e.text))
}

// Has reports whether name can be rendered.
func (e *Engine) Has(name string) bool {
	_, ok := e.text[name]
	return ok
}

// Render executes the named template. Values are sanitised and missing
// common variables get placeholder defaults.
func (e *Engine) Render(name string, data map[string]any) (Content, error) {
	t, ok := e.text[name]
	if !ok {
		return Content{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}

	vars := e.defaults()
	maps.Copy(vars, Sanitize(data))

	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return Content{}, fmt.Errorf("failed to render template %q: %w", name, err)
	}
	c := Content{}
	c.Subject, c.Body = splitSubject(buf.String())

	if ht, ok := e.html[name]; ok {
		buf.Reset()
		if err := ht.Execute(&buf, vars); err != nil {
			return Content{}, fmt.Errorf("failed to render HTML template %q: %w", name, err)
		}
		_, c.HTMLBody = splitSubject(buf.String())
	}
	return c, nil
}

func (e *Engine) defaults() map[string]string {
	return map[string]string{
		"timestamp":         e.now().Format(TimestampLayout),
		"user_name":         "User",
		"alert_type":        "Alert",
		"heart_rate":        "N/A",
		"oxygen_saturation": "N/A",
		"system_name":       "Driver Assistant System",
	}
}

// Sanitize converts data to template strings. Markup characters are removed
// from strings, nil becomes "N/A" and every value is capped at 1000 characters.
func Sanitize(data map[string]any) map[string]string {
	out := make(map[string]string, len(data))
	for k, v := range data {
		var s string
		switch val := v.(type) {
		case nil:
			s = "N/A"
		case string:
			s = stripMarkup.Replace(val)
		case time.Time:
			s = val.Format(TimestampLayout)
		default:
			s = fmt.Sprint(val)
		}
		out[k] = truncate(s, maxValueLen)
	}
	return out
}

var stripMarkup = strings.NewReplacer("<", "", ">", "", `"`, "", "'", "")

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// splitSubject takes the first "Subject:" line as the subject and the rest
// as the body. Without one, the whole text is the body.
func splitSubject(rendered string) (string, string) {
	lines := strings.Split(strings.TrimSpace(rendered), "\n")
	for i, line := range lines {
		if rest, ok := strings.CutPrefix(line, "Subject:"); ok {
			return strings.TrimSpace(rest), strings.TrimSpace(strings.Join(lines[i+1:], "\n"))
		}
	}
	return DefaultSubject, strings.TrimSpace(strings.Join(lines, "\n"))
}
