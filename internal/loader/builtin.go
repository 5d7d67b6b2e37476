package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/tidwall/jsonc"

	"quire/internal/project"
)

func builtins(opts Options) []Stage {
	return []Stage{
		newBabelStage(opts.Define),
		cssStage{},
		styleStage{},
		jsonStage{},
		rawStage{},
		assetStage{publicPath: opts.PublicPath},
	}
}

// babelStage compiles modern JavaScript, JSX and TypeScript down to CommonJS
// modules and substitutes compile-time constants.
type babelStage struct {
	define      map[string]string
	fingerprint string
}

func newBabelStage(define map[string]string) *babelStage {
	keys := make([]string, 0, len(define))
	for k := range define {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(define[k])
		b.WriteByte(0)
	}
	fp := ""
	if len(keys) > 0 {
		fp = project.HashBytes([]byte(b.String())).Short(12)
	}
	return &babelStage{define: define, fingerprint: fp}
}

func (*babelStage) Name() string { return "babel" }

func (s *babelStage) Fingerprint() string { return s.fingerprint }

func (s *babelStage) Transform(_ context.Context, src *Source) error {
	if src.Lang != LangJS {
		return fmt.Errorf("cannot compile %s input", src.Lang)
	}
	res := api.Transform(string(src.Code), api.TransformOptions{
		Loader:     esbuildLoader(src.Path),
		Format:     api.FormatCommonJS,
		Target:     api.ES2020,
		Define:     s.define,
		Sourcefile: filepath.Base(src.Path),
	})
	if len(res.Errors) > 0 {
		return messagesError(res.Errors)
	}
	src.Code = res.Code
	return nil
}

func esbuildLoader(p string) api.Loader {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".ts", ".mts", ".cts":
		return api.LoaderTS
	case ".tsx":
		return api.LoaderTSX
	default:
		// plain .js files routinely carry JSX
		return api.LoaderJSX
	}
}

// messagesError turns esbuild diagnostics into one error.
func messagesError(msgs []api.Message) error {
	errs := make([]error, 0, len(msgs))
	for _, m := range msgs {
		if m.Location != nil {
			errs = append(errs, fmt.Errorf("%s:%d:%d: %s", m.Location.File, m.Location.Line, m.Location.Column, m.Text))
			continue
		}
		errs = append(errs, errors.New(m.Text))
	}
	return errors.Join(errs...)
}

type jsonStage struct{}

func (jsonStage) Name() string { return "json" }

func (jsonStage) Transform(_ context.Context, src *Source) error {
	data := jsonc.ToJSON(src.Code)
	if !json.Valid(data) {
		return errors.New("invalid JSON")
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	compact, err := json.Marshal(v)
	if err != nil {
		return err
	}
	src.Code = []byte("module.exports = " + string(compact) + ";\n")
	src.Lang = LangJS
	return nil
}

type rawStage struct{}

func (rawStage) Name() string { return "raw" }

func (rawStage) Transform(_ context.Context, src *Source) error {
	src.Code = []byte("module.exports = " + jsQuote(string(src.Code)) + ";\n")
	src.Lang = LangJS
	return nil
}

// assetStage emits the file as assets/<hash><ext> and exports its URL.
type assetStage struct {
	publicPath string
}

func (assetStage) Name() string { return "asset" }

func (s assetStage) Fingerprint() string { return s.publicPath }

func (s assetStage) Transform(_ context.Context, src *Source) error {
	name := AssetName(src.Path, src.Code)
	src.Assets = append(src.Assets, Asset{Name: name, Data: append([]byte(nil), src.Code...)})
	src.Code = []byte("module.exports = " + jsQuote(PublicURL(s.publicPath, name)) + ";\n")
	src.Lang = LangJS
	return nil
}

// AssetName is the output-relative name of an asset with the given content.
func AssetName(p string, data []byte) string {
	return path.Join("assets", project.HashBytes(data).Short(8)+strings.ToLower(filepath.Ext(p)))
}

// PublicURL joins the configured public path and an output-relative name.
func PublicURL(publicPath, name string) string {
	if publicPath == "" {
		return name
	}
	return strings.TrimSuffix(publicPath, "/") + "/" + name
}
