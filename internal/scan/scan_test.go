package scan

import (
	"reflect"
	"strings"
	"testing"
)

func TestScanImports(t *testing.T) {
	tests := []struct {
		name string
		code string
		want []Import
	}{
		{
			name: "default import",
			code: `import App from "./app";`,
			want: []Import{{Specifier: "./app", Kind: Static, Start: 0, End: 6}},
		},
		{
			name: "named and namespace",
			code: "import {a, b as c} from './x'\nimport * as ns from 'y'",
			want: []Import{
				{Specifier: "./x", Kind: Static, Start: 0, End: 6},
				{Specifier: "y", Kind: Static, Start: 30, End: 36},
			},
		},
		{
			name: "side effect",
			code: `import "./styles.css"`,
			want: []Import{{Specifier: "./styles.css", Kind: Static, Start: 0, End: 6}},
		},
		{
			name: "require",
			code: `const x = require('lodash')`,
			want: []Import{{Specifier: "lodash", Kind: Require, Start: 10, End: 17}},
		},
		{
			name: "dynamic",
			code: `load(() => import("./page"))`,
			want: []Import{{Specifier: "./page", Kind: Dynamic, Start: 11, End: 17}},
		},
		{
			name: "dynamic with template literal",
			code: "import(`./lazy`)",
			want: []Import{{Specifier: "./lazy", Kind: Dynamic, Start: 0, End: 6}},
		},
		{
			name: "re-export",
			code: `export { x } from "./x"`,
			want: []Import{{Specifier: "./x", Kind: Static, Start: 0, End: 6}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Scan([]byte(tt.code)).Imports
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Scan(%q) imports = %+v, want %+v", tt.code, got, tt.want)
			}
		})
	}
}

func TestScanIgnoresNonCode(t *testing.T) {
	tests := []struct {
		name string
		code string
	}{
		{"line comment", `// import x from "nope"`},
		{"block comment", `/* require("nope") */`},
		{"string", `const s = "import x from 'nope'"`},
		{"template", "const s = `require('nope')`"},
		{"regexp", `const re = /import("nope")/g`},
		{"member call", `loader.require("nope")`},
		{"computed dynamic import", `import(name)`},
		{"template with substitution", "import(`./pages/${name}`)"},
		{"import meta", `console.log(import.meta.url)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Scan([]byte(tt.code)).Imports; len(got) != 0 {
				t.Fatalf("Scan(%q) imports = %+v, want none", tt.code, got)
			}
		})
	}
}

func TestScanExportThenDynamicImport(t *testing.T) {
	code := "export { a }\nimport(\"./later\")\n"
	res := Scan([]byte(code))
	if len(res.Imports) != 1 || res.Imports[0].Kind != Dynamic || res.Imports[0].Specifier != "./later" {
		t.Fatalf("imports = %+v, want one dynamic ./later", res.Imports)
	}
	if got := code[res.Imports[0].Start:res.Imports[0].End]; got != "import" {
		t.Fatalf("span covers %q, want import keyword", got)
	}
	if !reflect.DeepEqual(res.Exports, []string{"a"}) {
		t.Fatalf("exports = %v", res.Exports)
	}
}

func TestScanExports(t *testing.T) {
	code := strings.Join([]string{
		`export const answer = 42`,
		`export let counter = 0`,
		`export function render() {}`,
		`export async function load() {}`,
		`export class Widget {}`,
		`export default Widget`,
		`export { a, b as renamed }`,
		`export * as helpers from "./helpers"`,
		`exports.legacy = 1`,
		`module.exports.other = 2`,
	}, "\n")
	res := Scan([]byte(code))
	// sorted bytewise, so upper case first
	want := []string{"Widget", "a", "answer", "counter", "default", "helpers", "legacy", "load", "other", "renamed", "render"}
	if !reflect.DeepEqual(res.Exports, want) {
		t.Fatalf("exports = %v, want %v", res.Exports, want)
	}
	if got := res.Specifiers(); !reflect.DeepEqual(got, []string{"./helpers"}) {
		t.Fatalf("specifiers = %v", got)
	}
}

func TestScanModuleExportsIsDefault(t *testing.T) {
	res := Scan([]byte("module.exports = function () {}"))
	if !reflect.DeepEqual(res.Exports, []string{"default"}) {
		t.Fatalf("exports = %v, want [default]", res.Exports)
	}
}

func TestSpecifiersDeduplicates(t *testing.T) {
	code := "import a from './a'\nconst b = require('./a')\nimport('./b')\n"
	got := Scan([]byte(code)).Specifiers()
	if !reflect.DeepEqual(got, []string{"./a", "./b"}) {
		t.Fatalf("specifiers = %v", got)
	}
}

func TestKindString(t *testing.T) {
	for k, want := range map[Kind]string{Static: "static", Require: "require", Dynamic: "dynamic", Kind(9): "unknown"} {
		if got := k.String(); got != want {
			t.Fatalf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
