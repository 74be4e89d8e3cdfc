// Package scaffold implements the Scaffold Provider (C17, spec §4.17): a
// deterministic function from {workflowName, workflowClassName,
// workflowCode, metadata} to the set of non-code project files
// (wrangler.jsonc, README.md, and the file-tree/dependency/protected-path
// bookkeeping a session needs around them). Grounded on the templating
// pattern other agent-builder repos in the corpus use for generated
// project READMEs (other_examples' AgenticGoKit project_readme template),
// adapted to gonja's Jinja2-compatible engine (already in the module's
// dependency set) instead of text/template, and on tidwall/jsonc+gjson+
// sjson for structural edits to the wrangler.jsonc config the teacher's
// own stack already uses for JSON/JSONC patching (internal/tool's package.json
// sync).
package scaffold

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/nikolalohinski/gonja"
	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"
	"github.com/tidwall/sjson"

	"github.com/sessionagent/runtime/pkg/types"
)

// Output is what Build/Regenerate return: the full deterministic file set
// plus the bookkeeping the rest of the runtime needs around it.
type Output struct {
	AllFiles       []types.FileRecord
	FileTree       []string
	Deps           []string
	ImportantFiles []string
	DontTouchFiles []string
}

// workflowClassPattern matches `export class <Name> extends WorkflowEntrypoint`.
var workflowClassPattern = regexp.MustCompile(`export\s+class\s+(\w+)\s+extends\s+WorkflowEntrypoint`)

const defaultWorkflowClassName = "MyWorkflow"

// Provider is the Scaffold Provider: a deterministic, side-effect-free
// generator of non-code project files.
type Provider struct {
	baseFiles map[string]string // template-rendered scaffold files keyed by path, minus wrangler.jsonc/README.md which are built specially
}

// New builds a Scaffold Provider. baseFiles are extra static scaffold
// files (tsconfig.json, package.json, .gitignore, ...) copied verbatim
// into every project; they may be empty.
func New(baseFiles map[string]string) *Provider {
	return &Provider{baseFiles: baseFiles}
}

// Build produces the full scaffold for a brand-new workflow project.
func (p *Provider) Build(workflowName string, metadata types.WorkflowMetadata, workflowCode string) (Output, error) {
	return p.render(workflowName, metadata, workflowCode)
}

// Regenerate rebuilds the scaffold's derived files (wrangler.jsonc,
// README.md) from updated metadata/code, called by the workflow
// controller (C11) after each successful generation dialogue. It
// satisfies workflow.ScaffoldRegenerator; ctx is unused because rendering
// is pure and local, but kept in the signature for interface-call-site
// symmetry with the controller's other collaborators.
func (p *Provider) Regenerate(ctx context.Context, metadata types.WorkflowMetadata, workflowCode string) ([]types.FileRecord, error) {
	name := metadata.Name
	if name == "" {
		name = defaultWorkflowClassName
	}
	out, err := p.render(name, metadata, workflowCode)
	if err != nil {
		return nil, err
	}
	return out.AllFiles, nil
}

func (p *Provider) render(workflowName string, metadata types.WorkflowMetadata, workflowCode string) (Output, error) {
	className := deriveWorkflowClassName(workflowCode)

	wrangler, err := buildWranglerJSONC(workflowName, className, metadata)
	if err != nil {
		return Output{}, fmt.Errorf("scaffold: build wrangler.jsonc: %w", err)
	}
	readme, err := buildReadme(workflowName, className, metadata)
	if err != nil {
		return Output{}, fmt.Errorf("scaffold: build README.md: %w", err)
	}

	files := []types.FileRecord{
		{FilePath: "wrangler.jsonc", FileContents: wrangler, FilePurpose: "Cloudflare Workers/Workflows deployment configuration"},
		{FilePath: "README.md", FileContents: readme, FilePurpose: "Generated project documentation"},
	}
	for path, contents := range p.baseFiles {
		files = append(files, types.FileRecord{FilePath: path, FileContents: contents})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].FilePath < files[j].FilePath })

	tree := make([]string, 0, len(files)+1)
	tree = append(tree, types.WorkflowEntrySourcePath)
	for _, f := range files {
		tree = append(tree, f.FilePath)
	}
	sort.Strings(tree)

	return Output{
		AllFiles:       files,
		FileTree:       tree,
		Deps:           []string{"wrangler", "@cloudflare/workers-types"},
		ImportantFiles: []string{types.WorkflowEntrySourcePath, "wrangler.jsonc"},
		DontTouchFiles: []string{"wrangler.jsonc", "package.json", "tsconfig.json"},
	}, nil
}

// MatchesDontTouch reports whether path is protected from LLM writes under
// the scaffold's dontTouchFiles glob set (bmatcuk/doublestar patterns).
func (o Output) MatchesDontTouch(path string) bool {
	for _, pattern := range o.DontTouchFiles {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
	}
	return false
}

// deriveWorkflowClassName matches `export class <Name> extends
// WorkflowEntrypoint` in the generated source, defaulting to MyWorkflow
// per spec §4.17.
func deriveWorkflowClassName(code string) string {
	m := workflowClassPattern.FindStringSubmatch(code)
	if len(m) < 2 {
		return defaultWorkflowClassName
	}
	return m[1]
}

// bindingSections maps each resource kind to its wrangler.jsonc section
// name (spec §4.17).
var bindingSections = map[types.BindingKind]string{
	types.BindingKindKV:    "kv_namespaces",
	types.BindingKindR2:    "r2_buckets",
	types.BindingKindD1:    "d1_databases",
	types.BindingKindQueue: "queues.producers",
	types.BindingKindAI:    "ai",
}

// buildWranglerJSONC renders wrangler.jsonc by patching a minimal base
// document with sjson, keeping the existing-config-plus-patches idiom the
// rest of the module uses for JSON/JSONC edits rather than re-marshaling
// a struct (which would drop comments the file format allows).
func buildWranglerJSONC(workflowName, className string, metadata types.WorkflowMetadata) (string, error) {
	name := workflowName
	if metadata.Name != "" {
		name = metadata.Name
	}

	base := `{
  // Generated by the scaffold provider; bindings below are derived from
  // workflow metadata and regenerated on every successful build.
  "name": "",
  "main": "src/index.ts",
  "compatibility_date": "2024-09-23",
  "workflows": []
}`
	doc := string(jsonc.ToJSON([]byte(base)))

	var err error
	doc, err = sjson.Set(doc, "name", name)
	if err != nil {
		return "", err
	}
	doc, err = sjson.Set(doc, "workflows.0.name", name)
	if err != nil {
		return "", err
	}
	doc, err = sjson.Set(doc, "workflows.0.binding", "WORKFLOW")
	if err != nil {
		return "", err
	}
	doc, err = sjson.Set(doc, "workflows.0.class_name", className)
	if err != nil {
		return "", err
	}

	// env vars become wrangler [vars]; secrets are declared as placeholders
	// (actual values are pushed out-of-band via `wrangler secret put`).
	varNames := sortedKeys(metadata.EnvVars)
	for _, k := range varNames {
		doc, err = sjson.Set(doc, "vars."+k, metadata.EnvVars[k])
		if err != nil {
			return "", err
		}
	}

	resourceNames := sortedResourceKeys(metadata.Resources)
	for _, name := range resourceNames {
		binding := metadata.Resources[name]
		section, ok := bindingSections[binding.Kind]
		if !ok {
			continue
		}
		idx := nextArrayIndex(doc, section)
		doc, err = sjson.Set(doc, fmt.Sprintf("%s.%d.binding", section, idx), name)
		if err != nil {
			return "", err
		}
		switch binding.Kind {
		case types.BindingKindKV:
			doc, err = sjson.Set(doc, fmt.Sprintf("%s.%d.id", section, idx), binding.ResourceID)
		case types.BindingKindR2:
			doc, err = sjson.Set(doc, fmt.Sprintf("%s.%d.bucket_name", section, idx), binding.ResourceID)
		case types.BindingKindD1:
			doc, err = sjson.Set(doc, fmt.Sprintf("%s.%d.database_id", section, idx), binding.ResourceID)
		case types.BindingKindQueue:
			doc, err = sjson.Set(doc, fmt.Sprintf("%s.%d.queue", section, idx), binding.ResourceID)
		case types.BindingKindAI:
			doc, err = sjson.Set(doc, fmt.Sprintf("%s.%d.binding", section, idx), name)
		}
		if err != nil {
			return "", err
		}
	}

	if len(metadata.Secrets) > 0 {
		doc, err = sjson.Set(doc, "_secretsDeclared", sortedKeys(metadata.Secrets))
		if err != nil {
			return "", err
		}
	}

	return doc, nil
}

// readmeTemplate is the gonja (Jinja2-compatible) template for the
// generated project README. Parameter and binding tables are rendered
// from metadata; no section depends on anything outside it, keeping
// Build/Regenerate deterministic for equal inputs.
const readmeTemplate = `# {{ name }}

{{ description }}

## Parameters

{% if has_params %}
This workflow accepts a JSON params object on trigger; see {{ params_schema_note }}.
{% else %}
This workflow takes no declared parameters.
{% endif %}

## Environment variables

{% for row in env_rows %}
- ` + "`{{ row }}`" + `
{% endfor %}

## Bindings

{% for row in binding_rows %}
- {{ row }}
{% endfor %}

## Run locally

` + "```bash\nwrangler dev\n```" + `

## Deploy

` + "```bash\nwrangler deploy\n```" + `
`

func buildReadme(workflowName, className string, metadata types.WorkflowMetadata) (string, error) {
	name := workflowName
	if metadata.Name != "" {
		name = metadata.Name
	}
	description := metadata.Description
	if description == "" {
		description = fmt.Sprintf("A Cloudflare Workflow (%s).", className)
	}

	envRows := make([]string, 0, len(metadata.EnvVars))
	for _, k := range sortedKeys(metadata.EnvVars) {
		envRows = append(envRows, k)
	}

	bindingRows := make([]string, 0, len(metadata.Resources))
	for _, k := range sortedResourceKeys(metadata.Resources) {
		b := metadata.Resources[k]
		bindingRows = append(bindingRows, fmt.Sprintf("%s (%s)", b.Name, b.Kind))
	}

	tpl, err := gonja.FromString(readmeTemplate)
	if err != nil {
		return "", err
	}
	out, err := tpl.Execute(gonja.Context{
		"name":                name,
		"description":         description,
		"has_params":          len(metadata.ParamsSchema) > 0,
		"params_schema_note":  "the paramsSchema declared via configure_workflow_metadata",
		"env_rows":            envRows,
		"binding_rows":        bindingRows,
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedResourceKeys(m map[string]types.Binding) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// nextArrayIndex returns the length of the array at path in doc (0 if
// absent), so repeated bindings of the same kind append rather than
// overwrite one another.
func nextArrayIndex(doc, path string) int {
	result := gjson.Get(doc, path)
	if !result.IsArray() {
		return 0
	}
	return len(result.Array())
}
