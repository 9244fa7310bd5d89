package project

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/afwm/CCBP-pub/internal/engine"
	"github.com/afwm/CCBP-pub/internal/infrastructure"
)

const (
	// MetaInfoFile carries the material declarations and project name.
	MetaInfoFile = "draft_meta_info.json"
	// DraftInfoFile carries the timeline (tracks, segments, texts).
	DraftInfoFile = "draft_info.json"
)

// Handler owns the two JSON documents of one generated project
// directory for the duration of a row's processing.
type Handler struct {
	dir    string
	meta   any
	draft  any
	logger *slog.Logger
}

// Open loads both project documents from dir.
func Open(dir string, logger *slog.Logger) (*Handler, error) {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	h := &Handler{
		dir:    dir,
		logger: logger.With(slog.String("component", "project"), slog.String("dir", dir)),
	}

	var err error
	if h.meta, err = loadJSON(filepath.Join(dir, MetaInfoFile)); err != nil {
		return nil, err
	}
	if h.draft, err = loadJSON(filepath.Join(dir, DraftInfoFile)); err != nil {
		return nil, err
	}
	return h, nil
}

func loadJSON(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project file %s: %w", path, err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse project file %s: %w", path, err)
	}
	return doc, nil
}

// TemplateName extracts the originating template's name from the
// draft_fold_path recorded in the meta document.
func (h *Handler) TemplateName() string {
	meta, ok := h.meta.(map[string]any)
	if !ok {
		return "UnknownTemplate"
	}
	foldPath, _ := meta["draft_fold_path"].(string)
	if foldPath == "" {
		return "UnknownTemplate"
	}
	// draft_fold_path may use either separator regardless of the host OS.
	if name := lastPathElement(foldPath); name != "" {
		return name
	}
	return "UnknownTemplate"
}

// SetName updates draft_name in the meta document. It reports false
// when the key is absent, which means the meta file is not a CapCut
// draft we understand.
func (h *Handler) SetName(name string) bool {
	meta, ok := h.meta.(map[string]any)
	if !ok {
		return false
	}
	if _, exists := meta["draft_name"]; !exists {
		return false
	}
	meta["draft_name"] = name
	return true
}

// BuildMaterialMap resolves every material declared in the meta
// document to its final path and registers the result under all keys
// the engine's lookup methods can derive.
//
// Path resolution priority per material: CSV override found under the
// change-material tree, then the template material directory, then the
// original path unchanged. CSV columns that are not material overrides
// are added as plain text values afterwards, never overwriting a path.
func (h *Handler) BuildMaterialMap(csvRow map[string]string, templateBase, changeBase string) map[string]string {
	materialMap := make(map[string]string)
	templateDir := resolveTemplateDir(templateBase, h.TemplateName())
	projectName := csvRow["ProjectName"]
	if projectName == "" {
		projectName = filepath.Base(h.dir)
	}

	seen := make(map[string]struct{})
	for _, mat := range h.declaredMaterials() {
		placeholder := placeholderBase(mat.extraInfo)
		if placeholder != "" {
			if _, dup := seen[placeholder]; dup {
				continue
			}
			seen[placeholder] = struct{}{}
		}
		if placeholder == "" && mat.path == "" {
			continue
		}

		final := h.resolveMaterialPath(mat, placeholder, projectName, templateDir, changeBase, csvRow)
		if final == "" {
			continue
		}

		register := func(key string) {
			if key == "" {
				return
			}
			if _, exists := materialMap[key]; !exists {
				materialMap[key] = final
			}
		}
		register(placeholder)
		register(mat.path)
		register(mat.id)
		register(mat.localID)
		if stem := pathStem(mat.path); stem != "" {
			register(stem)
			if mat.typ != "" {
				register(mat.typ + ":" + stem)
			}
		}
	}

	// Plain text columns from the CSV row.
	for key, value := range csvRow {
		if value == "" || strings.EqualFold(key, "projectname") || strings.EqualFold(key, "id") {
			continue
		}
		if _, isMaterial := materialTypeMap[placeholderPrefix(key)]; isMaterial {
			continue
		}
		if _, exists := materialMap[key]; !exists {
			materialMap[key] = value
		}
	}

	h.logger.Debug("material map built",
		slog.Int("entries", len(materialMap)),
		slog.String("project", projectName))
	return materialMap
}

// resolveMaterialPath implements the override/template/original
// fallback chain for one declared material.
func (h *Handler) resolveMaterialPath(mat declaredMaterial, placeholder, projectName, templateDir, changeBase string, csvRow map[string]string) string {
	logicalType := logicalMaterialType(mat, placeholder)

	if placeholder != "" {
		if csvFilename := csvRow[placeholder]; csvFilename != "" {
			prefix := placeholderPrefix(placeholder)
			if _, direct := changeSubdirs[prefix]; direct {
				if found := FindChangeMaterial(changeBase, projectName, prefix, csvFilename); found != "" {
					return found
				}
			}
			// Override named but not present: fall through to the
			// template search below.
		}
	}

	if logicalType != "" && mat.path != "" {
		if found := FindTemplateMaterial(templateDir, logicalType, lastPathElement(mat.path)); found != "" {
			return found
		}
	}
	return mat.path
}

// logicalMaterialType picks the type directory to search, preferring
// the placeholder prefix, then the material's own type field, then the
// original path's parent directory name.
func logicalMaterialType(mat declaredMaterial, placeholder string) string {
	if placeholder != "" {
		if mapped, ok := materialTypeMap[placeholderPrefix(placeholder)]; ok {
			return mapped
		}
	}
	if _, ok := materialSubfolders[mat.typ]; ok {
		return mat.typ
	}
	if parent := parentDirName(mat.path); parent != "" {
		if _, ok := templateTypeDirs[parent]; ok {
			return parent
		}
	}
	return ""
}

type declaredMaterial struct {
	path      string
	extraInfo string
	id        string
	localID   string
	typ       string
}

// declaredMaterials walks meta's draft_materials groups of type 0 (file
// backed materials) and collects their identifying fields.
func (h *Handler) declaredMaterials() []declaredMaterial {
	meta, ok := h.meta.(map[string]any)
	if !ok {
		return nil
	}
	groups, _ := meta["draft_materials"].([]any)

	var out []declaredMaterial
	for _, g := range groups {
		group, ok := g.(map[string]any)
		if !ok {
			continue
		}
		if t, ok := group["type"].(float64); !ok || t != 0 {
			continue
		}
		values, _ := group["value"].([]any)
		for _, v := range values {
			mat, ok := v.(map[string]any)
			if !ok {
				continue
			}
			entry := declaredMaterial{
				path:      stringField(mat, "file_Path"),
				extraInfo: stringField(mat, "extra_info"),
				id:        stringField(mat, "id"),
				localID:   stringField(mat, "local_material_id"),
				typ:       stringField(mat, "type"),
			}
			out = append(out, entry)
		}
	}
	return out
}

// Apply runs the engine over both documents and returns merged stats.
func (h *Handler) Apply(eng *engine.Engine, materialMap, csvRow map[string]string) engine.Stats {
	stats := make(engine.Stats)

	var s engine.Stats
	h.meta, s = eng.Apply(h.meta, materialMap, csvRow)
	stats.Merge(s)
	h.draft, s = eng.Apply(h.draft, materialMap, csvRow)
	stats.Merge(s)

	h.logger.Info("substitution applied", slog.Int("rewrites", stats.Total()))
	return stats
}

// Save writes both documents back atomically (temp file plus rename in
// the project directory, so a crash never leaves a half-written draft).
func (h *Handler) Save() error {
	if err := saveJSON(filepath.Join(h.dir, MetaInfoFile), h.meta); err != nil {
		return err
	}
	return saveJSON(filepath.Join(h.dir, DraftInfoFile), h.draft)
}

func saveJSON(path string, doc any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	// CapCut draft JSON holds raw unicode and path strings; keep them
	// unescaped so the editor reads them back verbatim.
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// placeholderBase strips everything from the first dot of an extra_info
// value, e.g. "img_01.png" -> "img_01".
func placeholderBase(extraInfo string) string {
	if i := strings.IndexByte(extraInfo, '.'); i >= 0 {
		return extraInfo[:i]
	}
	return extraInfo
}

// parentDirName returns the name of a path's immediate parent
// directory, or "" when there is none.
func parentDirName(p string) string {
	i := strings.LastIndexAny(p, `/\`)
	if i <= 0 {
		return ""
	}
	return lastPathElement(p[:i])
}

// lastPathElement handles both separator styles found in draft files.
func lastPathElement(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		return p[i+1:]
	}
	return p
}

func pathStem(p string) string {
	name := lastPathElement(p)
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return name[:i]
	}
	return name
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
