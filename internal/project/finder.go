package project

import (
	"os"
	"path/filepath"
	"strings"
)

// materialTypeMap maps placeholder prefixes (the part of an extra_info
// token before the first underscore) to the logical material type used
// when searching template material directories.
var materialTypeMap = map[string]string{
	"img":   "image",
	"photo": "photo",
	"video": "video",
	"bgm":   "audio",
	"se":    "audio",
	"voice": "audio",
	"music": "music",
}

// templateTypeDirs lists the candidate subdirectory names per logical
// type inside a template material folder.
var templateTypeDirs = map[string][]string{
	"image": {"image", "photo", "img"},
	"video": {"video"},
	"audio": {"audio", "music", "bgm", "se", "voice"},
}

// changeSubdirs are the subdirectory names used under
// <change base>/<project>/ for CSV-overridden materials.
var changeSubdirs = map[string]struct{}{
	"bgm": {}, "img": {}, "se": {}, "video": {}, "voice": {},
}

// materialSubfolders are directory names recognized as material type
// folders when the type has to be inferred from a material's own
// metadata or its parent directory.
var materialSubfolders = map[string]struct{}{
	"video": {}, "audio": {}, "image": {}, "text": {}, "effect": {},
	"sticker": {}, "filter": {}, "transition": {}, "font": {},
	"music": {}, "photo": {}, "img": {}, "bgm": {}, "se": {}, "voice": {},
}

// SanitizeName makes a project name safe to use as a directory name.
// Anything outside [A-Za-z0-9_-] becomes an underscore.
func SanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// FindChangeMaterial looks for a CSV-overridden replacement file at
// <base>/<project>/<subdir>/<filename>. Returns "" when not found.
func FindChangeMaterial(base, projectName, subdir, filename string) string {
	if base == "" || projectName == "" || subdir == "" || filename == "" {
		return ""
	}
	candidate := filepath.Join(base, SanitizeName(projectName), subdir, filename)
	if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
		return candidate
	}
	return ""
}

// FindTemplateMaterial looks for filename under the template project's
// material directories for the given logical type. Types outside the
// known map fall back to a directory named after the type itself.
func FindTemplateMaterial(templateProjectDir, materialType, filename string) string {
	if templateProjectDir == "" || materialType == "" || filename == "" {
		return ""
	}
	dirs, ok := templateTypeDirs[materialType]
	if !ok {
		dirs = []string{materialType}
	}
	for _, dir := range dirs {
		candidate := filepath.Join(templateProjectDir, dir, filename)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

// resolveTemplateDir returns the material directory for one template.
// Users sometimes point the base directly at the template's own folder;
// in that case the base is used as-is instead of appending the name.
func resolveTemplateDir(templateBase, templateName string) string {
	if templateBase == "" {
		return ""
	}
	if filepath.Base(templateBase) == templateName {
		return templateBase
	}
	return filepath.Join(templateBase, templateName)
}

// placeholderPrefix returns the part of a placeholder before the first
// underscore, e.g. "img_01" -> "img".
func placeholderPrefix(placeholder string) string {
	if i := strings.IndexByte(placeholder, '_'); i > 0 {
		return placeholder[:i]
	}
	return ""
}
