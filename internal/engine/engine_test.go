package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afwm/CCBP-pub/internal/rules"
)

const testRuleFile = `{
  "version": "1.0",
  "path_rules": [
    {
      "id": "material-path",
      "target_keys": ["file_Path", "path"],
      "lookup_methods": [
        {"method": "extra_info"},
        {"method": "path_stem"},
        {"method": "field_value", "field": "local_material_id"},
        {"method": "type_and_stem"}
      ],
      "priority": 10
    }
  ],
  "text_rules": [
    {
      "id": "hash-placeholder",
      "target_keys": ["text", "content", "draft_name"],
      "pattern": "##([a-zA-Z0-9_]+)##",
      "source": "material_map",
      "priority": 10
    },
    {
      "id": "brace-placeholder",
      "target_keys": ["text"],
      "pattern": "\\{\\{([a-zA-Z0-9_]+)\\}\\}",
      "source": "csv_row_data",
      "priority": 20
    }
  ],
  "system_paths_to_ignore": ["/Applications/CapCut", "Resources/material"],
  "json_content_keys": ["content"]
}`

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	rs, err := rules.Parse([]byte(testRuleFile))
	require.NoError(t, err)
	return New(rs)
}

// decode mirrors how project files arrive: generic JSON trees.
func decode(t *testing.T, raw string) any {
	t.Helper()
	var doc any
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	return doc
}

func TestApplyPathRuleViaExtraInfo(t *testing.T) {
	eng := newTestEngine(t)
	doc := decode(t, `{
	  "file_Path": "C:/old/materials/img_01.png",
	  "extra_info": "img_01.png"
	}`)
	materials := map[string]string{"img_01": "D:/new/materials/replacement.png"}

	out, stats := eng.Apply(doc, materials, nil)

	m := out.(map[string]any)
	assert.Equal(t, "D:/new/materials/replacement.png", m["file_Path"])
	assert.Equal(t, 1, stats["material-path"])
}

func TestApplyPathRuleViaPathStem(t *testing.T) {
	eng := newTestEngine(t)
	doc := decode(t, `{"path": "/old/assets/bgm_02.mp3"}`)
	materials := map[string]string{"bgm_02": "/new/assets/track.mp3"}

	out, stats := eng.Apply(doc, materials, nil)

	assert.Equal(t, "/new/assets/track.mp3", out.(map[string]any)["path"])
	assert.Equal(t, 1, stats.Total())
}

func TestApplyPathRuleViaFieldValue(t *testing.T) {
	eng := newTestEngine(t)
	doc := decode(t, `{
	  "file_Path": "/old/unknown.bin",
	  "local_material_id": "lm-42"
	}`)
	materials := map[string]string{"lm-42": "/new/resolved.bin"}

	out, _ := eng.Apply(doc, materials, nil)
	assert.Equal(t, "/new/resolved.bin", out.(map[string]any)["file_Path"])
}

func TestApplyPathRuleViaTypeAndStem(t *testing.T) {
	eng := newTestEngine(t)
	doc := decode(t, `{
	  "file_Path": "/old/clip.mp4",
	  "type": "video"
	}`)
	materials := map[string]string{"video:clip": "/new/clip.mp4"}

	out, _ := eng.Apply(doc, materials, nil)
	assert.Equal(t, "/new/clip.mp4", out.(map[string]any)["file_Path"])
}

func TestApplyMethodOrderFirstHitWins(t *testing.T) {
	eng := newTestEngine(t)
	doc := decode(t, `{
	  "file_Path": "/old/img_01.png",
	  "extra_info": "img_01.png",
	  "local_material_id": "lm-1"
	}`)
	// Both extra_info and field_value would resolve; extra_info is listed
	// first in the rule and must win.
	materials := map[string]string{
		"img_01": "/via/extra_info.png",
		"lm-1":   "/via/field_value.png",
	}

	out, _ := eng.Apply(doc, materials, nil)
	assert.Equal(t, "/via/extra_info.png", out.(map[string]any)["file_Path"])
}

func TestApplyLeavesUnresolvableFieldAlone(t *testing.T) {
	eng := newTestEngine(t)
	doc := decode(t, `{"file_Path": "/old/unmanaged_asset.png"}`)

	out, stats := eng.Apply(doc, map[string]string{"other": "/new/x.png"}, nil)

	assert.Equal(t, "/old/unmanaged_asset.png", out.(map[string]any)["file_Path"])
	assert.Equal(t, 0, stats.Total())
}

func TestApplySkipsSystemPathValue(t *testing.T) {
	eng := newTestEngine(t)
	doc := decode(t, `{"file_Path": "/Applications/CapCut/Contents/stock.png"}`)
	materials := map[string]string{"stock": "/new/stock.png"}

	out, stats := eng.Apply(doc, materials, nil)

	assert.Equal(t, "/Applications/CapCut/Contents/stock.png", out.(map[string]any)["file_Path"])
	assert.Equal(t, 0, stats.Total())
}

func TestApplySystemPathLookupResultIsAMiss(t *testing.T) {
	eng := newTestEngine(t)
	doc := decode(t, `{"file_Path": "/old/img_03.png"}`)
	// The stem resolves, but the resolved path points into bundled
	// resources: the field must stay unmodified.
	materials := map[string]string{"img_03": "/Applications/CapCut/Resources/material/img_03.png"}

	out, stats := eng.Apply(doc, materials, nil)

	assert.Equal(t, "/old/img_03.png", out.(map[string]any)["file_Path"])
	assert.Equal(t, 0, stats.Total())
}

func TestApplyTextPlaceholders(t *testing.T) {
	eng := newTestEngine(t)
	doc := decode(t, `{"text": "Title ##mat1## and {{row_key}} and ##missing##"}`)
	materials := map[string]string{"mat1": "Sunset"}
	row := map[string]string{"row_key": "Episode 4"}

	out, stats := eng.Apply(doc, materials, row)

	assert.Equal(t, "Title Sunset and Episode 4 and ##missing##", out.(map[string]any)["text"])
	assert.Equal(t, 1, stats["hash-placeholder"])
	assert.Equal(t, 1, stats["brace-placeholder"])
}

func TestApplyNestedJSONContentIsOpaque(t *testing.T) {
	eng := newTestEngine(t)
	// "content" holds serialized JSON; the engine must do a flat string
	// substitution, never a parse/re-serialize round trip. The awkward
	// spacing around the colon would not survive re-serialization.
	original := `{ "nested" :"##mat1##"}`
	doc := map[string]any{"content": original}
	materials := map[string]string{"mat1": "REPLACED"}

	out, stats := eng.Apply(doc, materials, nil)

	got := out.(map[string]any)["content"].(string)
	assert.Equal(t, `{ "nested" :"REPLACED"}`, got)
	assert.Equal(t, 1, stats["hash-placeholder"])
}

func TestApplyJSONContentKeyNeverTreatedAsPath(t *testing.T) {
	rs, err := rules.Parse([]byte(`{
	  "version": "1.0",
	  "path_rules": [{"id": "wild", "target_keys": ["*"], "lookup_methods": [{"method": "path_stem"}]}],
	  "json_content_keys": ["content"]
	}`))
	require.NoError(t, err)
	eng := New(rs)

	// pathStem of this string would be a map hit, but content keys are
	// opaque text, not paths.
	doc := map[string]any{"content": `{"a":"b"}`}
	materials := map[string]string{`{"a":"b"}`: "/bad", `{"a":"b"`: "/bad2"}

	out, stats := eng.Apply(doc, materials, nil)
	assert.Equal(t, `{"a":"b"}`, out.(map[string]any)["content"])
	assert.Equal(t, 0, stats.Total())
}

func TestApplyRecursesThroughArraysAndObjects(t *testing.T) {
	eng := newTestEngine(t)
	doc := decode(t, `{
	  "draft_materials": [
	    {"type": 0, "value": [
	      {"file_Path": "/old/img_01.png", "extra_info": "img_01.png", "width": 1920},
	      {"file_Path": "/old/bgm_02.mp3", "extra_info": "bgm_02.mp3"}
	    ]}
	  ]
	}`)
	materials := map[string]string{
		"img_01": "/new/img_01.png",
		"bgm_02": "/new/bgm_02.mp3",
	}

	out, stats := eng.Apply(doc, materials, nil)

	groups := out.(map[string]any)["draft_materials"].([]any)
	values := groups[0].(map[string]any)["value"].([]any)
	assert.Equal(t, "/new/img_01.png", values[0].(map[string]any)["file_Path"])
	assert.Equal(t, "/new/bgm_02.mp3", values[1].(map[string]any)["file_Path"])
	assert.Equal(t, float64(1920), values[0].(map[string]any)["width"], "non-string values untouched")
	assert.Equal(t, 2, stats["material-path"])
}

func TestApplyIsIdempotent(t *testing.T) {
	eng := newTestEngine(t)
	doc := decode(t, `{
	  "file_Path": "/old/img_01.png",
	  "extra_info": "img_01.png",
	  "text": "hello ##mat1##"
	}`)
	materials := map[string]string{
		"img_01": "/final/replacement_asset.png",
		"mat1":   "done",
	}

	first, firstStats := eng.Apply(doc, materials, nil)
	require.Equal(t, 2, firstStats.Total())

	second, secondStats := eng.Apply(first, materials, nil)
	assert.Equal(t, 0, secondStats.Total(), "second pass must be a no-op")

	m := second.(map[string]any)
	assert.Equal(t, "/final/replacement_asset.png", m["file_Path"])
	assert.Equal(t, "hello done", m["text"])
}

func TestApplyNonContainerDocument(t *testing.T) {
	eng := newTestEngine(t)
	out, stats := eng.Apply("just a string", nil, nil)
	assert.Equal(t, "just a string", out)
	assert.Equal(t, 0, stats.Total())
}

func TestStatsMerge(t *testing.T) {
	a := Stats{"r1": 2}
	a.Merge(Stats{"r1": 1, "r2": 3})
	assert.Equal(t, Stats{"r1": 3, "r2": 3}, a)
}
