package page

import (
	"errors"
	"testing"

	"erpnerd-mcp-server/internal/protocol"
)

func TestPageIDFromCacheKey(t *testing.T) {
	tests := []struct {
		name     string
		cacheKey string
		want     string
		wantErr  bool
	}{
		{name: "full key", cacheKey: "22:pagemode(Edit):embedded(False)", want: "22"},
		{name: "id only", cacheKey: "305", want: "305"},
		{name: "empty", cacheKey: "", wantErr: true},
		{name: "leading separator", cacheKey: ":pagemode(Edit)", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PageIDFromCacheKey(tt.cacheKey)
			if tt.wantErr {
				var malformed *MalformedCacheKeyError
				if !errors.As(err, &malformed) {
					t.Fatalf("expected MalformedCacheKeyError, got %v", err)
				}
				if malformed.CacheKey != tt.cacheKey {
					t.Fatalf("error lost the offending key: %q", malformed.CacheKey)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse %q: %v", tt.cacheKey, err)
			}
			if got != tt.want {
				t.Fatalf("page id = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildPageMetadata(t *testing.T) {
	meta, err := BuildPageMetadata(sampleForm(), true)
	if err != nil {
		t.Fatalf("build metadata: %v", err)
	}

	if meta.PageID != "21" {
		t.Fatalf("page id = %q, want 21", meta.PageID)
	}
	if meta.Caption != "Customer Card" {
		t.Fatalf("caption = %q", meta.Caption)
	}
	if meta.ControlCount != 6 {
		t.Fatalf("control count = %d, want 6", meta.ControlCount)
	}
	if !meta.CorrelationConfirmed {
		t.Fatalf("confirmed flag lost")
	}

	if len(meta.Fields) != 3 {
		t.Fatalf("expected 3 fields, got %d", len(meta.Fields))
	}
	if meta.Fields[1].Name != "name" || meta.Fields[1].Type != "text" || !meta.Fields[1].Editable {
		t.Fatalf("field classification wrong: %#v", meta.Fields[1])
	}
	if meta.Fields[2].Type != "decimal" {
		t.Fatalf("de tag should map to decimal, got %q", meta.Fields[2].Type)
	}

	if len(meta.Actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(meta.Actions))
	}
	if meta.Actions[0].Name != "post" || !meta.Actions[0].Enabled {
		t.Fatalf("action classification wrong: %#v", meta.Actions[0])
	}
}

func TestBuildPageMetadataFieldTypes(t *testing.T) {
	form := &protocol.LogicalForm{
		CacheKey: "50:pagemode(View)",
		Children: []protocol.Control{
			{ID: "a", Type: "ie"},
			{ID: "b", Type: "dte"},
			{ID: "c", Type: "tme"},
			{ID: "d", Type: "be"},
			{ID: "e", Type: "oe"},
			{ID: "f", Type: "mystery"},
		},
	}

	meta, err := BuildPageMetadata(form, false)
	if err != nil {
		t.Fatalf("build metadata: %v", err)
	}

	wantTypes := []string{"integer", "date", "time", "boolean", "option"}
	if len(meta.Fields) != len(wantTypes) {
		t.Fatalf("expected %d fields, got %d", len(wantTypes), len(meta.Fields))
	}
	for i, want := range wantTypes {
		if meta.Fields[i].Type != want {
			t.Fatalf("field %d type = %q, want %q", i, meta.Fields[i].Type, want)
		}
	}
	// Unknown tags count as controls but surface as neither field nor action.
	if meta.ControlCount != 6 {
		t.Fatalf("control count = %d, want 6", meta.ControlCount)
	}
}

func TestBuildPageMetadataMalformedCacheKey(t *testing.T) {
	form := &protocol.LogicalForm{Caption: "Broken", CacheKey: ""}
	_, err := BuildPageMetadata(form, true)
	var malformed *MalformedCacheKeyError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedCacheKeyError, got %v", err)
	}
}
