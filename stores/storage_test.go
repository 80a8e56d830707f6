package stores

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"emojiart-server/config"
	"emojiart-server/core"
)

func TestGetStore(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name            string
		cfg             config.Storage
		wantCheckpoints bool
	}{
		{"memory", config.Storage{Type: "memory"}, true},
		{"default", config.Storage{}, true},
		{"filesystem", config.Storage{Type: "filesystem", LocalPath: filepath.Join(dir, "docs")}, false},
		{"sqlite", config.Storage{Type: "sqlite", DataSourceName: filepath.Join(dir, "emojiart.db")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store, err := GetStore(ctx, tt.cfg)
			if err != nil {
				t.Fatalf("GetStore() failed: %v", err)
			}

			id, err := store.Create(ctx, &core.Document{Data: *bytes.NewBufferString("data")})
			if err != nil {
				t.Fatalf("Create() failed: %v", err)
			}
			doc, err := store.FindID(ctx, id)
			if err != nil {
				t.Fatalf("FindID() failed: %v", err)
			}
			if doc.Data.String() != "data" {
				t.Errorf("FindID() = %q, want %q", doc.Data.String(), "data")
			}

			if _, ok := store.(core.CheckpointStore); ok != tt.wantCheckpoints {
				t.Errorf("CheckpointStore support = %v, want %v", ok, tt.wantCheckpoints)
			}
		})
	}
}
