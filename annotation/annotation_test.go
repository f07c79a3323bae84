package annotation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"atelier/catalog"
	"atelier/envelope"
)

func seedAsset(t *testing.T, cat *catalog.Store) (int64, string) {
	t.Helper()
	ctx := context.Background()
	art := &catalog.Artifact{CatalogNumber: "INV-2024-001", Name: "Amphore"}
	if err := cat.CreateArtifact(ctx, art); err != nil {
		t.Fatal(err)
	}
	asset := &catalog.Asset{
		ArtifactID: art.ID,
		FilePath:   "/data/uploads/amphore.jpg",
		FileName:   "amphore.jpg",
		IsPrimary:  true,
	}
	if err := cat.InsertAsset(ctx, asset); err != nil {
		t.Fatal(err)
	}
	return art.ID, asset.FilePath
}

func TestGetEmptyWhenNothingStored(t *testing.T) {
	cat := catalog.OpenMemory(t)
	store := NewStore(cat, envelope.New(""))
	artID, imagePath := seedAsset(t, cat)

	for _, path := range []string{imagePath, "/data/uploads/unknown.jpg"} {
		doc, err := store.Get(context.Background(), artID, path)
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		if string(doc.Annotations) != "[]" || doc.Canvas != nil {
			t.Fatalf("%s: doc = %+v, want empty", path, doc)
		}
	}
}

func TestPutGetPlaintextRoundTrip(t *testing.T) {
	cat := catalog.OpenMemory(t)
	store := NewStore(cat, envelope.New(""))
	artID, imagePath := seedAsset(t, cat)
	ctx := context.Background()

	tests := []struct {
		name       string
		payload    string
		wantCanvas bool
	}{
		{"legacy array", `[{"type":"rect","x":1,"y":2}]`, false},
		{"v2 canvas", `{"version":"2.0","layers":[{"id":"layer-1","objects":[]}],"imageRotation":0}`, true},
		{"v1 canvas", `{"version":"1.0","layers":[]}`, true},
		{"objects canvas", `{"objects":[{"type":"path"}]}`, true},
	}
	for _, tt := range tests {
		key, err := store.Put(ctx, artID, imagePath, json.RawMessage(tt.payload))
		if err != nil {
			t.Fatalf("%s: put: %v", tt.name, err)
		}
		if key != imagePath {
			t.Fatalf("%s: stored key = %q, want %q", tt.name, key, imagePath)
		}
		doc, err := store.Get(ctx, artID, imagePath)
		if err != nil {
			t.Fatalf("%s: get: %v", tt.name, err)
		}
		if tt.wantCanvas {
			if string(doc.Canvas) != tt.payload {
				t.Errorf("%s: canvas = %s, want %s", tt.name, doc.Canvas, tt.payload)
			}
			if string(doc.Annotations) != "[]" {
				t.Errorf("%s: annotations = %s", tt.name, doc.Annotations)
			}
		} else {
			if string(doc.Annotations) != tt.payload {
				t.Errorf("%s: annotations = %s, want %s", tt.name, doc.Annotations, tt.payload)
			}
			if doc.Canvas != nil {
				t.Errorf("%s: canvas = %s", tt.name, doc.Canvas)
			}
		}
	}
}

func TestUnknownShapeClassifiesEmpty(t *testing.T) {
	cat := catalog.OpenMemory(t)
	store := NewStore(cat, envelope.New(""))
	artID, imagePath := seedAsset(t, cat)
	ctx := context.Background()

	for _, payload := range []string{
		`{"note":"ancienne restauration"}`, // object without version/layers/objects
		`"just a string"`,
		`42`,
		`not json at all`,
	} {
		if _, err := store.Put(ctx, artID, imagePath, json.RawMessage(payload)); err != nil {
			t.Fatalf("put %q: %v", payload, err)
		}
		doc, err := store.Get(ctx, artID, imagePath)
		if err != nil {
			t.Fatalf("get after %q: %v", payload, err)
		}
		if string(doc.Annotations) != "[]" || doc.Canvas != nil {
			t.Errorf("payload %q: doc = %+v, want empty", payload, doc)
		}
	}
}

func TestEncryptedAtRest(t *testing.T) {
	cat := catalog.OpenMemory(t)
	svc := envelope.New("atelier-test-secret")
	store := NewStore(cat, svc)
	artID, imagePath := seedAsset(t, cat)
	ctx := context.Background()

	payload := `{"version":"2.0","layers":[{"id":"layer-1","objects":[{"type":"rect"}]}]}`
	if _, err := store.Put(ctx, artID, imagePath, json.RawMessage(payload)); err != nil {
		t.Fatal(err)
	}

	// The stored column holds an envelope, not the plaintext.
	asset, err := cat.GetAsset(ctx, artID, imagePath)
	if err != nil {
		t.Fatal(err)
	}
	var env envelope.Envelope
	if err := json.Unmarshal([]byte(asset.Annotation), &env); err != nil {
		t.Fatalf("stored payload is not an envelope: %v", err)
	}
	if env.Alg != envelope.Algorithm {
		t.Fatalf("stored alg = %q", env.Alg)
	}

	doc, err := store.Get(ctx, artID, imagePath)
	if err != nil {
		t.Fatal(err)
	}
	if string(doc.Canvas) != payload {
		t.Fatalf("canvas = %s, want %s", doc.Canvas, payload)
	}
}

func TestWrongKeySurfacesDecryptionError(t *testing.T) {
	cat := catalog.OpenMemory(t)
	artID, imagePath := seedAsset(t, cat)
	ctx := context.Background()

	writer := NewStore(cat, envelope.New("first-secret"))
	if _, err := writer.Put(ctx, artID, imagePath, json.RawMessage(`[]`)); err != nil {
		t.Fatal(err)
	}

	reader := NewStore(cat, envelope.New("second-secret"))
	if _, err := reader.Get(ctx, artID, imagePath); !errors.Is(err, envelope.ErrDecryption) {
		t.Fatalf("got %v, want ErrDecryption", err)
	}

	keyless := NewStore(cat, envelope.New(""))
	if _, err := keyless.Get(ctx, artID, imagePath); !errors.Is(err, ErrNoKey) {
		t.Fatalf("got %v, want ErrNoKey", err)
	}
}

func TestPutCreatesAssetRow(t *testing.T) {
	cat := catalog.OpenMemory(t)
	store := NewStore(cat, envelope.New(""))
	ctx := context.Background()

	art := &catalog.Artifact{CatalogNumber: "INV-2024-002", Name: "Stèle"}
	if err := cat.CreateArtifact(ctx, art); err != nil {
		t.Fatal(err)
	}

	imagePath := "/data/uploads/stele_face.png"
	key, err := store.Put(ctx, art.ID, imagePath, json.RawMessage(`[{"type":"text"}]`))
	if err != nil {
		t.Fatal(err)
	}
	if key != imagePath {
		t.Fatalf("stored key = %q, want %q", key, imagePath)
	}
	asset, err := cat.GetAsset(ctx, art.ID, imagePath)
	if err != nil {
		t.Fatal(err)
	}
	if asset == nil {
		t.Fatal("asset row was not created")
	}
	if asset.FileName != "stele_face.png" {
		t.Fatalf("file name = %q", asset.FileName)
	}
}

func TestLastWriteWins(t *testing.T) {
	cat := catalog.OpenMemory(t)
	store := NewStore(cat, envelope.New(""))
	artID, imagePath := seedAsset(t, cat)
	ctx := context.Background()

	for _, payload := range []string{`[{"v":1}]`, `[{"v":2}]`, `[{"v":3}]`} {
		if _, err := store.Put(ctx, artID, imagePath, json.RawMessage(payload)); err != nil {
			t.Fatal(err)
		}
	}
	doc, err := store.Get(ctx, artID, imagePath)
	if err != nil {
		t.Fatal(err)
	}
	if string(doc.Annotations) != `[{"v":3}]` {
		t.Fatalf("annotations = %s, want last write", doc.Annotations)
	}
}
