package catalog

import (
	"context"
	"testing"
)

func TestArtifactLifecycle(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()

	a := &Artifact{CatalogNumber: "INV-2026-001", Name: "Bronze fibula", Site: "Vindonissa"}
	if err := s.CreateArtifact(ctx, a); err != nil {
		t.Fatal(err)
	}
	if a.ID == 0 {
		t.Fatal("expected ID to be set")
	}
	if a.Status != StatusPending {
		t.Fatalf("default status = %q, want pending", a.Status)
	}

	got, err := s.GetArtifact(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.CatalogNumber != "INV-2026-001" {
		t.Fatalf("unexpected artifact %+v", got)
	}
	if len(got.Images) != 0 {
		t.Fatalf("expected no images, got %v", got.Images)
	}

	got.Status = StatusProcessing
	got.Site = "Vindonissa, trench 4"
	if err := s.UpdateArtifact(ctx, got); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetArtifact(ctx, a.ID)
	if got.Status != StatusProcessing || got.Site != "Vindonissa, trench 4" {
		t.Fatalf("update not applied: %+v", got)
	}

	if err := s.DeleteArtifact(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetArtifact(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("expected nil after delete")
	}
}

func TestCatalogNumberUnique(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()

	if err := s.CreateArtifact(ctx, &Artifact{CatalogNumber: "X-1", Name: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateArtifact(ctx, &Artifact{CatalogNumber: "X-1", Name: "b"}); err == nil {
		t.Fatal("expected unique constraint violation")
	}
}

func TestInvalidStatus(t *testing.T) {
	s := OpenMemory(t)
	if err := s.CreateArtifact(context.Background(),
		&Artifact{CatalogNumber: "X-2", Name: "a", Status: "archived"}); err == nil {
		t.Fatal("expected invalid status rejection")
	}
}

func TestAssetsCascadeAndOrder(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()

	a := &Artifact{CatalogNumber: "X-3", Name: "Amphora"}
	if err := s.CreateArtifact(ctx, a); err != nil {
		t.Fatal(err)
	}

	for i, p := range []string{"artifacts/1/orig.png", "artifacts/1/preview.png", "artifacts/1/thumb.jpg"} {
		if err := s.InsertAsset(ctx, &Asset{
			ArtifactID: a.ID,
			FilePath:   p,
			FileName:   p,
			IsPrimary:  i == 0,
		}); err != nil {
			t.Fatal(err)
		}
	}

	got, _ := s.GetArtifact(ctx, a.ID)
	if len(got.Images) != 3 {
		t.Fatalf("expected 3 images, got %d", len(got.Images))
	}
	if got.Images[0] != "artifacts/1/orig.png" || got.Images[2] != "artifacts/1/thumb.jpg" {
		t.Fatalf("insertion order not preserved: %v", got.Images)
	}

	assets, err := s.ListAssets(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !assets[0].IsPrimary || assets[1].IsPrimary {
		t.Fatal("primary flag not preserved")
	}

	// Duplicate (artifact, path) rejected.
	if err := s.InsertAsset(ctx, &Asset{ArtifactID: a.ID, FilePath: "artifacts/1/orig.png", FileName: "x"}); err == nil {
		t.Fatal("expected unique constraint on (artifact_id, file_path)")
	}

	if err := s.DeleteArtifact(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	assets, _ = s.ListAssets(ctx, a.ID)
	if len(assets) != 0 {
		t.Fatalf("cascade delete failed, %d assets remain", len(assets))
	}
}

func TestAssetAnnotation(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()

	a := &Artifact{CatalogNumber: "X-4", Name: "Tessera"}
	s.CreateArtifact(ctx, a)
	s.InsertAsset(ctx, &Asset{ArtifactID: a.ID, FilePath: "p/one.png", FileName: "one.png", IsPrimary: true})
	s.InsertAsset(ctx, &Asset{ArtifactID: a.ID, FilePath: "p/two.png", FileName: "two.png"})

	if err := s.SetAssetAnnotation(ctx, a.ID, "p/one.png", `{"version":"2.0"}`); err != nil {
		t.Fatal(err)
	}

	annotated, err := s.ListAnnotatedAssets(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(annotated) != 1 || annotated[0].FilePath != "p/one.png" {
		t.Fatalf("unexpected annotated set: %+v", annotated)
	}
	if annotated[0].Annotation != `{"version":"2.0"}` {
		t.Fatalf("payload mismatch: %q", annotated[0].Annotation)
	}

	got, _ := s.GetAsset(ctx, a.ID, "p/missing.png")
	if got != nil {
		t.Fatal("expected nil for missing asset")
	}
}

func TestIntegrationTokens(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()

	if err := s.SaveIntegrationToken(ctx, "drive", `{"enc":"aes-256-gcm"}`); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveIntegrationToken(ctx, "drive", `{"enc":"aes-256-gcm","iv":"x"}`); err != nil {
		t.Fatal(err)
	}
	payload, err := s.LoadIntegrationToken(ctx, "drive")
	if err != nil {
		t.Fatal(err)
	}
	if payload != `{"enc":"aes-256-gcm","iv":"x"}` {
		t.Fatalf("upsert not applied: %q", payload)
	}
	if p, _ := s.LoadIntegrationToken(ctx, "missing"); p != "" {
		t.Fatalf("expected empty payload, got %q", p)
	}
}
