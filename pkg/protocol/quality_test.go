package protocol

import "testing"

func TestQualityFromMapSkipsUnset(t *testing.T) {
	q := QualityFromMap(map[string]any{
		"qualityLevel":    float64(4),
		"shadowQuality":   float64(-1),
		"textureQuality":  nil,
		"enableVSync":     false,
		"resolutionScale": 0.75,
	})
	if q.QualityLevel == nil || *q.QualityLevel != 4 {
		t.Errorf("QualityLevel = %v, want 4", q.QualityLevel)
	}
	if q.ShadowQuality != nil {
		t.Error("-1 should mean unchanged")
	}
	if q.TextureQuality != nil {
		t.Error("null should mean unchanged")
	}
	if q.EnableVSync == nil || *q.EnableVSync {
		t.Errorf("EnableVSync = %v, want false", q.EnableVSync)
	}
	if q.ResolutionScale == nil || *q.ResolutionScale != 0.75 {
		t.Errorf("ResolutionScale = %v, want 0.75", q.ResolutionScale)
	}
}

func TestQualityMerge(t *testing.T) {
	base := QualitySettings{QualityLevel: Int(2), ShadowQuality: Int(1), TargetFrameRate: Int(60)}
	merged := base.Merge(QualitySettings{ShadowQuality: Int(3), EnableVSync: Bool(true)})

	if *merged.QualityLevel != 2 || *merged.ShadowQuality != 3 || *merged.TargetFrameRate != 60 {
		t.Errorf("merged = %v", merged.ToMap())
	}
	if merged.EnableVSync == nil || !*merged.EnableVSync {
		t.Error("EnableVSync not applied")
	}
	if *base.ShadowQuality != 1 {
		t.Error("Merge mutated the receiver")
	}
}
