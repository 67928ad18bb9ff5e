package protocol

// QualitySettings is the engine quality map. A nil field means "leave the
// current value unchanged".
type QualitySettings struct {
	QualityLevel        *int
	AntiAliasingQuality *int
	ShadowQuality       *int
	PostProcessQuality  *int
	TextureQuality      *int
	EffectsQuality      *int
	FoliageQuality      *int
	ViewDistanceQuality *int
	TargetFrameRate     *int
	EnableVSync         *bool
	ResolutionScale     *float64
}

// Int returns a pointer to v, for building QualitySettings literals.
func Int(v int) *int { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

func (q *QualitySettings) intFields() []struct {
	key string
	ptr **int
} {
	return []struct {
		key string
		ptr **int
	}{
		{"qualityLevel", &q.QualityLevel},
		{"antiAliasingQuality", &q.AntiAliasingQuality},
		{"shadowQuality", &q.ShadowQuality},
		{"postProcessQuality", &q.PostProcessQuality},
		{"textureQuality", &q.TextureQuality},
		{"effectsQuality", &q.EffectsQuality},
		{"foliageQuality", &q.FoliageQuality},
		{"viewDistanceQuality", &q.ViewDistanceQuality},
		{"targetFrameRate", &q.TargetFrameRate},
	}
}

// ToMap returns the wire map with only the set fields present.
func (q QualitySettings) ToMap() map[string]any {
	m := make(map[string]any)
	for _, f := range q.intFields() {
		if *f.ptr != nil {
			m[f.key] = **f.ptr
		}
	}
	if q.EnableVSync != nil {
		m["enableVSync"] = *q.EnableVSync
	}
	if q.ResolutionScale != nil {
		m["resolutionScale"] = *q.ResolutionScale
	}
	return m
}

// QualityFromMap parses a quality map. Absent, null and -1 integer fields
// are left nil.
func QualityFromMap(m map[string]any) QualitySettings {
	var q QualitySettings
	for _, f := range q.intFields() {
		if v, ok := intArg(m, f.key); ok && v != -1 {
			*f.ptr = Int(v)
		}
	}
	if v, ok := boolArg(m, "enableVSync"); ok {
		q.EnableVSync = Bool(v)
	}
	if v, ok := floatArg(m, "resolutionScale"); ok && v >= 0 {
		q.ResolutionScale = Float(v)
	}
	return q
}

// Merge returns q with every set field of over applied on top.
func (q QualitySettings) Merge(over QualitySettings) QualitySettings {
	out := q
	src := over.intFields()
	for i, f := range out.intFields() {
		if *src[i].ptr != nil {
			*f.ptr = Int(**src[i].ptr)
		}
	}
	if over.EnableVSync != nil {
		out.EnableVSync = Bool(*over.EnableVSync)
	}
	if over.ResolutionScale != nil {
		out.ResolutionScale = Float(*over.ResolutionScale)
	}
	return out
}
