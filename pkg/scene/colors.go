package scene

import (
	"crypto/md5"
	"encoding/binary"
	"strings"

	"histostack/internal/models"
)

// Well-known mask classes keep stable colors across builds; anything else
// gets a deterministic color derived from its name.
var predefinedColors = map[string][3]float64{
	"background":      {0.45, 0.45, 0.45},
	"stroma":          {0.95, 0.75, 0.20},
	"tumor":           {0.85, 0.20, 0.20},
	"tumorannotation": {0.60, 0.25, 0.85},
}

// ClassColor returns the display color for a mask class as RGB in 0..1.
// Class names are matched case-insensitively; unknown classes hash to a
// saturated hue so the same class always renders the same color.
func ClassColor(name string) [3]float64 {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if c, ok := predefinedColors[normalized]; ok {
		return c
	}

	digest := md5.Sum([]byte(normalized))
	hue := float64(binary.BigEndian.Uint32(digest[:4])) / float64(0xFFFFFFFF)
	return hsvToRGB(hue, 0.90, 0.90)
}

// DecorateLayers assigns display colors and default visibility to every
// layer of a built artifact. Layers stay hidden unless showSegments is set,
// and the background class stays hidden regardless so the source imagery is
// reviewable first.
func DecorateLayers(a *models.CaseArtifact, showSegments bool) {
	for _, l := range a.Layers {
		l.Color = ClassColor(l.Class)
		l.Visible = showSegments && !strings.EqualFold(l.Class, "background")
	}
}

func hsvToRGB(h, s, v float64) [3]float64 {
	if s == 0 {
		return [3]float64{v, v, v}
	}
	i := int(h * 6.0)
	f := h*6.0 - float64(i)
	p := v * (1.0 - s)
	q := v * (1.0 - s*f)
	t := v * (1.0 - s*(1.0-f))
	switch i % 6 {
	case 0:
		return [3]float64{v, t, p}
	case 1:
		return [3]float64{q, v, p}
	case 2:
		return [3]float64{p, v, t}
	case 3:
		return [3]float64{p, q, v}
	case 4:
		return [3]float64{t, p, v}
	default:
		return [3]float64{v, p, q}
	}
}
