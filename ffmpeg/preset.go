package ffmpeg

// Preset is a fully specified professional encoding profile selected by name.
type Preset struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Encoder     string   `json:"encoder"`
	Options     []string `json:"encoderOptions"`
	PixelFormat string   `json:"pixelFormat"`
}

// RequiresPCMAudio reports whether the preset's codec family is only muxed
// with uncompressed audio by editing suites.
func (p Preset) RequiresPCMAudio() bool {
	return p.Encoder == "prores_ks" || p.Encoder == "dnxhd"
}

type presetDef struct {
	name, description, encoder, options, pixFmt string
}

var presetDefs = []presetDef{
	{"prores_422", "Apple ProRes 422 (High Quality for Premiere Pro / Final Cut)", "prores_ks", "-profile:v 2", "yuv422p10le"},
	{"prores_422_hq", "Apple ProRes 422 HQ (Highest Quality for Premiere Pro / Final Cut)", "prores_ks", "-profile:v 3", "yuv422p10le"},
	{"prores_4444", "Apple ProRes 4444 (With Alpha Channel)", "prores_ks", "-profile:v 4 -alpha_bits 16", "yuva444p10le"},
	{"prores_proxy", "Apple ProRes Proxy (Lightweight Editing)", "prores_ks", "-profile:v 0", "yuv422p"},
	{"dnxhd_1080p_220", "DNxHD 220 Mbps 1080p (Broadcast Quality)", "dnxhd", "-b:v 220M", "yuv422p"},
	{"dnxhd_1080p_145", "DNxHD 145 Mbps 1080p (High Quality)", "dnxhd", "-b:v 145M", "yuv422p"},
	{"dnxhr_hq", "DNxHR HQ (High Quality for 4K/UHD)", "dnxhd", "-profile:v dnxhr_hq", "yuv422p"},
	{"dnxhr_sq", "DNxHR SQ (Standard Quality)", "dnxhd", "-profile:v dnxhr_sq", "yuv422p"},
	{"dnxhr_lb", "DNxHR LB (Low Bandwidth / Proxy)", "dnxhd", "-profile:v dnxhr_lb", "yuv422p"},
	{"cineform_high", "GoPro CineForm High (After Effects Compatible)", "cfhd", "-quality film3+", "yuv422p10le"},
	{"cineform_medium", "GoPro CineForm Medium", "cfhd", "-quality film3", "yuv422p"},
	{"cineform_low", "GoPro CineForm Low (Proxy)", "cfhd", "-quality film2", "yuv422p"},
}

var presets = buildPresets(presetDefs)

func buildPresets(defs []presetDef) []Preset {
	out := make([]Preset, 0, len(defs))
	for _, d := range defs {
		opts, err := SplitOptions(d.options)
		if err != nil {
			panic("ffmpeg: bad preset options for " + d.name + ": " + err.Error())
		}
		out = append(out, Preset{
			Name:        d.name,
			Description: d.description,
			Encoder:     d.encoder,
			Options:     opts,
			PixelFormat: d.pixFmt,
		})
	}
	return out
}

// Presets returns a copy of the catalog in declaration order.
func Presets() []Preset {
	out := make([]Preset, len(presets))
	for i, p := range presets {
		p.Options = append([]string(nil), p.Options...)
		out[i] = p
	}
	return out
}

// LookupPreset finds a preset by exact name.
func LookupPreset(name string) (Preset, bool) {
	for _, p := range presets {
		if p.Name == name {
			p.Options = append([]string(nil), p.Options...)
			return p, true
		}
	}
	return Preset{}, false
}
