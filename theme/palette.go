package theme

type RGB [3]uint8

// Palette is a gradient sampled by normalized position.
type Palette struct {
	Name   string
	Colors []RGB
}

// Default returns the built-in plasma-like gradient the monitor uses.
func Default() *Palette {
	return &Palette{
		Name: "plasma",
		Colors: []RGB{
			{13, 8, 135},
			{84, 2, 163},
			{139, 10, 165},
			{185, 50, 137},
			{219, 92, 104},
			{244, 136, 73},
			{254, 188, 43},
			{240, 249, 33},
		},
	}
}

// Lookup returns interpolated color for normalized value 0-1
func (p *Palette) Lookup(norm float64) RGB {
	if norm <= 0 {
		return p.Colors[0]
	}
	if norm >= 1 {
		return p.Colors[len(p.Colors)-1]
	}

	// Find the two colors to interpolate between
	pos := norm * float64(len(p.Colors)-1)
	i := int(pos)
	frac := pos - float64(i)

	c0 := p.Colors[i]
	c1 := p.Colors[i+1]

	return RGB{
		lerp(c0[0], c1[0], frac),
		lerp(c0[1], c1[1], frac),
		lerp(c0[2], c1[2], frac),
	}
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a)*(1-t) + float64(b)*t)
}
