package emu

// cgbCompatSetNames and cgbCompatSets provide a curated set of DMG display
// palettes, selected per-title by compat_tables.go the way CGB's boot ROM
// picks a colorization for original Game Boy cartridges. Each entry maps a
// 2-bit palette index (0=lightest .. 3=darkest) to RGBA.
var cgbCompatSetNames = []string{
	"Green",
	"Sepia",
	"Blue",
	"Red",
	"Pastel",
	"Grayscale",
}

var cgbCompatSets = [][4][4]byte{
	{ // Green: classic DMG LCD
		{0x9B, 0xBC, 0x0F, 0xFF},
		{0x8B, 0xAC, 0x0F, 0xFF},
		{0x30, 0x62, 0x30, 0xFF},
		{0x0F, 0x38, 0x0F, 0xFF},
	},
	{ // Sepia
		{0xF7, 0xE7, 0xC6, 0xFF},
		{0xC8, 0xA4, 0x6E, 0xFF},
		{0x8B, 0x5A, 0x2B, 0xFF},
		{0x3E, 0x25, 0x14, 0xFF},
	},
	{ // Blue
		{0xE0, 0xF0, 0xFF, 0xFF},
		{0x8C, 0xC8, 0xFF, 0xFF},
		{0x3C, 0x6E, 0xB4, 0xFF},
		{0x10, 0x28, 0x50, 0xFF},
	},
	{ // Red
		{0xFF, 0xE6, 0xE6, 0xFF},
		{0xFF, 0x9E, 0x9E, 0xFF},
		{0xB4, 0x3C, 0x3C, 0xFF},
		{0x50, 0x10, 0x10, 0xFF},
	},
	{ // Pastel
		{0xFF, 0xF4, 0xE6, 0xFF},
		{0xF4, 0xCE, 0xA0, 0xFF},
		{0xB0, 0x94, 0xC8, 0xFF},
		{0x50, 0x40, 0x60, 0xFF},
	},
	{ // Grayscale
		{0xFF, 0xFF, 0xFF, 0xFF},
		{0xAA, 0xAA, 0xAA, 0xFF},
		{0x55, 0x55, 0x55, 0xFF},
		{0x00, 0x00, 0x00, 0xFF},
	},
}
