package ppu

import (
	"fmt"
	"os"
)

// InterruptRequester is a callback signature to request IF bits (0:VBlank, 1:STAT, etc.).
type InterruptRequester func(bit int)

const (
	ScreenWidth  = 160
	ScreenHeight = 144
)

// LineRegs captures the register state latched when a scanline enters mode 3,
// so the renderer always uses coherent per-line values even if the CPU
// scribbles over SCX/SCY/WX/WY mid-frame.
type LineRegs struct {
	SCX, SCY   byte
	WX, WY     byte
	WinLine    byte // window-internal line counter value for this scanline
	WindowUsed bool // whether the window layer was actually visible on this line
}

// PPU models VRAM/OAM, LCDC/STAT regs, LY/LYC, timing, and the BG/window/sprite
// scanline renderer that feeds a 160x144 palette-index framebuffer.
type PPU struct {
	// memory
	vram [0x2000]byte // 0x8000–0x9FFF
	oam  [0xA0]byte   // 0xFE00–0xFE9F

	// regs
	lcdc byte // FF40
	stat byte // FF41 (mode bits 0-1, coincidence flag bit2, enables bits3-6)
	scy  byte // FF42
	scx  byte // FF43
	ly   byte // FF44
	lyc  byte // FF45
	bgp  byte // FF47
	obp0 byte // FF48
	obp1 byte // FF49
	wy   byte // FF4A
	wx   byte // FF4B

	dot int // dots within current line [0..455]

	// winLine is the window's own internal line counter: it only advances on
	// lines where the window is actually drawn, and resets at frame start.
	winLine int

	statLine bool // combined OR of all enabled STAT IRQ sources, for edge detection

	fb    [ScreenWidth * ScreenHeight]byte // palette-index framebuffer (0..3)
	lines [ScreenHeight]LineRegs

	req InterruptRequester

	debugPPU bool
}

func New(req InterruptRequester) *PPU {
	p := &PPU{req: req}
	if os.Getenv("GB_DEBUG_PPU") != "" {
		p.debugPPU = true
	}
	return p
}

// CPURead returns bytes for VRAM, OAM, and PPU IO registers. Returns 0xFF for others.
func (p *PPU) CPURead(addr uint16) byte {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		// VRAM is inaccessible to CPU during mode 3 (return 0xFF)
		if (p.stat & 0x03) == 3 {
			return 0xFF
		}
		return p.vram[addr-0x8000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		// OAM is inaccessible during modes 2 and 3
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return 0xFF
		}
		return p.oam[addr-0xFE00]
	case addr == 0xFF40:
		return p.lcdc
	case addr == 0xFF41:
		// On DMG, bit7 reads as 1; bit6..3 are enables; bit2 coincidence; bit1..0 mode
		return 0x80 | (p.stat & 0x7F)
	case addr == 0xFF42:
		return p.scy
	case addr == 0xFF43:
		return p.scx
	case addr == 0xFF44:
		return p.ly
	case addr == 0xFF45:
		return p.lyc
	case addr == 0xFF47:
		return p.bgp
	case addr == 0xFF48:
		return p.obp0
	case addr == 0xFF49:
		return p.obp1
	case addr == 0xFF4A:
		return p.wy
	case addr == 0xFF4B:
		return p.wx
	default:
		return 0xFF
	}
}

// CPUWrite handles writes to VRAM, OAM, and PPU IO regs. Others are ignored here.
func (p *PPU) CPUWrite(addr uint16, value byte) {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if (p.stat & 0x03) == 3 {
			return
		}
		p.vram[addr-0x8000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return
		}
		p.oam[addr-0xFE00] = value
	case addr == 0xFF40:
		prev := p.lcdc
		p.lcdc = value
		if (p.lcdc&0x80) == 0 && (prev&0x80) != 0 {
			// Turning LCD off resets LY/mode and blanks the screen to index 0.
			p.ly = 0
			p.dot = 0
			p.winLine = 0
			p.setMode(0)
			p.updateLYC()
			for i := range p.fb {
				p.fb[i] = 0
			}
		} else if (p.lcdc&0x80) != 0 && (prev&0x80) == 0 {
			// Turning LCD on: start at LY=0, mode 2 (OAM)
			p.ly = 0
			p.dot = 0
			p.winLine = 0
			p.setMode(2)
			p.updateLYC()
		}
	case addr == 0xFF41:
		p.stat = (p.stat & 0x07) | (value & 0x78)
		p.updateStatLine()
	case addr == 0xFF42:
		p.scy = value
	case addr == 0xFF43:
		p.scx = value
	case addr == 0xFF44:
		p.ly = 0
		p.dot = 0
		p.updateLYC()
		if (p.lcdc & 0x80) != 0 {
			p.setMode(2)
		}
	case addr == 0xFF45:
		p.lyc = value
		p.updateLYC()
	case addr == 0xFF47:
		p.bgp = value
	case addr == 0xFF48:
		p.obp0 = value
	case addr == 0xFF49:
		p.obp1 = value
	case addr == 0xFF4A:
		p.wy = value
	case addr == 0xFF4B:
		p.wx = value
	}
}

// Tick advances PPU state by the given number of dots (CPU cycles).
func (p *PPU) Tick(cycles int) {
	if cycles <= 0 {
		return
	}
	for i := 0; i < cycles; i++ {
		if (p.lcdc & 0x80) == 0 { // LCD off
			continue
		}
		p.dot++

		var mode byte
		if p.ly >= 144 {
			mode = 1
		} else {
			switch {
			case p.dot < 80:
				mode = 2
			case p.dot < 80+172:
				mode = 3
			default:
				mode = 0
			}
		}
		prevMode := p.stat & 0x03
		p.setMode(mode)
		if prevMode == 2 && mode == 3 && p.ly < ScreenHeight {
			p.beginScanline(p.ly)
		}
		if prevMode == 3 && mode == 0 && p.ly < ScreenHeight {
			p.renderScanline(p.ly)
		}

		if p.dot >= 456 {
			p.dot = 0
			p.ly++
			if p.ly == 144 {
				if p.req != nil {
					p.req(0) // VBlank IF
				}
			} else if p.ly > 153 {
				p.ly = 0
				p.winLine = 0
			}
			p.updateLYC()
			if p.ly >= 144 {
				p.setMode(1)
			} else {
				p.setMode(2)
			}
		}
	}
}

func (p *PPU) setMode(mode byte) {
	p.stat = (p.stat &^ 0x03) | (mode & 0x03)
	p.updateStatLine()
}

func (p *PPU) updateLYC() {
	if p.ly == p.lyc {
		p.stat |= 1 << 2
	} else {
		p.stat &^= 1 << 2
	}
	p.updateStatLine()
}

// updateStatLine ORs together the four STAT IRQ sources (mode0/mode1/mode2/
// LYC) and requests the STAT interrupt only on a 0->1 transition of that
// combined signal, matching the hardware's single shared IRQ line.
func (p *PPU) updateStatLine() {
	mode := p.stat & 0x03
	line := false
	if (p.stat&(1<<3)) != 0 && mode == 0 {
		line = true
	}
	if (p.stat&(1<<4)) != 0 && mode == 1 {
		line = true
	}
	if (p.stat&(1<<5)) != 0 && mode == 2 {
		line = true
	}
	if (p.stat&(1<<6)) != 0 && (p.stat&(1<<2)) != 0 {
		line = true
	}
	if line && !p.statLine {
		if p.req != nil {
			p.req(1)
		}
		if p.debugPPU {
			fmt.Printf("[PPU] STAT IRQ edge ly=%d mode=%d stat=%02X\n", p.ly, mode, p.stat)
		}
	}
	p.statLine = line
}

// Expose palettes and scroll for renderer convenience (optional helpers)
func (p *PPU) BGP() byte  { return p.bgp }
func (p *PPU) OBP0() byte { return p.obp0 }
func (p *PPU) OBP1() byte { return p.obp1 }
func (p *PPU) LCDC() byte { return p.lcdc }
func (p *PPU) SCY() byte  { return p.scy }
func (p *PPU) SCX() byte  { return p.scx }
func (p *PPU) WY() byte   { return p.wy }
func (p *PPU) WX() byte   { return p.wx }

// LineRegs returns the register snapshot captured for scanline ly (0..143).
func (p *PPU) LineRegs(ly int) LineRegs {
	if ly < 0 || ly >= ScreenHeight {
		return LineRegs{}
	}
	return p.lines[ly]
}

// Framebuffer returns the current 160x144 palette-index (0..3) buffer.
// Index 3 is the darkest shade per DMG convention; callers map to RGBA.
func (p *PPU) Framebuffer() *[ScreenWidth * ScreenHeight]byte { return &p.fb }

type vramAccessor struct{ p *PPU }

func (v vramAccessor) Read(addr uint16) byte {
	if addr < 0x8000 || addr > 0x9FFF {
		return 0xFF
	}
	return v.p.vram[addr-0x8000]
}

// beginScanline runs when a line enters mode 3: it snapshots the registers
// this line will render with and, if the window is visible on this line,
// claims the next value of the window's internal line counter. Real
// hardware fixes the window-line decision this early too, which is why a
// mid-scanline WX/WY write does not retroactively change it.
func (p *PPU) beginScanline(ly byte) {
	lr := LineRegs{SCX: p.scx, SCY: p.scy, WX: p.wx, WY: p.wy}
	windowEnabled := (p.lcdc&0x20) != 0 && (p.lcdc&0x01) != 0
	if windowEnabled && p.wy <= ly && p.wx <= 166 {
		lr.WinLine = byte(p.winLine)
		lr.WindowUsed = true
		p.winLine++
	}
	p.lines[ly] = lr
}

// renderScanline composes BG, window, and sprite layers for ly into the
// framebuffer, using the register snapshot beginScanline captured.
func (p *PPU) renderScanline(ly byte) {
	mem := vramAccessor{p}
	lr := p.lines[ly]

	bgMapBase := uint16(0x9800)
	if (p.lcdc & 0x08) != 0 {
		bgMapBase = 0x9C00
	}
	tileData8000 := (p.lcdc & 0x10) != 0

	var bgci [ScreenWidth]byte
	if (p.lcdc & 0x01) != 0 {
		bgci = RenderBGScanlineUsingFetcher(mem, bgMapBase, tileData8000, lr.SCX, lr.SCY, ly)
	}

	if lr.WindowUsed {
		winMapBase := uint16(0x9800)
		if (p.lcdc & 0x40) != 0 {
			winMapBase = 0x9C00
		}
		wxStart := int(lr.WX) - 7
		winci := RenderWindowScanlineUsingFetcher(mem, winMapBase, tileData8000, wxStart, lr.WinLine)
		start := wxStart
		if start < 0 {
			start = 0
		}
		for x := start; x < ScreenWidth; x++ {
			bgci[x] = winci[x]
		}
	}

	var out [ScreenWidth]byte
	for x := 0; x < ScreenWidth; x++ {
		out[x] = applyPalette(bgci[x], p.bgp)
	}

	if (p.lcdc & 0x02) != 0 {
		tall := (p.lcdc & 0x04) != 0
		sprites := p.spritesOnLine(ly)
		spriteCI := ComposeSpriteLine(mem, sprites, ly, bgci, tall)
		for x := 0; x < ScreenWidth; x++ {
			if spriteCI[x] == 0 {
				continue
			}
			winner, _, ok := spriteWinner(sprites, x, int(ly), tall)
			if !ok {
				continue
			}
			pal := p.obp0
			if winner.Attr&0x10 != 0 {
				pal = p.obp1
			}
			out[x] = applyPalette(spriteCI[x], pal)
		}
	}

	for x := 0; x < ScreenWidth; x++ {
		p.fb[int(ly)*ScreenWidth+x] = out[x]
	}
}

func applyPalette(ci byte, palette byte) byte {
	return (palette >> (ci * 2)) & 0x03
}
