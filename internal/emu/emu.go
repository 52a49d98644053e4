package emu

import (
	"io"
	"os"

	"github.com/FabianRolfMatthiasNoll/GameBoyEmulator/internal/bus"
	"github.com/FabianRolfMatthiasNoll/GameBoyEmulator/internal/cart"
	"github.com/FabianRolfMatthiasNoll/GameBoyEmulator/internal/cpu"
	"github.com/FabianRolfMatthiasNoll/GameBoyEmulator/internal/ppu"
)

// Buttons is the host-facing joypad state for one frame.
type Buttons struct {
	A, B, Start, Select   bool
	Up, Down, Left, Right bool
}

func (b Buttons) mask() byte {
	var m byte
	if b.Right {
		m |= bus.JoypRight
	}
	if b.Left {
		m |= bus.JoypLeft
	}
	if b.Up {
		m |= bus.JoypUp
	}
	if b.Down {
		m |= bus.JoypDown
	}
	if b.A {
		m |= bus.JoypA
	}
	if b.B {
		m |= bus.JoypB
	}
	if b.Select {
		m |= bus.JoypSelectBtn
	}
	if b.Start {
		m |= bus.JoypStart
	}
	return m
}

// CyclesPerFrame is the number of T-cycles in one DMG video frame
// (154 scanlines * 456 dots).
const CyclesPerFrame = 154 * 456

// Machine is the top-level scheduler: it owns the CPU/Bus/PPU/cartridge and
// steps them together in whole-frame increments.
type Machine struct {
	cfg     Config
	bus     *bus.Bus
	cpu     *cpu.CPU
	header  *cart.Header
	romPath string

	rom  []byte // kept so ResetPostBoot/ResetWithBoot can recreate the bus
	boot []byte

	paletteRGBA [4][4]byte // index 0..3 -> RGBA, selected by SetPalette/auto-detect
}

// New constructs a Machine with no cartridge loaded yet.
func New(cfg Config) *Machine {
	m := &Machine{cfg: cfg}
	m.paletteRGBA = cgbCompatSets[0]
	return m
}

// LoadCartridge wires a ROM image (and optional boot ROM) into a fresh
// Bus/CPU pair, replacing any previously loaded cartridge.
func (m *Machine) LoadCartridge(rom []byte, boot []byte) error {
	h, err := cart.ParseHeader(rom)
	if err != nil {
		return err
	}
	m.header = h
	m.rom = rom
	m.boot = boot

	b := bus.New(rom)
	c := cpu.New(b)
	if len(boot) > 0 {
		b.SetBootROM(boot)
		c.SetPC(0x0000)
	} else {
		c.ResetNoBoot()
		c.SetPC(0x0100)
	}
	m.bus = b
	m.cpu = c

	if id, ok := autoCompatPaletteFromHeader(h); ok {
		m.paletteRGBA = cgbCompatSets[id%len(cgbCompatSets)]
	}
	return nil
}

// ResetPostBoot reloads the current cartridge straight into its post-boot
// CPU state (PC=0x100), skipping the boot ROM even if one was supplied.
func (m *Machine) ResetPostBoot() {
	if m.rom == nil {
		return
	}
	_ = m.LoadCartridge(m.rom, nil)
}

// ResetWithBoot reloads the current cartridge through whatever boot ROM was
// last set via LoadCartridge/SetBootROM.
func (m *Machine) ResetWithBoot() {
	if m.rom == nil {
		return
	}
	_ = m.LoadCartridge(m.rom, m.boot)
}

// ROMTitle returns the cartridge header title, or "" if none is loaded.
func (m *Machine) ROMTitle() string {
	if m.header == nil {
		return ""
	}
	return m.header.Title
}

// LoadROMFromFile reads and loads the ROM at path, preserving whatever boot
// ROM is already configured, and records path for battery-save placement.
func (m *Machine) LoadROMFromFile(path string) error {
	rom, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := m.LoadCartridge(rom, m.boot); err != nil {
		return err
	}
	m.romPath = path
	return nil
}

// ROMPath returns the path most recently passed to LoadROMFromFile.
func (m *Machine) ROMPath() string { return m.romPath }

// SetBootROM overrides the boot ROM on an already-loaded machine. Must be
// called before the first StepFrame to take effect at reset.
func (m *Machine) SetBootROM(data []byte) {
	m.boot = data
	if m.bus == nil {
		return
	}
	m.bus.SetBootROM(data)
	if len(data) > 0 {
		m.cpu.SetPC(0x0000)
	}
}

// SetSerialWriter routes serial port output (used by the conformance test
// harness and by link-cable stubs) to w.
func (m *Machine) SetSerialWriter(w io.Writer) {
	if m.bus != nil {
		m.bus.SetSerialWriter(w)
	}
}

// SetButtons updates which joypad buttons are currently held.
func (m *Machine) SetButtons(b Buttons) { m.SetJoypadState(b.mask()) }

// SetJoypadState sets the raw active-high button bitmask directly (see the
// bus.Joyp* constants).
func (m *Machine) SetJoypadState(mask byte) {
	if m.bus != nil {
		m.bus.SetJoypadState(mask)
	}
}

// StepFrame runs the machine for exactly one video frame (70224 T-cycles)
// and leaves the PPU framebuffer holding that frame's pixels.
func (m *Machine) StepFrame() {
	if m.cpu == nil {
		return
	}
	total := 0
	for total < CyclesPerFrame {
		total += m.cpu.Step()
	}
}

// StepFrameNoRender runs one frame's worth of cycles without any special
// accommodation for display output; callers that only care about CPU/memory
// side effects (the conformance harness, battery RAM tests) can use this
// interchangeably with StepFrame.
func (m *Machine) StepFrameNoRender() { m.StepFrame() }

// Framebuffer returns the current frame as 160x144 palette indices (0..3).
func (m *Machine) Framebuffer() *[ppu.ScreenWidth * ppu.ScreenHeight]byte {
	if m.bus == nil {
		return nil
	}
	return m.bus.PPU().Framebuffer()
}

// FramebufferRGBA expands the palette-index framebuffer into a 160x144 RGBA
// image using the machine's selected DMG display palette.
func (m *Machine) FramebufferRGBA() []byte {
	fb := m.Framebuffer()
	out := make([]byte, ppu.ScreenWidth*ppu.ScreenHeight*4)
	if fb == nil {
		return out
	}
	for i, ci := range fb {
		c := m.paletteRGBA[ci&0x03]
		out[i*4+0] = c[0]
		out[i*4+1] = c[1]
		out[i*4+2] = c[2]
		out[i*4+3] = 0xFF
	}
	return out
}

// SetPaletteID selects one of the curated DMG display palettes by index,
// overriding any auto-detected choice.
func (m *Machine) SetPaletteID(id int) {
	if id < 0 || id >= len(cgbCompatSets) {
		return
	}
	m.paletteRGBA = cgbCompatSets[id]
}

// PaletteNames lists the selectable DMG display palettes, in SetPaletteID order.
func PaletteNames() []string { return cgbCompatSetNames }

// SaveBattery returns the cartridge's battery-backed RAM. ok is false if no
// cartridge is loaded or the cartridge has no battery-backed RAM.
func (m *Machine) SaveBattery() (data []byte, ok bool) {
	if m.bus == nil {
		return nil, false
	}
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok {
		return nil, false
	}
	return bb.SaveRAM(), true
}

// LoadBattery restores previously saved cartridge RAM. Reports whether the
// cartridge accepted it (false if no cartridge is loaded or it has no
// battery-backed RAM).
func (m *Machine) LoadBattery(data []byte) bool {
	if m.bus == nil {
		return false
	}
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok {
		return false
	}
	bb.LoadRAM(data)
	return true
}

// APUBufferedStereo reports how many stereo sample frames are currently
// buffered and ready to pull.
func (m *Machine) APUBufferedStereo() int {
	if m.bus == nil {
		return 0
	}
	return m.bus.APU().StereoAvailable()
}

// APUPullStereo pulls up to max stereo frames as interleaved int16 [L,R,...].
func (m *Machine) APUPullStereo(max int) []int16 {
	if m.bus == nil {
		return nil
	}
	return m.bus.APU().PullStereo(max)
}

// APUClearAudioLatency discards all buffered audio, used when the host
// transitions between paused/muted and playing states.
func (m *Machine) APUClearAudioLatency() {
	if m.bus != nil {
		m.bus.APU().ClearStereoBuffer()
	}
}

// APUCapBufferedStereo trims the buffered audio down to at most target
// frames, used to keep latency bounded during fast-forward.
func (m *Machine) APUCapBufferedStereo(target int) {
	if m.bus != nil {
		m.bus.APU().CapStereoBuffer(target)
	}
}

// CPU exposes the underlying CPU for tools (the conformance runner, trace
// dumping) that need direct register/bus access.
func (m *Machine) CPU() *cpu.CPU { return m.cpu }

// Bus exposes the underlying bus for the same reason.
func (m *Machine) Bus() *bus.Bus { return m.bus }

// Header returns the parsed cartridge header, or nil if none is loaded.
func (m *Machine) Header() *cart.Header { return m.header }
