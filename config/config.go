// Package config holds the plain configuration surface consumed by the
// ccd package. It carries no file-parsing or flag-decoding logic of its
// own (that lives in cmd/pspemu); it only describes the shape of the
// settings a CCD is assembled from, mirroring PSPEMUCFG from the AMD
// PSP emulator this core is modeled on.
package config

// Mode selects what the emulated PSP believes it is running as.
type Mode int

const (
	ModeInvalid Mode = iota
	ModeApp
	ModeSystem
	ModeSystemOnChipBl
)

// MicroArch selects the Zen generation being emulated.
type MicroArch int

const (
	MicroArchInvalid MicroArch = iota
	MicroArchZen
	MicroArchZenPlus
	MicroArchZen2
)

// CPUSegment selects the product segment being emulated.
type CPUSegment int

const (
	CPUSegmentInvalid CPUSegment = iota
	CPUSegmentRyzen
	CPUSegmentRyzenPro
	CPUSegmentThreadripper
	CPUSegmentEpyc
)

// AcpiState selects the ACPI sleep state the platform boots into.
type AcpiState int

const (
	AcpiStateInvalid AcpiState = iota
	AcpiStateS0
	AcpiStateS1
	AcpiStateS2
	AcpiStateS3
	AcpiStateS4
	AcpiStateS5
)

// Config is the full set of inputs a CCD is assembled from. Byte
// slices (flash ROM image, on-chip bootloader, preloaded app, boot ROM
// service page) are provided already loaded into memory; loading them
// from disk is a cmd/pspemu concern, not this package's.
type Config struct {
	Mode       Mode
	MicroArch  MicroArch
	CPUSegment CPUSegment
	AcpiState  AcpiState

	FlashRom        []byte
	OnChipBl        []byte
	BinLoad         []byte
	BootRomSvcPage  []byte
	AppPreload      []byte
	BinContainsHdr  bool
	LoadPspDir      bool
	DebugMode       bool
	InterceptSvc6   bool
	TraceSvcs       bool
	TimerRealtime   bool
	DebugPort       uint16

	ProxyAddr string
	TraceLog  string

	Sockets      uint32
	CcdsPerSocket uint32

	// Devs names the MMIO device descriptors (by emu/devreg.Descriptor
	// name) to instantiate on this CCD. Individual device model
	// implementations are out of scope; this is just the selection
	// list.
	Devs []string
}
