package vdi

// FormatName is the driver's registration name, matching spec §6.
const FormatName = "vdi"

// Option names accepted by Create, mirroring the teacher's
// map[string]any option bag (sswastik02-go-qcow2lib's OPT_SIZE /
// OPT_BACKING constants) narrowed to what spec §6 declares for vdi.
const (
	OptSize   = "size"
	OptStatic = "static"
)

// Probe implements spec §4.2: given at least the first 64+ bytes of a
// candidate file, it returns a strong positive match score (100) if the
// VDI signature decodes at its fixed offset, 0 otherwise. It performs
// no side effects and does not open the file.
func Probe(buf []byte) int {
	if probeSignature(buf) {
		return 100
	}
	return 0
}

// Driver exposes the vdi operations to a surrounding block-layer
// framework, as a function-pointer table in the shape of the teacher's
// BlockDriver (newQcow2Driver's bdrv_* vtable). A real framework would
// hold one Driver per registered format name and dispatch through it;
// this module is usable directly through the exported Image methods
// too, the vtable exists to document and pin the calling contract spec
// §6 promises.
type Driver struct {
	FormatName string

	Probe  func(buf []byte) int
	Create func(path string, opts CreateOptions) error
	Open   func(path string, flags int) (*Image, error)
	Close  func(img *Image) error
	Flush  func(img *Image) error
	Check  func(img *Image) CheckResult

	// MakeEmpty is currently a no-op, matching spec §6 ("make-empty
	// (currently a no-op)") — a dynamic image's sparseness already
	// means there is nothing to do to re-empty it, and the spec does
	// not define zero-block deallocation (out of scope, §1).
	MakeEmpty func(img *Image) error
}

// NewDriver returns the registered "vdi" driver.
func NewDriver() *Driver {
	return &Driver{
		FormatName: FormatName,
		Probe:      Probe,
		Create:     Create,
		Open:       Open,
		Close:      func(img *Image) error { return img.Close() },
		Flush:      func(img *Image) error { return img.Flush() },
		Check:      func(img *Image) CheckResult { return img.Check() },
		MakeEmpty:  func(img *Image) error { return nil },
	}
}
