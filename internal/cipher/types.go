package cipher

// Family groups transforms by the kind of obfuscation they undo.
type Family string

const (
	FamilyIdentity Family = "identity"
	FamilyCharset  Family = "charset"
	FamilyBitwise  Family = "bitwise"
	FamilyShift    Family = "shift"
	FamilyXOR      Family = "xor"
	FamilyRotate   Family = "rotate"
	FamilyEncoding Family = "encoding"
)

// Transform decodes a byte span into candidate text.
type Transform interface {
	// Name returns the unique identifier recorded on hits
	Name() string

	// Family returns the category of this transform
	Family() Family

	// Description returns a human-readable description
	Description() string

	// Decode applies the transform. ok is false only when the input cannot
	// be decoded at all.
	Decode(input []byte) (text string, ok bool)
}

// BaseTransform provides common functionality for transforms
type BaseTransform struct {
	NameValue        string
	FamilyValue      Family
	DescriptionValue string
}

func (b *BaseTransform) Name() string {
	return b.NameValue
}

func (b *BaseTransform) Family() Family {
	return b.FamilyValue
}

func (b *BaseTransform) Description() string {
	return b.DescriptionValue
}

// Info is the serialisable summary of a transform.
type Info struct {
	Name        string `json:"name"`
	Family      Family `json:"family"`
	Description string `json:"description"`
}

// Describe summarises tr.
func Describe(tr Transform) Info {
	return Info{Name: tr.Name(), Family: tr.Family(), Description: tr.Description()}
}
