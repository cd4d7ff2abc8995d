package schema

// Base is embedded by concrete schema structs to satisfy the Schema
// interface with a neutral default rendering.
type Base struct{}

// String implements Schema interface
func (b Base) String() string {
	return ""
}
