package payment

// IDGenerator issues correlation identifiers for accepted payment requests.
type IDGenerator interface {
	NewID() string
}
