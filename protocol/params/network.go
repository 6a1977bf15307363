package params

import "fmt"

// Network identifies which parameter set a node runs with.
type Network uint8

const (
	MainNet Network = iota
	TestNet
	RegTest
)

func (n Network) String() string {
	switch n {
	case MainNet:
		return "mainnet"
	case TestNet:
		return "testnet"
	case RegTest:
		return "regtest"
	default:
		return fmt.Sprintf("network(%d)", uint8(n))
	}
}

// NetworkID is a public identifier used as a domain separator, e.g. in the
// coinbase sender field.
func (n Network) NetworkID() string {
	return "powledger_" + n.String()
}
