package chain

import "fmt"

// NotificationType identifies a chain event.
type NotificationType int

const (
	// NTBlockConnected: a block was attached to the active chain.
	NTBlockConnected NotificationType = iota

	// NTBlockDisconnected: the tip block was detached from the active chain.
	NTBlockDisconnected

	// NTReorganization: the active chain switched branches. Sent after all
	// connect and disconnect notifications of the switch.
	NTReorganization
)

var notificationTypeStrings = map[NotificationType]string{
	NTBlockConnected:    "NTBlockConnected",
	NTBlockDisconnected: "NTBlockDisconnected",
	NTReorganization:    "NTReorganization",
}

func (n NotificationType) String() string {
	if s, ok := notificationTypeStrings[n]; ok {
		return s
	}
	return fmt.Sprintf("Unknown Notification Type (%d)", int(n))
}

// Notification is delivered synchronously while the caller of the manager
// holds its lock. Handlers must not call back into the manager's owner.
type Notification struct {
	Type  NotificationType
	Node  *BlockIndex
	Block *Block

	// Set for NTReorganization.
	OldTip *BlockIndex
	Depth  uint32
}
