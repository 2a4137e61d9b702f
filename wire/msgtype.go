package wire

// MsgType is the 16-bit message type code carried in every PD/MD header.
type MsgType uint16

// Message type codes, from the protocol's wire format table.
const (
	MsgPD        MsgType = 0x5064 // Pd - process data
	MsgPDPull    MsgType = 0x5070 // Pp - PD pull reply
	MsgPDRequest MsgType = 0x5072 // Pr - PD request
	MsgPDError   MsgType = 0x5065 // Pe - PD error

	MsgMDNotify        MsgType = 0x4D6E // Mn
	MsgMDRequest       MsgType = 0x4D72 // Mr
	MsgMDReply         MsgType = 0x4D70 // Mp
	MsgMDReplyConfirm  MsgType = 0x4D71 // Mq - reply with confirm request
	MsgMDConfirm       MsgType = 0x4D63 // Mc
	MsgMDError         MsgType = 0x4D65 // Me
)

func (t MsgType) String() string {
	switch t {
	case MsgPD:
		return "Pd"
	case MsgPDPull:
		return "Pp"
	case MsgPDRequest:
		return "Pr"
	case MsgPDError:
		return "Pe"
	case MsgMDNotify:
		return "Mn"
	case MsgMDRequest:
		return "Mr"
	case MsgMDReply:
		return "Mp"
	case MsgMDReplyConfirm:
		return "Mq"
	case MsgMDConfirm:
		return "Mc"
	case MsgMDError:
		return "Me"
	default:
		return "??"
	}
}

// IsMD reports whether t is one of the MD message types.
func (t MsgType) IsMD() bool {
	switch t {
	case MsgMDNotify, MsgMDRequest, MsgMDReply, MsgMDReplyConfirm, MsgMDConfirm, MsgMDError:
		return true
	}
	return false
}

// Protocol versions understood by this implementation.
const (
	ProtocolVersion1   uint16 = 0x0100
	ProtocolVersionSvc uint16 = 0x0101 // adds service-id support
)

// Default UDP ports for the PD and MD transports.
const (
	DefaultPDPort = 17224
	DefaultMDPort = 17225
)

// MaxPDDatasetLength is the maximum payload length for a standard PD frame.
const MaxPDDatasetLength = 1432

// DefaultMaxMDDatasetLength is the default payload ceiling for MD frames.
// Unlike PD, MD dataset size is implementation-defined and configurable;
// this is the default a session uses when it isn't overridden.
const DefaultMaxMDDatasetLength = 65536
