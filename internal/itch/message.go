package itch

// Message type tags. The tag is the first byte of every record and determines
// both the variant and its canonical wire size.
const (
	TagOrderAdd               = 'A'
	TagTrade                  = 'P'
	TagOrderExecuted          = 'E'
	TagOrderExecutedWithPrice = 'X'
	TagSystemEvent            = 'S'
	TagOrderCancelled         = 'C'
)

// Canonical record sizes in bytes. Records are not self-delimiting, so these
// sizes are the single source of truth used to advance the read cursor within
// a datagram. The replay sender and the tests use the same table.
const (
	SizeOrderAdd               = 36
	SizeTrade                  = 36
	SizeOrderExecuted          = 23
	SizeOrderExecutedWithPrice = 28
	SizeSystemEvent            = 12
	SizeOrderCancelled         = 23
)

// MessageSize returns the canonical size for a tag, or ok=false for an
// unknown tag.
func MessageSize(tag byte) (int, bool) {
	switch tag {
	case TagOrderAdd:
		return SizeOrderAdd, true
	case TagTrade:
		return SizeTrade, true
	case TagOrderExecuted:
		return SizeOrderExecuted, true
	case TagOrderExecutedWithPrice:
		return SizeOrderExecutedWithPrice, true
	case TagSystemEvent:
		return SizeSystemEvent, true
	case TagOrderCancelled:
		return SizeOrderCancelled, true
	default:
		return 0, false
	}
}

// System event codes.
const (
	EventMarketOpen  = 'O'
	EventMarketClose = 'C'
)

// CommonHeader is the fixed prefix shared by every record: one tag byte, a
// 6-byte big-endian timestamp (nanoseconds since midnight, zero-extended to
// 64 bits) and a 4-byte big-endian sequence number.
type CommonHeader struct {
	Tag       byte
	Timestamp uint64
	SeqNum    uint32
}

// Trade is the layout shared by order-add ('A') and trade ('P') records; the
// header tag distinguishes the two.
type Trade struct {
	CommonHeader
	OrderRef uint64
	Side     byte // 'B' or 'S'
	Shares   uint32
	Stock    [8]byte // ASCII, space padded, not trimmed
	Price    uint32
}

// OrderExecuted is the 'E' record.
type OrderExecuted struct {
	CommonHeader
	OrderRef       uint64
	ExecutedShares uint32
}

// OrderExecutedWithPrice is the 'X' record.
type OrderExecutedWithPrice struct {
	CommonHeader
	OrderRef       uint64
	ExecutedShares uint32
	Printable      byte // 'Y' or 'N'
	ExecutedPrice  uint32
}

// SystemEvent is the 'S' record.
type SystemEvent struct {
	CommonHeader
	EventCode byte
}

// OrderCancelled is the 'C' record.
type OrderCancelled struct {
	CommonHeader
	OrderRef        uint64
	CancelledShares uint32
}
