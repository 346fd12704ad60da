package itch

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTag reports a tag byte outside the closed tag set.
	ErrUnknownTag = errors.New("unknown message tag")
	// ErrShortRecord reports a record whose canonical size overruns the
	// datagram.
	ErrShortRecord = errors.New("record overruns datagram")
)

// DecodeError reports where inside a datagram decoding stopped. The remainder
// of the datagram is discarded by the caller; records decoded before the
// error have already been observed by the sequencer.
type DecodeError struct {
	Tag    byte
	Offset int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode failed at offset %d (tag 0x%02x): %v", e.Offset, e.Tag, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// SequenceSink receives the sequence number of every decoded record. A
// non-nil error aborts the datagram and propagates to the ingress loop.
type SequenceSink interface {
	Observe(seq uint32) error
}

// Decoder walks datagram payloads and decodes records in place into reusable
// per-variant slots. A Decoder is owned by a single ingress goroutine; slots
// are borrowed by the record logger within one iteration and overwritten by
// the next record of the same variant.
type Decoder struct {
	seq SequenceSink
	log *RecordLogger

	trade     Trade
	executed  OrderExecuted
	withPrice OrderExecutedWithPrice
	system    SystemEvent
	cancelled OrderCancelled

	lastTimestamp uint64
}

// LastTimestamp reports the ns-since-midnight timestamp of the most recently
// decoded record, for latency sampling by the ingress loop.
func (d *Decoder) LastTimestamp() uint64 { return d.lastTimestamp }

// NewDecoder wires a decoder to its sequencer and record logger capabilities.
func NewDecoder(seq SequenceSink, log *RecordLogger) *Decoder {
	return &Decoder{seq: seq, log: log}
}

// Decode walks one datagram payload: read the tag at the cursor, decode the
// record, hand its sequence number to the sink and advance by the canonical
// size. Returns nil when the cursor lands exactly on len(payload), a
// DecodeError on an unknown tag or a record that would overrun the payload,
// or the sink's error verbatim.
func (d *Decoder) Decode(payload []byte) error {
	pos := 0
	for pos < len(payload) {
		tag := payload[pos]
		size, ok := MessageSize(tag)
		if !ok {
			return &DecodeError{Tag: tag, Offset: pos, Err: ErrUnknownTag}
		}
		if pos+size > len(payload) {
			return &DecodeError{Tag: tag, Offset: pos, Err: ErrShortRecord}
		}

		rec := payload[pos : pos+size]
		var seq uint32
		switch tag {
		case TagOrderAdd, TagTrade:
			seq = d.decodeTrade(rec)
		case TagOrderExecuted:
			seq = d.decodeOrderExecuted(rec)
		case TagOrderExecutedWithPrice:
			seq = d.decodeOrderExecutedWithPrice(rec)
		case TagSystemEvent:
			seq = d.decodeSystemEvent(rec)
		case TagOrderCancelled:
			seq = d.decodeOrderCancelled(rec)
		}

		if err := d.seq.Observe(seq); err != nil {
			return err
		}
		pos += size
	}
	return nil
}

func (d *Decoder) decodeCommon(rec []byte, h *CommonHeader, off *int) {
	h.Tag = readByte(rec, off)
	h.Timestamp = readTimestampBE(rec, off)
	h.SeqNum = readU32BE(rec, off)
	d.lastTimestamp = h.Timestamp
}

func (d *Decoder) decodeTrade(rec []byte) uint32 {
	m := &d.trade
	off := 0
	d.decodeCommon(rec, &m.CommonHeader, &off)
	m.OrderRef = readU64BE(rec, &off)
	m.Side = readByte(rec, &off)
	m.Shares = readU32BE(rec, &off)
	readASCII(rec, &off, m.Stock[:])
	m.Price = readU32BE(rec, &off)
	d.log.Trade(m)
	return m.SeqNum
}

func (d *Decoder) decodeOrderExecuted(rec []byte) uint32 {
	m := &d.executed
	off := 0
	d.decodeCommon(rec, &m.CommonHeader, &off)
	m.OrderRef = readU64BE(rec, &off)
	m.ExecutedShares = readU32BE(rec, &off)
	d.log.OrderExecuted(m)
	return m.SeqNum
}

func (d *Decoder) decodeOrderExecutedWithPrice(rec []byte) uint32 {
	m := &d.withPrice
	off := 0
	d.decodeCommon(rec, &m.CommonHeader, &off)
	m.OrderRef = readU64BE(rec, &off)
	m.ExecutedShares = readU32BE(rec, &off)
	m.Printable = readByte(rec, &off)
	m.ExecutedPrice = readU32BE(rec, &off)
	d.log.OrderExecutedWithPrice(m)
	return m.SeqNum
}

func (d *Decoder) decodeSystemEvent(rec []byte) uint32 {
	m := &d.system
	off := 0
	d.decodeCommon(rec, &m.CommonHeader, &off)
	m.EventCode = readByte(rec, &off)
	d.log.SystemEvent(m)
	return m.SeqNum
}

func (d *Decoder) decodeOrderCancelled(rec []byte) uint32 {
	m := &d.cancelled
	off := 0
	d.decodeCommon(rec, &m.CommonHeader, &off)
	m.OrderRef = readU64BE(rec, &off)
	m.CancelledShares = readU32BE(rec, &off)
	d.log.OrderCancelled(m)
	return m.SeqNum
}
